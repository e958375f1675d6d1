package driveops

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/graphfs/pkg/quickxorhash"
)

// ErrHashMismatch reports content whose QuickXorHash differs from the one
// the drive recorded.
var ErrHashMismatch = errors.New("driveops: content hash mismatch")

// ComputeQuickXorHash computes the QuickXorHash of a file and returns the
// base64-encoded digest. Uses streaming I/O (constant memory).
func ComputeQuickXorHash(fsPath string) (string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	sum, err := quickxorhash.Sum64(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", fsPath, err)
	}

	return sum, nil
}

// VerifyHash compares a local digest with the remote one. An empty remote
// hash (some business drives omit it for certain files) skips the check.
func VerifyHash(local, remote string) error {
	if remote == "" || local == remote {
		return nil
	}

	return fmt.Errorf("%w: local %s, remote %s", ErrHashMismatch, local, remote)
}
