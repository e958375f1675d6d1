// Package quickxorhash implements QuickXorHash, the content hash OneDrive
// reports for files in every drive type.
//
// Each input byte is XORed into a 160-bit circular buffer at a bit offset
// that advances by 11 per byte. The digest is the buffer with the total
// input length XORed into its final 8 bytes, little-endian.
package quickxorhash

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
	"io"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
)

type digest struct {
	buf    [Size]byte
	bitPos int
	length uint64
}

// New returns a new hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// Write always returns len(p), nil.
func (d *digest) Write(p []byte) (int, error) {
	pos := d.bitPos

	for _, b := range p {
		idx, off := pos/8, uint(pos%8) //nolint:mnd // bits per byte
		v := uint16(b) << off

		d.buf[idx] ^= byte(v)
		if off != 0 {
			d.buf[(idx+1)%Size] ^= byte(v >> 8) //nolint:mnd // high byte
		}

		pos += shift
		if pos >= widthInBits {
			pos -= widthInBits
		}
	}

	d.bitPos = pos
	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the current hash to b. It does not change the hash state.
func (d *digest) Sum(b []byte) []byte {
	out := d.buf

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], d.length)

	for i, lb := range n {
		out[Size-len(n)+i] ^= lb
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() { *d = digest{} }

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }

// Sum64 returns the base64-encoded QuickXorHash of everything read from r,
// the form the Graph API uses in file hash facets.
func Sum64(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
