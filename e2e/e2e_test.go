//go:build e2e

// Package e2e drives the built graphfs binary against a live drive. It runs
// only when GRAPHFS_CONFIG points at a config for a signed-in account.
package e2e

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	binaryPath string
	configPath string
)

func TestMain(m *testing.M) {
	configPath = os.Getenv("GRAPHFS_CONFIG")
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "GRAPHFS_CONFIG not set, skipping e2e tests")
		os.Exit(0)
	}

	tmpDir, err := os.MkdirTemp("", "graphfs-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "graphfs")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = findModuleRoot()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// findModuleRoot walks up from the current dir to find go.mod.
func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ".."
		}

		dir = parent
	}
}

func command(args ...string) *exec.Cmd {
	return exec.Command(binaryPath, append([]string{"--config", configPath}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := tryCLI(args...)
	if err != nil {
		t.Fatalf("graphfs %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func tryCLI(args ...string) (string, string, error) {
	cmd := command(args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// scratchFolder returns a unique folder path that is removed when the test ends.
func scratchFolder(t *testing.T, prefix string) string {
	t.Helper()

	folder := fmt.Sprintf("/graphfs-e2e-%s-%d", prefix, time.Now().UnixNano())

	t.Cleanup(func() {
		_ = command("rm", "-r", folder).Run()
	})

	return folder
}

func writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestE2E_RoundTrip(t *testing.T) {
	folder := scratchFolder(t, "rt")
	content := []byte("Hello from the graphfs E2E test!\n")

	t.Run("mkdir_parents", func(t *testing.T) {
		_, stderr := runCLI(t, "mkdir", "-p", folder+"/sub")
		assert.Contains(t, stderr, "Created")
	})

	t.Run("put", func(t *testing.T) {
		_, stderr := runCLI(t, "put", writeLocal(t, "test.txt", content), folder)
		assert.Contains(t, stderr, "Uploaded")
	})

	t.Run("ls", func(t *testing.T) {
		stdout, _ := runCLI(t, "ls", folder)
		assert.Contains(t, stdout, "test.txt")
		assert.Contains(t, stdout, "sub/")
	})

	t.Run("stat_json", func(t *testing.T) {
		stdout, _ := runCLI(t, "--json", "stat", folder+"/test.txt")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.InDelta(t, len(content), out["size"], 0)
		assert.NotEmpty(t, out["quick_xor_hash"])
	})

	t.Run("cat", func(t *testing.T) {
		stdout, _ := runCLI(t, "cat", folder+"/test.txt")
		assert.Equal(t, string(content), stdout)
	})

	t.Run("get", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "downloaded.txt")

		_, stderr := runCLI(t, "get", folder+"/test.txt", local)
		assert.Contains(t, stderr, "Downloaded")

		got, err := os.ReadFile(local)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("mv_into_folder", func(t *testing.T) {
		runCLI(t, "mv", folder+"/test.txt", folder+"/sub")

		stdout, _ := runCLI(t, "ls", folder+"/sub")
		assert.Contains(t, stdout, "test.txt")
	})

	t.Run("cp", func(t *testing.T) {
		runCLI(t, "cp", folder+"/sub/test.txt", folder+"/copy.txt")

		stdout, _ := runCLI(t, "cat", folder+"/copy.txt")
		assert.Equal(t, string(content), stdout)
	})

	t.Run("rm_non_empty_needs_recursive", func(t *testing.T) {
		_, stderr, err := tryCLI("rm", folder+"/sub")
		require.Error(t, err)
		assert.Contains(t, stderr, "not empty")

		runCLI(t, "rm", "-r", folder+"/sub")
	})

	t.Run("stat_removed", func(t *testing.T) {
		_, _, err := tryCLI("stat", folder+"/sub")
		assert.Error(t, err)
	})
}

func TestE2E_LargeFileChunkedUpload(t *testing.T) {
	folder := scratchFolder(t, "large")
	runCLI(t, "mkdir", folder)

	// Above the small-upload threshold so an upload session is used.
	data := make([]byte, 5*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	runCLI(t, "put", writeLocal(t, "large.bin", data), folder)

	local := filepath.Join(t.TempDir(), "large.bin")
	runCLI(t, "get", "--strict-hash", folder+"/large.bin", local)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestE2E_UnusualNames(t *testing.T) {
	folder := scratchFolder(t, "names")
	runCLI(t, "mkdir", folder)

	for _, name := range []string{"with spaces.txt", "ünïcödé.txt", "日本語.txt"} {
		t.Run(name, func(t *testing.T) {
			runCLI(t, "put", writeLocal(t, "src.txt", []byte(name)), folder+"/"+name)

			stdout, _ := runCLI(t, "cat", folder+"/"+name)
			assert.Equal(t, name, stdout)
		})
	}
}

func TestE2E_TouchAndConcurrentRm(t *testing.T) {
	folder := scratchFolder(t, "touch")
	runCLI(t, "mkdir", folder)

	paths := make([]string, 4)
	for i := range paths {
		paths[i] = fmt.Sprintf("%s/f%d.txt", folder, i)
	}

	var wg sync.WaitGroup

	errs := make([]error, len(paths))
	for i, p := range paths {
		wg.Add(1)

		go func() {
			defer wg.Done()
			_, _, errs[i] = tryCLI("touch", p)
		}()
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	_, stderr := runCLI(t, append([]string{"rm"}, paths...)...)
	assert.Contains(t, stderr, "Deleted 4 item(s)")

	stdout, _ := runCLI(t, "ls", folder)
	for _, p := range paths {
		assert.NotContains(t, stdout, filepath.Base(p))
	}
}
