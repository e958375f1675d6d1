package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[drive]
drive_id = "b!abc"
site = "contoso.sharepoint.com:/sites/eng"
base_url = "https://graph.example.test/v1.0"

[auth]
method = "client_secret"
account = "work"
tenant_id = "tenant"
client_id = "client"
client_secret = "s3cret"
token_dir = "/tmp/tokens"

[cache]
metadata_ttl = "1m"
read_block_size = "1MiB"
read_cache_size = "32MiB"

[transfers]
chunk_size = "20MiB"
small_file_threshold = "1MiB"
parallel = 8

[network]
max_retries = 3
connect_timeout = "5s"
data_timeout = "2m"
user_agent = "tester/1.0"

[safety]
use_recycle_bin = false

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "b!abc", cfg.Drive.DriveID)
	assert.Equal(t, "contoso.sharepoint.com:/sites/eng", cfg.Drive.Site)
	assert.Equal(t, "https://graph.example.test/v1.0", cfg.Drive.BaseURL)
	assert.Equal(t, AuthClientSecret, cfg.Auth.Method)
	assert.Equal(t, "work", cfg.Auth.Account)
	assert.Equal(t, "1m", cfg.Cache.MetadataTTL)
	assert.Equal(t, "20MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, 8, cfg.Transfers.Parallel)
	assert.Equal(t, 3, cfg.Network.MaxRetries)
	assert.False(t, cfg.Safety.UseRecycleBin)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
parallel = 2
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Transfers.Parallel)
	assert.Equal(t, defaultChunkSize, cfg.Transfers.ChunkSize)
	assert.Equal(t, defaultBaseURL, cfg.Drive.BaseURL)
	assert.True(t, cfg.Safety.UseRecycleBin)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `[drive`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_UnknownKeyWithSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
chunk_sise = "10MiB"
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "chunk_size"`)
}

func TestLoad_ValidationErrorsAreJoined(t *testing.T) {
	path := writeTestConfig(t, `
[transfers]
chunk_size = "1000"
parallel = 99

[logging]
log_level = "loud"
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transfers.chunk_size")
	assert.Contains(t, err.Error(), "transfers.parallel")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Defaults(t *testing.T) {
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, defaultBaseURL, r.BaseURL)
	assert.Equal(t, AuthDevice, r.AuthMethod)
	assert.Equal(t, "default", r.Account)
	assert.Equal(t, 30*time.Second, r.MetadataTTL)
	assert.Equal(t, int64(10*mebibyte), r.ChunkSize)
	assert.Equal(t, int64(4*mebibyte), r.SmallFileThreshold)
	assert.Equal(t, int64(4*mebibyte), r.ReadBlockSize)
	assert.Equal(t, int64(64*mebibyte), r.ReadCacheSize)
	assert.Equal(t, 4, r.Parallel)
	assert.Equal(t, 5, r.MaxRetries)
	assert.Equal(t, 10*time.Second, r.ConnectTimeout)
	assert.Equal(t, time.Minute, r.DataTimeout)
	assert.True(t, r.UseRecycleBin)
	assert.NotEmpty(t, r.TokenDir)
}

func TestResolve_OverrideOrder(t *testing.T) {
	path := writeTestConfig(t, `
[drive]
drive_id = "from-file"

[auth]
account = "file-account"
token_dir = "/tmp/tok"
`)

	env := EnvOverrides{ConfigPath: "/does/not/matter", Account: "env-account", DriveID: "from-env"}

	r, err := Resolve(env, CLIOverrides{ConfigPath: path, Account: "cli-account"}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, path, r.ConfigPath)
	assert.Equal(t, "cli-account", r.Account)
	assert.Equal(t, "from-env", r.DriveID)
	assert.Equal(t, "/tmp/tok", r.TokenDir)
}

func TestResolve_Site(t *testing.T) {
	path := writeTestConfig(t, `
[drive]
site = " contoso.sharepoint.com:/sites/eng "

[auth]
token_dir = "/tmp/tok"
`)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "contoso.sharepoint.com:/sites/eng", r.Site)
	assert.Empty(t, r.DriveID)
}

func TestResolve_EnvConfigPath(t *testing.T) {
	path := writeTestConfig(t, `
[auth]
token_dir = "/tmp/tok"

[safety]
use_recycle_bin = false
`)

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{}, testLogger())
	require.NoError(t, err)
	assert.False(t, r.UseRecycleBin)
}

func TestResolve_ClientSecretFromEnv(t *testing.T) {
	path := writeTestConfig(t, `
[auth]
method = "client_secret"
tenant_id = "t"
client_id = "c"
`)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.client_secret")

	r, err := Resolve(EnvOverrides{ClientSecret: "s"}, CLIOverrides{ConfigPath: path}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "s", r.ClientSecret)
}

func TestResolve_ZeroTTL(t *testing.T) {
	path := writeTestConfig(t, `
[auth]
token_dir = "/tmp/tok"

[cache]
metadata_ttl = "0s"
`)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger())
	require.NoError(t, err)
	assert.Zero(t, r.MetadataTTL)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "tokens"), expandTilde("~/tokens"))
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
	assert.Equal(t, "~user/x", expandTilde("~user/x"))
}
