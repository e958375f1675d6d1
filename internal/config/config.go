// Package config implements TOML configuration loading and validation for
// graphfs. Settings pass through a four-layer override chain: defaults ->
// config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level structure parsed from the TOML file. Each field
// is one table of the file.
type Config struct {
	Drive     DriveConfig     `toml:"drive"`
	Auth      AuthConfig      `toml:"auth"`
	Cache     CacheConfig     `toml:"cache"`
	Transfers TransfersConfig `toml:"transfers"`
	Network   NetworkConfig   `toml:"network"`
	Safety    SafetyConfig    `toml:"safety"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DriveConfig selects the drive and API endpoint. An empty drive_id means
// the signed-in user's default drive, or the document library of site when
// site is set. site is "host:/sites/name", or a bare host for the root site.
type DriveConfig struct {
	DriveID string `toml:"drive_id"`
	Site    string `toml:"site"`
	BaseURL string `toml:"base_url"`
}

// AuthConfig selects how bearer tokens are obtained. "device" uses the
// device code flow with tokens stored under token_dir; "client_secret" uses
// app-only credentials of an Entra ID application.
type AuthConfig struct {
	Method       string `toml:"method"`
	Account      string `toml:"account"`
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenDir     string `toml:"token_dir"`
}

// CacheConfig controls the metadata cache and the read block cache.
type CacheConfig struct {
	MetadataTTL   string `toml:"metadata_ttl"`
	ReadBlockSize string `toml:"read_block_size"`
	ReadCacheSize string `toml:"read_cache_size"`
}

// TransfersConfig controls uploads and parallel deletes.
// chunk_size must be a multiple of 320 KiB per the upload session API.
type TransfersConfig struct {
	ChunkSize          string `toml:"chunk_size"`
	SmallFileThreshold string `toml:"small_file_threshold"`
	Parallel           int    `toml:"parallel"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	MaxRetries     int    `toml:"max_retries"`
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// SafetyConfig controls destructive operations.
type SafetyConfig struct {
	UseRecycleBin bool `toml:"use_recycle_bin"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath string // --config
	Account    string // --account
	DriveID    string // --drive
}

// Resolved is the final configuration with sizes and durations parsed.
type Resolved struct {
	ConfigPath string

	DriveID string
	Site    string
	BaseURL string

	AuthMethod   string
	Account      string
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenDir     string

	// MetadataTTL of zero disables metadata caching.
	MetadataTTL   time.Duration
	ReadBlockSize int64
	ReadCacheSize int64

	ChunkSize          int64
	SmallFileThreshold int64
	Parallel           int

	MaxRetries     int
	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	UserAgent      string

	UseRecycleBin bool

	LogLevel  string
	LogFormat string
}
