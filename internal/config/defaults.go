package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultBaseURL            = "https://graph.microsoft.com/v1.0"
	defaultAuthMethod         = AuthDevice
	defaultAccount            = "default"
	defaultMetadataTTL        = "30s"
	defaultReadBlockSize      = "4MiB"
	defaultReadCacheSize      = "64MiB"
	defaultChunkSize          = "10MiB"
	defaultSmallFileThreshold = "4MiB"
	defaultParallel           = 4
	defaultMaxRetries         = 5
	defaultConnectTimeout     = "10s"
	defaultDataTimeout        = "60s"
	defaultUserAgent          = "graphfs/0.1"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
)

// Authentication methods.
const (
	AuthDevice       = "device"
	AuthClientSecret = "client_secret"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Drive: DriveConfig{
			BaseURL: defaultBaseURL,
		},
		Auth: AuthConfig{
			Method:  defaultAuthMethod,
			Account: defaultAccount,
		},
		Cache: CacheConfig{
			MetadataTTL:   defaultMetadataTTL,
			ReadBlockSize: defaultReadBlockSize,
			ReadCacheSize: defaultReadCacheSize,
		},
		Transfers: TransfersConfig{
			ChunkSize:          defaultChunkSize,
			SmallFileThreshold: defaultSmallFileThreshold,
			Parallel:           defaultParallel,
		},
		Network: NetworkConfig{
			MaxRetries:     defaultMaxRetries,
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			UserAgent:      defaultUserAgent,
		},
		Safety: SafetyConfig{
			UseRecycleBin: true,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
