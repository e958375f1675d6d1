package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads, parses and validates a TOML config file. Unknown keys are
// fatal and reported with "did you mean" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config loaded", slog.String("path", path))

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve applies the override chain defaults -> config file -> environment
// -> CLI flags and returns validated, parsed settings.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, env, cli)

	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	r.ConfigPath = cfgPath

	if err := ValidateResolved(r); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("config_path", cfgPath),
		slog.String("account", r.Account),
		slog.String("drive_id", r.DriveID),
		slog.String("auth_method", r.AuthMethod),
	)

	return r, nil
}

func applyOverrides(cfg *Config, env EnvOverrides, cli CLIOverrides) {
	if env.Account != "" {
		cfg.Auth.Account = env.Account
	}

	if env.DriveID != "" {
		cfg.Drive.DriveID = env.DriveID
	}

	if env.ClientSecret != "" {
		cfg.Auth.ClientSecret = env.ClientSecret
	}

	if cli.Account != "" {
		cfg.Auth.Account = cli.Account
	}

	if cli.DriveID != "" {
		cfg.Drive.DriveID = cli.DriveID
	}
}

// resolve converts a validated Config into parsed settings.
func resolve(cfg *Config) (*Resolved, error) {
	var errs []error

	size := func(key, s string) int64 {
		n, err := ParseSize(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}

		return n
	}

	duration := func(key, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}

		return d
	}

	tokenDir := cfg.Auth.TokenDir
	if tokenDir == "" {
		tokenDir = DefaultTokenDir()
	}

	r := &Resolved{
		DriveID:            cfg.Drive.DriveID,
		Site:               strings.TrimSpace(cfg.Drive.Site),
		BaseURL:            strings.TrimRight(cfg.Drive.BaseURL, "/"),
		AuthMethod:         cfg.Auth.Method,
		Account:            cfg.Auth.Account,
		TenantID:           cfg.Auth.TenantID,
		ClientID:           cfg.Auth.ClientID,
		ClientSecret:       cfg.Auth.ClientSecret,
		TokenDir:           expandTilde(tokenDir),
		MetadataTTL:        duration("cache.metadata_ttl", cfg.Cache.MetadataTTL),
		ReadBlockSize:      size("cache.read_block_size", cfg.Cache.ReadBlockSize),
		ReadCacheSize:      size("cache.read_cache_size", cfg.Cache.ReadCacheSize),
		ChunkSize:          size("transfers.chunk_size", cfg.Transfers.ChunkSize),
		SmallFileThreshold: size("transfers.small_file_threshold", cfg.Transfers.SmallFileThreshold),
		Parallel:           cfg.Transfers.Parallel,
		MaxRetries:         cfg.Network.MaxRetries,
		ConnectTimeout:     duration("network.connect_timeout", cfg.Network.ConnectTimeout),
		DataTimeout:        duration("network.data_timeout", cfg.Network.DataTimeout),
		UserAgent:          cfg.Network.UserAgent,
		UseRecycleBin:      cfg.Safety.UseRecycleBin,
		LogLevel:           cfg.Logging.LogLevel,
		LogFormat:          cfg.Logging.LogFormat,
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return r, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
