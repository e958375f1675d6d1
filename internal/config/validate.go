package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation limits.
const (
	chunkAlignBytes       = 327_680    // 320 KiB
	maxChunkBytes         = 62_914_560 // 60 MiB
	maxSmallFileThreshold = 4_194_304  // 4 MiB, the simple upload limit
	minParallel           = 1
	maxParallel           = 16
	maxRetriesLimit       = 10
	minConnectTimeout     = 1 * time.Second
	minDataTimeout        = 5 * time.Second
)

var (
	validAuthMethods = map[string]bool{AuthDevice: true, AuthClientSecret: true}
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks every configuration value and returns all problems found
// joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold once environment and
// CLI overrides have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.Account == "" {
		errs = append(errs, errors.New("auth.account: must not be empty"))
	}

	if r.AuthMethod == AuthClientSecret {
		if r.TenantID == "" {
			errs = append(errs, errors.New("auth.tenant_id: required for client_secret auth"))
		}

		if r.ClientID == "" {
			errs = append(errs, errors.New("auth.client_id: required for client_secret auth"))
		}

		if r.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("auth.client_secret: required for client_secret auth (or set %s)", EnvClientSecret))
		}
	}

	if r.AuthMethod == AuthDevice && r.TokenDir == "" {
		errs = append(errs, errors.New("auth.token_dir: cannot determine a default, set it explicitly"))
	}

	return errors.Join(errs...)
}

func validateDrive(d *DriveConfig) []error {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return []error{fmt.Errorf("drive.base_url: %w", err)}
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return []error{fmt.Errorf("drive.base_url: must be an absolute http(s) URL, got %q", d.BaseURL)}
	}

	if d.Site != "" {
		host, rel, _ := strings.Cut(strings.TrimSpace(d.Site), ":")
		if host == "" || strings.Contains(host, "/") || strings.HasPrefix(rel, "//") {
			return []error{fmt.Errorf("drive.site: must be host or host:/path, got %q", d.Site)}
		}
	}

	return nil
}

func validateAuth(a *AuthConfig) []error {
	if !validAuthMethods[a.Method] {
		return []error{fmt.Errorf("auth.method: must be %q or %q, got %q", AuthDevice, AuthClientSecret, a.Method)}
	}

	return nil
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if ttl, err := time.ParseDuration(c.MetadataTTL); err != nil {
		errs = append(errs, fmt.Errorf("cache.metadata_ttl: %w", err))
	} else if ttl < 0 {
		errs = append(errs, fmt.Errorf("cache.metadata_ttl: must not be negative, got %s", c.MetadataTTL))
	}

	block, blockErr := ParseSize(c.ReadBlockSize)
	if blockErr != nil {
		errs = append(errs, fmt.Errorf("cache.read_block_size: %w", blockErr))
	} else if block == 0 {
		errs = append(errs, errors.New("cache.read_block_size: must be greater than zero"))
	}

	total, err := ParseSize(c.ReadCacheSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache.read_cache_size: %w", err))
	} else if blockErr == nil && total > 0 && total < block {
		errs = append(errs, fmt.Errorf("cache.read_cache_size: %s is smaller than read_block_size %s",
			c.ReadCacheSize, c.ReadBlockSize))
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if chunk, err := ParseSize(t.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("transfers.chunk_size: %w", err))
	} else if chunk < chunkAlignBytes || chunk > maxChunkBytes || chunk%chunkAlignBytes != 0 {
		errs = append(errs, fmt.Errorf(
			"transfers.chunk_size: must be a multiple of 320 KiB between 320KiB and 60MiB, got %s (%d bytes)",
			t.ChunkSize, chunk))
	}

	if small, err := ParseSize(t.SmallFileThreshold); err != nil {
		errs = append(errs, fmt.Errorf("transfers.small_file_threshold: %w", err))
	} else if small > maxSmallFileThreshold {
		errs = append(errs, fmt.Errorf("transfers.small_file_threshold: must be at most 4MiB, got %s", t.SmallFileThreshold))
	}

	if t.Parallel < minParallel || t.Parallel > maxParallel {
		errs = append(errs, fmt.Errorf("transfers.parallel: must be between %d and %d, got %d",
			minParallel, maxParallel, t.Parallel))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("network.max_retries: must be between 0 and %d, got %d",
			maxRetriesLimit, n.MaxRetries))
	}

	errs = append(errs, validateMinDuration("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateMinDuration("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.UserAgent == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}

func validateMinDuration(key, s string, floor time.Duration) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", key, err)}
	}

	if d < floor {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", key, floor, s)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be debug, info, warn or error, got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be auto, text or json, got %q", l.LogFormat))
	}

	return errs
}
