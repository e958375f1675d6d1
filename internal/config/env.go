package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "GRAPHFS_CONFIG"
	EnvAccount      = "GRAPHFS_ACCOUNT"
	EnvDriveID      = "GRAPHFS_DRIVE_ID"
	EnvClientSecret = "GRAPHFS_CLIENT_SECRET" //nolint:gosec // variable name, not a credential
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath   string
	Account      string
	DriveID      string
	ClientSecret string
}

// ReadEnvOverrides reads the GRAPHFS_* variables. It does not modify any Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		Account:      os.Getenv(EnvAccount),
		DriveID:      os.Getenv(EnvDriveID),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}
