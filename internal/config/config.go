package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Environment variable names
const (
	EnvDevMode          = "PLESK_SCRIPTS_DEV"        // Set to "1" for development mode
	EnvDataDir          = "PLESK_SCRIPTS_DATA_DIR"   // Override data directory (history DB)
	EnvBackupDir        = "PLESK_SCRIPTS_BACKUP_DIR" // Override database dump directory
	EnvLockFile         = "PLESK_SCRIPTS_LOCK_FILE"  // Override lock file path
	EnvUpdateURL        = "PLESK_SCRIPTS_UPDATE_URL" // Override self-update base URL
	EnvUpdateBranch     = "PLESK_UPDATE_BRANCH"      // Remote branch to pull updates from
	EnvAutoUpdate       = "AUTO_UPDATE"              // "true" enables the gated automatic update check
	EnvUpdateInterval   = "UPDATE_CHECK_INTERVAL"    // Hours between automatic update checks
	EnvRetentionDays    = "DAYS"                     // Retention threshold for the cleanup sweep
	EnvDryRun           = "DRY_RUN"                  // "true" reports sweep actions without deleting
	EnvAdminPasswordRef = "PLESK_ADMIN_PASSWORD_REF" // Override Plesk admin password file
)

// Defaults
const (
	DefaultUpdateURL      = "https://downloads.architecpoint.com/plesk-scripts"
	DefaultUpdateBranch   = "stable"
	DefaultUpdateInterval = 24 * time.Hour
	DefaultRetentionDays  = 365

	// Plesk stores the MySQL admin password here on every supported
	// release; the mysql/mysqldump invocations read it at run time.
	DefaultAdminPasswordRef = "/etc/psa/.psa.shadow"
)

// Config holds the resolved runtime configuration for one task invocation.
type Config struct {
	Task             string
	DataDir          string
	BackupDir        string
	LockFile         string
	CheckMarker      string
	UpdateURL        string
	UpdateBranch     string
	AutoUpdate       bool
	UpdateInterval   time.Duration
	RetentionDays    int
	DryRun           bool
	AdminPasswordRef string
}

// IsDevMode returns true if running in development mode
func IsDevMode() bool {
	return os.Getenv(EnvDevMode) == "1"
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvIntOrDefault returns environment variable as int or default
func getEnvIntOrDefault(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, val)
	}
	return i, nil
}

// getEnvBoolOrDefault treats the literal "true" as true, anything else as false
func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val == "true"
}

// getDefaultPaths returns paths based on environment and mode
func getDefaultPaths(task string) (dataDir, backupDir, lockFile, checkMarker string) {
	if IsDevMode() {
		// Development mode: use local directories relative to current working directory
		cwd, _ := os.Getwd()
		dataDir = getEnvOrDefault(EnvDataDir, filepath.Join(cwd, ".plesk-scripts", "data"))
		backupDir = getEnvOrDefault(EnvBackupDir, filepath.Join(cwd, ".plesk-scripts", "dumps"))
	} else {
		// Production mode: use standard Linux system paths
		dataDir = getEnvOrDefault(EnvDataDir, "/var/lib/plesk-scripts")
		backupDir = getEnvOrDefault(EnvBackupDir, "/var/backups/plesk-scripts")
	}
	lockFile = getEnvOrDefault(EnvLockFile, filepath.Join(os.TempDir(), task+".lock"))
	checkMarker = filepath.Join(os.TempDir(), task+".update-check")
	return
}

// Load resolves the configuration for the named task from the environment.
// It fails on malformed or out-of-range values rather than falling back
// silently, so a typo in a crontab entry surfaces as exit code 1.
func Load(task string) (*Config, error) {
	dataDir, backupDir, lockFile, checkMarker := getDefaultPaths(task)

	intervalHours, err := getEnvIntOrDefault(EnvUpdateInterval, int(DefaultUpdateInterval/time.Hour))
	if err != nil {
		return nil, err
	}
	if intervalHours <= 0 {
		return nil, fmt.Errorf("%s must be a positive number of hours", EnvUpdateInterval)
	}

	days, err := getEnvIntOrDefault(EnvRetentionDays, DefaultRetentionDays)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%s must be a positive number of days", EnvRetentionDays)
	}

	return &Config{
		Task:             task,
		DataDir:          dataDir,
		BackupDir:        backupDir,
		LockFile:         lockFile,
		CheckMarker:      checkMarker,
		UpdateURL:        getEnvOrDefault(EnvUpdateURL, DefaultUpdateURL),
		UpdateBranch:     getEnvOrDefault(EnvUpdateBranch, DefaultUpdateBranch),
		AutoUpdate:       getEnvBoolOrDefault(EnvAutoUpdate, false),
		UpdateInterval:   time.Duration(intervalHours) * time.Hour,
		RetentionDays:    days,
		DryRun:           getEnvBoolOrDefault(EnvDryRun, false),
		AdminPasswordRef: getEnvOrDefault(EnvAdminPasswordRef, DefaultAdminPasswordRef),
	}, nil
}
