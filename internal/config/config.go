package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string
	DataDir           string
	ConfigFile        string
	APIToken          string
	CORSOrigin        string
	LenientValidation bool
	LogFile           string
	// Backup (git commit + push of the data directory)
	BackupEnabled   bool
	BackupInterval  time.Duration
	BackupRemoteURL string
	BackupBranch    string
	BackupUsername  string
	BackupToken     string
	BackupAuthor    string
	// Redis lock backend, in-process locks when empty
	RedisURL string
	LockTTL  time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
}

// Load reads the environment (after an optional .env file) and applies the
// YAML overlay named by PROPOSALS_CONFIG_FILE when present.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg := loadEnv()
	if cfg.ConfigFile != "" {
		if err := applyOverlayFile(&cfg, cfg.ConfigFile); err != nil {
			log.Printf("config: overlay %s ignored: %v", cfg.ConfigFile, err)
		}
	}
	return cfg
}

func loadEnv() Config {
	return Config{
		Addr:              getenv("API_ADDR", ":8790"),
		DataDir:           getenv("PROPOSALS_DATA_DIR", "./data"),
		ConfigFile:        getenv("PROPOSALS_CONFIG_FILE", ""),
		APIToken:          getenv("PROPOSALS_API_TOKEN", ""),
		CORSOrigin:        getenv("PROPOSALS_CORS_ORIGIN", "*"),
		LenientValidation: getenvBool("PROPOSALS_LENIENT_VALIDATION", false),
		LogFile:           getenv("PROPOSALS_LOG_FILE", ""),
		BackupEnabled:     getenvBool("BACKUP_ENABLED", true),
		BackupInterval:    time.Duration(getenvInt("BACKUP_INTERVAL_SECONDS", 300)) * time.Second,
		BackupRemoteURL:   getenv("BACKUP_REMOTE_URL", ""),
		BackupBranch:      getenv("BACKUP_BRANCH", "main"),
		BackupUsername:    getenv("BACKUP_USERNAME", ""),
		BackupToken:       getenv("BACKUP_TOKEN", ""),
		BackupAuthor:      getenv("BACKUP_AUTHOR", "Proposal Backup"),
		RedisURL:          getenv("REDIS_URL", ""),
		LockTTL:           time.Duration(getenvInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		MeiliURL:          getenv("MEILI_URL", ""),
		MeiliMasterKey:    getenv("MEILI_MASTER_KEY", ""),
	}
}

// overlay is the subset of settings that may live in the YAML file. These are
// the ones that take effect on reload.
type overlay struct {
	DataDir           *string `yaml:"dataDir"`
	BackupInterval    string  `yaml:"backupInterval"`
	LenientValidation *bool   `yaml:"lenientValidation"`
}

func applyOverlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var parsed overlay
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if parsed.DataDir != nil && strings.TrimSpace(*parsed.DataDir) != "" {
		cfg.DataDir = strings.TrimSpace(*parsed.DataDir)
	}
	if parsed.BackupInterval != "" {
		interval, err := time.ParseDuration(parsed.BackupInterval)
		if err != nil {
			return fmt.Errorf("invalid backupInterval: %w", err)
		}
		cfg.BackupInterval = interval
	}
	if parsed.LenientValidation != nil {
		cfg.LenientValidation = *parsed.LenientValidation
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
