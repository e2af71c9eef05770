package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dagnode service.
type Config struct {
	// Network Configuration
	Alt         string   // network alt-tag units must carry to be accepted (e.g. "1" for mainnet)
	WitnessList []string // the network's fixed witness address list
	PeerURLs    []string // full-node peers to catch up from and gossip joints to

	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// KV joint store (cometbft-db backend)
	KVBackend string // "goleveldb", "badgerdb", "memdb"
	KVDataDir string

	// Consensus parameters
	MaxParentsPerUnit       int
	MaxWitnessListMutations int
	V4UpgradeMCI            uint64

	// Autonomous Agent execution
	MaxResponsesPerPrimaryTrigger int
	AAExecTimeout                 time.Duration

	// Logging / service identity
	NodeID   string
	LogLevel string

	// Security
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	// Rate limiting for the joint-submission endpoint
	RateLimitRequests int
	RateLimitWindow   int
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables have no defaults and must be explicitly set.
// Call Validate() after Load() to ensure all required configuration is present.
func Load() (*Config, error) {
	cfg := &Config{
		Alt:         getEnv("DAGNODE_ALT", ""),
		WitnessList: parseList(getEnv("WITNESS_LIST", "")),
		PeerURLs:    parseList(getEnv("PEER_URLS", "")),

		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", true),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "dagnode"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "dagnode"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		KVBackend: getEnv("KV_BACKEND", "goleveldb"),
		KVDataDir: getEnv("KV_DATA_DIR", "./data/joints"),

		MaxParentsPerUnit:       getEnvInt("MAX_PARENTS_PER_UNIT", 16),
		MaxWitnessListMutations: getEnvInt("MAX_WITNESS_LIST_MUTATIONS", 1),
		V4UpgradeMCI:            uint64(getEnvInt64("V4_UPGRADE_MCI", 5280000)),

		MaxResponsesPerPrimaryTrigger: getEnvInt("MAX_RESPONSES_PER_PRIMARY_TRIGGER", 10),
		AAExecTimeout:                 getEnvDuration("AA_EXEC_TIMEOUT", 30*time.Second),

		NodeID:   getEnv("NODE_ID", "dagnode-default"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: parseList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW", 60),
	}

	return cfg, nil
}

// witnessListFile is the shape of a YAML witness-list file, for operators
// who distribute the network's witness set as a versioned file instead of
// the WITNESS_LIST environment variable — the same file-based settings
// shape the teacher's pkg/config anchor loader uses for its own YAML
// configuration.
type witnessListFile struct {
	Witnesses []string `yaml:"witnesses"`
}

// LoadWitnessListFromFile reads a YAML witness-list file and returns its
// entries. Callers only reach for this when WITNESS_LIST is unset, so an
// environment override always wins over the checked-in file.
func LoadWitnessListFromFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read witness list file %s: %w", path, err)
	}
	var f witnessListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse witness list file %s: %w", path, err)
	}
	return f.Witnesses, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	if c.Alt == "" {
		errs = append(errs, "DAGNODE_ALT is required but not set")
	}
	if len(c.WitnessList) == 0 {
		errs = append(errs, "WITNESS_LIST is required but not set")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lower := strings.ToLower(c.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				errs = append(errs, "JWT_SECRET contains weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters for security")
		}
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local development.
// WARNING: Do not use this in production - use Validate() instead.
func (c *Config) ValidateForDevelopment() error {
	var errs []string
	if len(c.WitnessList) == 0 {
		errs = append(errs, "WITNESS_LIST is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("development configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseList parses a comma-separated list, trimming whitespace and dropping
// empty entries — used for WITNESS_LIST, PEER_URLS and CORS_ORIGINS.
func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
