/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

const devSigningKey = "listenparty-development-signing-key"

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	BaseURL       string // Public base URL used by the listen command
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	TokenTTL      time.Duration
	ConfigFile    string

	// Ephemeral event transport: memory, redis or nats
	EventBus             string
	NATSURL              string
	NATSToken            string
	PublishRatePerSecond float64
	PublishBurst         int

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	JoinCodeCacheTTL      time.Duration

	// Archival of finished sessions: none, file or s3
	ArchiveBackend    string
	ArchiveDir        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	JanitorInterval time.Duration
	RetainFinished  time.Duration

	// Song search backend
	CatalogURL    string
	CatalogAPIKey string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	Party PartyDefaults
}

// PartyDefaults are the tunables applied to new sessions and clients. They
// can be overridden from the YAML file named by LISTENPARTY_CONFIG_FILE.
type PartyDefaults struct {
	SessionTTL         time.Duration `yaml:"session_ttl"`
	MaxParticipants    int           `yaml:"max_participants"`
	MaxQueueSize       int           `yaml:"max_queue_size"`
	MinQueueSize       int           `yaml:"min_queue_size"`
	MaxSongDuration    time.Duration `yaml:"max_song_duration"`
	MaxChatLength      int           `yaml:"max_chat_length"`
	SkipThreshold      float64       `yaml:"skip_threshold"`
	SkipAvailableAfter time.Duration `yaml:"skip_available_after"`
	SkipCheckInterval  time.Duration `yaml:"skip_check_interval"`
	DriftThreshold     time.Duration `yaml:"drift_threshold"`
	CorrectionInterval time.Duration `yaml:"correction_interval"`
	PresenceTimeout    time.Duration `yaml:"presence_timeout"`
}

// DefaultPartyDefaults returns the built-in party tunables.
func DefaultPartyDefaults() PartyDefaults {
	return PartyDefaults{
		SessionTTL:         24 * time.Hour,
		MaxParticipants:    50,
		MaxQueueSize:       100,
		MinQueueSize:       5,
		MaxSongDuration:    360 * time.Second,
		MaxChatLength:      500,
		SkipThreshold:      0.5,
		SkipAvailableAfter: 30 * time.Second,
		SkipCheckInterval:  2 * time.Second,
		DriftThreshold:     3 * time.Second,
		CorrectionInterval: 5 * time.Second,
		PresenceTimeout:    30 * time.Second,
	}
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"LISTENPARTY_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"LISTENPARTY_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"LISTENPARTY_HTTP_PORT", "PORT"}, 8080),
		BaseURL:       getEnvAny([]string{"LISTENPARTY_BASE_URL"}, "http://localhost:8080"),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"LISTENPARTY_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"LISTENPARTY_DB_DSN", "DATABASE_URL"}, "listenparty.db"),
		JWTSigningKey: getEnvAny([]string{"LISTENPARTY_JWT_SIGNING_KEY"}, ""),
		TokenTTL:      getEnvDurationAny([]string{"LISTENPARTY_TOKEN_TTL"}, 24*time.Hour),
		ConfigFile:    getEnvAny([]string{"LISTENPARTY_CONFIG_FILE"}, ""),

		EventBus:             strings.ToLower(getEnvAny([]string{"LISTENPARTY_EVENT_BUS"}, "memory")),
		NATSURL:              getEnvAny([]string{"LISTENPARTY_NATS_URL", "NATS_URL"}, "nats://127.0.0.1:4222"),
		NATSToken:            getEnvAny([]string{"LISTENPARTY_NATS_TOKEN"}, ""),
		PublishRatePerSecond: getEnvFloatAny([]string{"LISTENPARTY_PUBLISH_RATE"}, 20),
		PublishBurst:         getEnvIntAny([]string{"LISTENPARTY_PUBLISH_BURST"}, 40),

		LeaderElectionEnabled: getEnvBoolAny([]string{"LISTENPARTY_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"LISTENPARTY_REDIS_ADDR", "REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"LISTENPARTY_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"LISTENPARTY_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"LISTENPARTY_INSTANCE_ID"}, ""),
		JoinCodeCacheTTL:      getEnvDurationAny([]string{"LISTENPARTY_JOIN_CODE_CACHE_TTL"}, 10*time.Minute),

		ArchiveBackend:    strings.ToLower(getEnvAny([]string{"LISTENPARTY_ARCHIVE_BACKEND"}, "none")),
		ArchiveDir:        getEnvAny([]string{"LISTENPARTY_ARCHIVE_DIR"}, "./archive"),
		S3AccessKeyID:     getEnvAny([]string{"LISTENPARTY_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"LISTENPARTY_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"LISTENPARTY_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"LISTENPARTY_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Prefix:          getEnvAny([]string{"LISTENPARTY_S3_PREFIX"}, "sessions/"),
		S3Endpoint:        getEnvAny([]string{"LISTENPARTY_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"LISTENPARTY_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		JanitorInterval: getEnvDurationAny([]string{"LISTENPARTY_JANITOR_INTERVAL"}, time.Minute),
		RetainFinished:  getEnvDurationAny([]string{"LISTENPARTY_RETAIN_FINISHED"}, 7*24*time.Hour),

		CatalogURL:    getEnvAny([]string{"LISTENPARTY_CATALOG_URL"}, ""),
		CatalogAPIKey: getEnvAny([]string{"LISTENPARTY_CATALOG_API_KEY"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"LISTENPARTY_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"LISTENPARTY_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"LISTENPARTY_TRACING_SAMPLE_RATE"}, 1.0),

		Party: DefaultPartyDefaults(),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file struct {
		Party PartyDefaults `yaml:"party"`
	}
	file.Party = c.Party
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.Party = file.Party
	return nil
}

func (c *Config) validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("LISTENPARTY_DB_DSN or DATABASE_URL must be provided")
	}

	if c.JWTSigningKey == "" {
		if c.IsProduction() {
			return fmt.Errorf("LISTENPARTY_JWT_SIGNING_KEY must be provided in production")
		}
		c.JWTSigningKey = devSigningKey
	}

	switch c.EventBus {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("LISTENPARTY_REDIS_ADDR is required for the redis event bus")
		}
	case "nats":
		if c.NATSURL == "" {
			return fmt.Errorf("LISTENPARTY_NATS_URL is required for the nats event bus")
		}
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	if c.LeaderElectionEnabled && c.RedisAddr == "" {
		return fmt.Errorf("leader election requires LISTENPARTY_REDIS_ADDR")
	}

	switch c.ArchiveBackend {
	case "none", "file":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("LISTENPARTY_S3_BUCKET is required for the s3 archive backend")
		}
	default:
		return fmt.Errorf("unsupported archive backend %q", c.ArchiveBackend)
	}

	p := c.Party
	if p.SkipThreshold <= 0 || p.SkipThreshold > 1 {
		return fmt.Errorf("party.skip_threshold must be in (0, 1], got %v", p.SkipThreshold)
	}
	if p.MaxParticipants <= 0 || p.MaxQueueSize <= 0 {
		return fmt.Errorf("party limits must be positive")
	}
	if p.MinQueueSize > p.MaxQueueSize {
		return fmt.Errorf("party.min_queue_size %d exceeds max_queue_size %d", p.MinQueueSize, p.MaxQueueSize)
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// HTTPAddr returns the listen address for the API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or bare seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
