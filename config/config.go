package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Presence   PresenceConfig   `yaml:"presence"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// RedisConfig is only used when presence.backend is "redis".
type RedisConfig struct {
	URL string `yaml:"url"`
	DB  int    `yaml:"db"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	UserClaim string `yaml:"user_claim"`
}

// PresenceConfig controls the presence backend and heartbeat expiry.
type PresenceConfig struct {
	Backend             string        `yaml:"backend"` // database or redis
	HeartbeatTTLSeconds int           `yaml:"heartbeat_ttl_seconds"`
	HeartbeatTTL        time.Duration `yaml:"-"`
	SweepIntervalSecs   int           `yaml:"sweep_interval_seconds"`
	SweepInterval       time.Duration `yaml:"-"`
	OfflineOnDisconnect *bool         `yaml:"offline_on_disconnect"`
}

// RealtimeConfig controls websocket connections.
type RealtimeConfig struct {
	SendBuffer            int           `yaml:"send_buffer"`
	MaxMessageBytes       int64         `yaml:"max_message_bytes"`
	CommandTimeoutSeconds int           `yaml:"command_timeout_seconds"`
	CommandTimeout        time.Duration `yaml:"-"`
	PongWaitSeconds       int           `yaml:"pong_wait_seconds"`
	PongWait              time.Duration `yaml:"-"`
	WriteWaitSeconds      int           `yaml:"write_wait_seconds"`
	WriteWait             time.Duration `yaml:"-"`
	CommandsPerSec        float64       `yaml:"commands_per_sec"`
	CommandBurst          int           `yaml:"command_burst"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
}

// VisibilityConfig controls the relationship cache.
type VisibilityConfig struct {
	RelationshipCacheSeconds int           `yaml:"relationship_cache_seconds"`
	RelationshipCacheTTL     time.Duration `yaml:"-"`
}

// CatalogConfig controls the brewery lookup cache.
type CatalogConfig struct {
	CacheSeconds int           `yaml:"cache_seconds"`
	CacheTTL     time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// applyEnv lets deployments keep secrets out of the YAML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

// ApplyDefaults fills zero values and derives the duration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Auth.UserClaim == "" {
		cfg.Auth.UserClaim = "user_id"
	}

	if cfg.Presence.Backend == "" {
		cfg.Presence.Backend = "database"
	}
	if cfg.Presence.HeartbeatTTLSeconds <= 0 {
		cfg.Presence.HeartbeatTTLSeconds = 120
	}
	cfg.Presence.HeartbeatTTL = time.Duration(cfg.Presence.HeartbeatTTLSeconds) * time.Second
	if cfg.Presence.SweepIntervalSecs <= 0 {
		cfg.Presence.SweepIntervalSecs = 30
	}
	cfg.Presence.SweepInterval = time.Duration(cfg.Presence.SweepIntervalSecs) * time.Second
	if cfg.Presence.OfflineOnDisconnect == nil {
		on := true
		cfg.Presence.OfflineOnDisconnect = &on
	}

	if cfg.Realtime.SendBuffer <= 0 {
		cfg.Realtime.SendBuffer = 32
	}
	if cfg.Realtime.MaxMessageBytes <= 0 {
		cfg.Realtime.MaxMessageBytes = 8 << 10
	}
	if cfg.Realtime.CommandTimeoutSeconds <= 0 {
		cfg.Realtime.CommandTimeoutSeconds = 10
	}
	cfg.Realtime.CommandTimeout = time.Duration(cfg.Realtime.CommandTimeoutSeconds) * time.Second
	if cfg.Realtime.PongWaitSeconds <= 0 {
		cfg.Realtime.PongWaitSeconds = 60
	}
	cfg.Realtime.PongWait = time.Duration(cfg.Realtime.PongWaitSeconds) * time.Second
	if cfg.Realtime.WriteWaitSeconds <= 0 {
		cfg.Realtime.WriteWaitSeconds = 10
	}
	cfg.Realtime.WriteWait = time.Duration(cfg.Realtime.WriteWaitSeconds) * time.Second
	if cfg.Realtime.CommandsPerSec <= 0 {
		cfg.Realtime.CommandsPerSec = 5
	}
	if cfg.Realtime.CommandBurst <= 0 {
		cfg.Realtime.CommandBurst = 10
	}

	if cfg.Visibility.RelationshipCacheSeconds <= 0 {
		cfg.Visibility.RelationshipCacheSeconds = 30
	}
	cfg.Visibility.RelationshipCacheTTL = time.Duration(cfg.Visibility.RelationshipCacheSeconds) * time.Second

	if cfg.Catalog.CacheSeconds <= 0 {
		cfg.Catalog.CacheSeconds = 300
	}
	cfg.Catalog.CacheTTL = time.Duration(cfg.Catalog.CacheSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
