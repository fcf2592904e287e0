package config

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Kafka    KafkaConfig
	Engine   EngineConfig
	Log      LogConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// Requests per client IP per APIWindow on the friends API
	APILimit  int
	APIWindow time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Client selects the producer library: "kafka-go" or "sarama"
	Client string
}

// EngineConfig tunes the live session engine.
type EngineConfig struct {
	RateLimit         int
	RateWindow        time.Duration
	CursorThrottle    time.Duration
	EditDebounce      time.Duration
	ConflictWindow    time.Duration
	SnapshotTTL       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	PruneInterval     time.Duration
	SessionStaleness  time.Duration
	// Upgrade attempts allowed per user per ConnectWindow
	ConnectLimit  int
	ConnectWindow time.Duration
}

type LogConfig struct {
	Level string
}

// DSN builds the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode
}

// SlogLevel maps the configured level name to a slog level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "*")
	v.SetDefault("SERVER_API_LIMIT", 120)
	v.SetDefault("SERVER_API_WINDOW", time.Minute)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "collab")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("JWT_SECRET", "secret")
	v.SetDefault("JWT_EXPIRATION", 24*time.Hour)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "collab.notifications")
	v.SetDefault("KAFKA_CLIENT", "kafka-go")

	v.SetDefault("ENGINE_RATE_LIMIT", 10)
	v.SetDefault("ENGINE_RATE_WINDOW", time.Second)
	v.SetDefault("ENGINE_CURSOR_THROTTLE", 100*time.Millisecond)
	v.SetDefault("ENGINE_EDIT_DEBOUNCE", 500*time.Millisecond)
	v.SetDefault("ENGINE_CONFLICT_WINDOW", 300*time.Millisecond)
	v.SetDefault("ENGINE_SNAPSHOT_TTL", 30*time.Second)
	v.SetDefault("ENGINE_HEARTBEAT_INTERVAL", 30*time.Second)
	v.SetDefault("ENGINE_HEARTBEAT_TIMEOUT", 2*time.Minute)
	v.SetDefault("ENGINE_PRUNE_INTERVAL", time.Minute)
	v.SetDefault("ENGINE_SESSION_STALENESS", 10*time.Minute)
	v.SetDefault("ENGINE_CONNECT_LIMIT", 30)
	v.SetDefault("ENGINE_CONNECT_WINDOW", time.Minute)

	v.SetDefault("LOG_LEVEL", "info")
}

// LoadConfig reads .env (if present) and the environment once.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
		ConfigInstance = Load(viper.New())
	})

	return ConfigInstance, nil
}

// Load builds a Config from v after applying defaults and binding the
// environment.
func Load(v *viper.Viper) *Config {
	setDefaults(v)
	v.AutomaticEnv()

	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetString("SERVER_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			AllowedOrigins:  splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
			APILimit:        v.GetInt("SERVER_API_LIMIT"),
			APIWindow:       v.GetDuration("SERVER_API_WINDOW"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:         v.GetString("REDIS_HOST"),
			Port:         v.GetString("REDIS_PORT"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("JWT_SECRET"),
			ExpirationTime: v.GetDuration("JWT_EXPIRATION"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
			Client:  strings.ToLower(v.GetString("KAFKA_CLIENT")),
		},
		Engine: EngineConfig{
			RateLimit:         v.GetInt("ENGINE_RATE_LIMIT"),
			RateWindow:        v.GetDuration("ENGINE_RATE_WINDOW"),
			CursorThrottle:    v.GetDuration("ENGINE_CURSOR_THROTTLE"),
			EditDebounce:      v.GetDuration("ENGINE_EDIT_DEBOUNCE"),
			ConflictWindow:    v.GetDuration("ENGINE_CONFLICT_WINDOW"),
			SnapshotTTL:       v.GetDuration("ENGINE_SNAPSHOT_TTL"),
			HeartbeatInterval: v.GetDuration("ENGINE_HEARTBEAT_INTERVAL"),
			HeartbeatTimeout:  v.GetDuration("ENGINE_HEARTBEAT_TIMEOUT"),
			PruneInterval:     v.GetDuration("ENGINE_PRUNE_INTERVAL"),
			SessionStaleness:  v.GetDuration("ENGINE_SESSION_STALENESS"),
			ConnectLimit:      v.GetInt("ENGINE_CONNECT_LIMIT"),
			ConnectWindow:     v.GetDuration("ENGINE_CONNECT_WINDOW"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
