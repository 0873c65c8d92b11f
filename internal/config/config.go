package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	FeedBaseURL string
	AuthSecret  string
	LogLevel    string
	LogFormat   string

	// Scheduler
	PollInterval      time.Duration
	UpdateTimeout     time.Duration
	MaxUpdateAttempts int
	InitialBackoff    time.Duration
	BackoffCap        time.Duration
	Cooldown          time.Duration
	StoreReconnectMax int

	// Workers
	WorkerCount       int
	WorkerIndex       int // -1 in the primary process
	HeartbeatInterval time.Duration

	// Connections
	MaxConnections       int64
	MaxConnectionsPerIP  int
	ConnectionRate       float64
	ConnectionBurst      int
	MessageRate          float64
	MessageBurst         int
	SendBufferSize       int
	CompressionThreshold int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		FeedBaseURL: getEnv("FEED_BASE_URL", ""),
		AuthSecret:  getEnv("AUTH_SECRET", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.UpdateTimeout, err = getDuration("UPDATE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxUpdateAttempts, err = getInt("MAX_UPDATE_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.InitialBackoff, err = getDuration("INITIAL_BACKOFF", 1*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffCap, err = getDuration("BACKOFF_CAP", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Cooldown, err = getDuration("COOLDOWN", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.StoreReconnectMax, err = getInt("STORE_RECONNECT_MAX", 5); err != nil {
		return nil, err
	}

	if cfg.WorkerCount, err = getInt("WORKER_COUNT", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerIndex, err = getInt("SCOREPULSE_WORKER_INDEX", -1); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	var maxConns int
	if maxConns, err = getInt("MAX_CONNECTIONS", 10000); err != nil {
		return nil, err
	}
	cfg.MaxConnections = int64(maxConns)
	if cfg.MaxConnectionsPerIP, err = getInt("MAX_CONNECTIONS_PER_IP", 50); err != nil {
		return nil, err
	}
	if cfg.ConnectionRate, err = getFloat("CONNECTION_RATE", 10); err != nil {
		return nil, err
	}
	if cfg.ConnectionBurst, err = getInt("CONNECTION_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.MessageRate, err = getFloat("MESSAGE_RATE", 5); err != nil {
		return nil, err
	}
	if cfg.MessageBurst, err = getInt("MESSAGE_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.SendBufferSize, err = getInt("SEND_BUFFER_SIZE", 16); err != nil {
		return nil, err
	}
	if cfg.CompressionThreshold, err = getInt("COMPRESSION_THRESHOLD", 1024); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.FeedBaseURL == "" {
		return nil, fmt.Errorf("FEED_BASE_URL is required")
	}
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}
	if cfg.WorkerCount < 0 {
		// 0 means in-process scheduling, negative means "one per core"
		cfg.WorkerCount = runtime.NumCPU()
	}
	if cfg.WorkerCount > 0 && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when WORKER_COUNT > 0")
	}
	if cfg.MaxUpdateAttempts < 1 {
		return nil, fmt.Errorf("MAX_UPDATE_ATTEMPTS must be >= 1")
	}
	if cfg.StoreReconnectMax < 1 {
		return nil, fmt.Errorf("STORE_RECONNECT_MAX must be >= 1")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

// WorkerMode reports whether this process was spawned as a shard worker.
func (c *Config) WorkerMode() bool {
	return c.WorkerIndex >= 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 5s): %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}
