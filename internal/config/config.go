package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	SQLitePath        string
	RemoteDatabaseURL string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	ConnectionID      string
	TerminalID        string

	SyncDebounce     time.Duration
	SyncInterval     time.Duration
	SyncTimeout      time.Duration
	MaxJobAttempts   int
	JobRetentionDays int

	ReconcileInterval time.Duration
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RemoteDatabaseURL: os.Getenv("REMOTE_DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		ConnectionID:      getEnv("SYNC_CONNECTION_ID", "central"),
		TerminalID:        getEnv("TERMINAL_ID", "terminal-1"),
		SyncDebounce:      getDuration("SYNC_DEBOUNCE_SECONDS", 3*time.Second),
		SyncInterval:      getDuration("SYNC_INTERVAL_SECONDS", 5*time.Minute),
		SyncTimeout:       getDuration("SYNC_TIMEOUT_SECONDS", 2*time.Minute),
		MaxJobAttempts:    getInt("SYNC_MAX_JOB_ATTEMPTS", 5),
		JobRetentionDays:  getInt("JOB_RETENTION_DAYS", 7),
		ReconcileInterval: getDuration("RECONCILE_INTERVAL_SECONDS", time.Hour),
	}

	return cfg
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getDuration(key string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(os.Getenv(key))
	if err != nil || seconds < 1 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
