package main

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// pingPeriod is the interval at which pings are sent (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	egressBuffer = 64
	opTimeout    = 30 * time.Second

	defaultAddr            = ":8080"
	defaultCacheTTL        = 1800 * time.Second
	defaultPersistDebounce = 500 * time.Millisecond

	persistRetryInitial = 50 * time.Millisecond
	persistMaxRetries   = 5
)

type Config struct {
	Addr            string
	JWTSecret       []byte
	RedisAddr       string // empty: in-memory cache
	DatabaseURL     string // empty: in-memory repository
	CacheTTL        time.Duration
	PersistDebounce time.Duration
	LogJSON         bool
}

func loadConfig() (*Config, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	cfg := &Config{
		Addr:            envOr("ADDR", defaultAddr),
		JWTSecret:       []byte(secret),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CacheTTL:        defaultCacheTTL,
		PersistDebounce: defaultPersistDebounce,
		LogJSON:         os.Getenv("LOG_FORMAT") == "json",
	}

	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, errors.New("CACHE_TTL_SECONDS must be a positive integer")
		}
		cfg.CacheTTL = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("PERSIST_DEBOUNCE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, errors.New("PERSIST_DEBOUNCE_MS must be a non-negative integer")
		}
		cfg.PersistDebounce = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
