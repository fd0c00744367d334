package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, nil)
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	log := slog.New(handler)

	ctx := context.Background()

	var cache Cache
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("could not connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = NewRedisCache(rdb, cfg.CacheTTL)
		log.Info("using redis cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	} else {
		cache = NewMemoryCache(cfg.CacheTTL)
		log.Info("using in-memory cache", "ttl", cfg.CacheTTL)
	}

	var repo Repository
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		repo = NewPGRepository(pool)
		log.Info("using postgres repository")
	} else {
		repo = NewMemoryRepository()
		log.Info("using in-memory repository (starts empty)")
	}

	synchronizer := NewSynchronizer(cache, repo, log, cfg.PersistDebounce)
	manager := NewManager(synchronizer, NewAuthenticator(cfg.JWTSecret), log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", manager.serveWs)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Info("server started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	// Stop accepting, close sessions (each disconnect flushes its
	// documents), then checkpoint anything still dirty before the
	// backing stores go away.
	shutdownCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	manager.closeAll()
	manager.wait()
	synchronizer.FlushAll(shutdownCtx)

	if rdb != nil {
		rdb.Close()
	}
	if pool != nil {
		pool.Close()
	}
	log.Info("shutdown complete")
}
