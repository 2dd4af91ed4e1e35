package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Skotchmaster/football_stats/internal/config"
	"github.com/Skotchmaster/football_stats/internal/directory"
	"github.com/Skotchmaster/football_stats/internal/events"
	"github.com/Skotchmaster/football_stats/internal/httpserver"
	"github.com/Skotchmaster/football_stats/internal/live"
	"github.com/Skotchmaster/football_stats/internal/metrics"
	"github.com/Skotchmaster/football_stats/internal/middleware"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/ratelimit"
	"github.com/Skotchmaster/football_stats/internal/repo"
	"github.com/Skotchmaster/football_stats/internal/service"
	"github.com/Skotchmaster/football_stats/internal/sweeper"
	"github.com/Skotchmaster/football_stats/pkg/db"
	"github.com/Skotchmaster/football_stats/pkg/hash"
	"github.com/Skotchmaster/football_stats/pkg/logging"
	"github.com/Skotchmaster/football_stats/pkg/tokens"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	if cfg.UsesDefaultSecret() {
		log.Warn("config_default_secret", "reason", "SECRET_KEY is not set, tokens are signed with the built-in development key")
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Error("db_init_failed", "error", err)
		os.Exit(1)
	}
	if cfg.DBAutoMigrate {
		if err := gdb.AutoMigrate(models.All()...); err != nil {
			log.Error("db_migrate_failed", "error", err)
			os.Exit(1)
		}
	}

	codec, err := tokens.NewCodec(cfg.SecretKey, cfg.Algorithm)
	if err != nil {
		log.Error("token_codec_failed", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := &repo.GormRepo{DB: gdb}
	refresh := &repo.RefreshStore{DB: gdb, TTL: cfg.RefreshTTL}
	resets := &repo.ResetStore{DB: gdb, TTL: cfg.ResetTTL}

	var publisher events.Publisher = events.Nop{}
	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.UserEventsTopic)
		publisher = kafkaPub
		log.Info("events_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.UserEventsTopic)
	}

	authSvc := &service.AuthService{
		Users:   users,
		Tokens:  refresh,
		Hasher:  hash.NewHasher(cfg.BcryptCost),
		Codec:   codec,
		Events:  publisher,
		Metrics: m,
		Cfg:     service.Config{AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL},
	}
	usersSvc := &service.UserService{
		Users:    users,
		Resets:   resets,
		Auth:     authSvc,
		Notifier: service.LogNotifier{},
	}

	if cfg.ESURL != "" {
		esCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		es, err := directory.NewClient(esCtx, cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		cancel()
		if err != nil {
			log.Warn("directory_unavailable", "reason", "search falls back to the database", "error", err)
		} else {
			dir := &directory.Directory{ES: es, Index: cfg.ESUsersIndex}
			authSvc.Directory = dir
			usersSvc.Search = dir
		}
	}

	var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis_url_invalid", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow)
	}

	sw, err := sweeper.New(cfg.SweepSchedule, log, m,
		sweeper.Target{Kind: "refresh", Store: refresh},
		sweeper.Target{Kind: "reset", Store: resets},
	)
	if err != nil {
		log.Error("sweeper_init_failed", "error", err)
		os.Exit(1)
	}
	sw.Start()

	hub := live.NewHub(log, cfg.CORSOrigins)

	e := httpserver.New(log, cfg.CORSOrigins, &httpserver.Deps{
		DB:           gdb,
		AuthHandler:  &httpserver.AuthHTTP{Svc: authSvc},
		UsersHandler: &httpserver.UsersHTTP{Svc: usersSvc},
		LiveHandler:  &httpserver.LiveHTTP{Hub: hub},
		Hub:          hub,
		Gate:         middleware.NewGate(codec, users, m),
		LoginLimiter: limiter,
		Metrics:      metrics.Handler(reg),
	})

	go func() {
		log.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", "error", err)
	}
	if err := sw.Stop(shutdownCtx); err != nil {
		log.Error("sweeper_stop_failed", "error", err)
	}
	hub.Close()
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			log.Error("kafka_close_failed", "error", err)
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error("redis_close_failed", "error", err)
		}
	}
	if err := db.Close(gdb); err != nil {
		log.Error("db_close_failed", "error", err)
	}
	log.Info("shutdown_complete")
}
