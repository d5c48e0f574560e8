// Package main wires the bot-builder runtime's components together and
// serves the admin HTTP surface. The chat-platform wire adapter that feeds
// events into the Dispatcher, and the config-source fetcher that resolves
// templates from pubky storage, are separate processes that embed this
// module as a library; this binary only proves the wiring and gives
// operators a surface to rebind/refresh chats and watch approval activity.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/adminhttp"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/approval"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/bundlestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/config"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/configstore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/dispatcher"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/metrics"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/sandboxhost"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/snapshot"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/statestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

func main() {
	adminAddr := flag.String("admin-addr", "", "admin HTTP listen address (overrides ADMIN_HTTP_ADDR)")
	flag.Parse()

	log := logger.NewDefault("botcore")

	cfg, err := config.Load()
	if err != nil {
		log.WithField("err", err.Error()).Fatal("load configuration")
	}
	if *adminAddr != "" {
		cfg.AdminHTTPAddr = *adminAddr
	}

	rootCtx := context.Background()

	configs, err := configstore.Open(rootCtx, cfg.LocalDBURL, configstore.DefaultPoolConfig(), log)
	if err != nil {
		log.WithField("err", err.Error()).Fatal("open config store")
	}
	defer configs.Close()

	bundles := bundlestore.New(configs.DB(), log)
	states := statestore.New()

	var redisClient *redis.Client
	if cfg.SnapshotRedisURL != "" {
		opts, err := redis.ParseURL(cfg.SnapshotRedisURL)
		if err != nil {
			log.WithField("err", err.Error()).Fatal("parse SNAPSHOT_REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	source := snapshot.FileConfigSource{Dir: cfg.ConfigTemplateDir}
	builder := snapshot.NewBuilder(configs, bundles, source, cfg.DefaultTemplateID, redisClient, log)

	sandbox := sandboxhost.New(sandboxhost.Config{
		Mode:            cfg.SandboxMode,
		InterpreterPath: cfg.SandboxInterpreterPath,
		MaxConcurrency:  cfg.SandboxMaxConcurrency,
	}, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	coreMetrics := metrics.New(reg)

	disp := dispatcher.New(builder, bundles, states, sandbox, coreMetrics, log)
	_ = disp // held ready for the external wire adapter to drive via Dispatch

	writer := approval.LocalFileWriter{Root: cfg.ApprovalWriteDir}
	queue := approval.New(configs.DB(), writer, coreMetrics, log)

	sweeper, err := approval.NewSweeper(queue, cfg.ApprovalSweepCron, log)
	if err != nil {
		log.WithField("err", err.Error()).Fatal("schedule approval sweep")
	}
	sweeper.Start()
	defer sweeper.Stop()

	admin := adminhttp.New(adminhttp.Config{JWTSecret: cfg.AdminJWTSecret}, builder, configs, bundles, log)
	admin.MountMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.AdminHTTPAddr,
		Handler: admin.Handler(),
	}

	go func() {
		log.WithField("addr", cfg.AdminHTTPAddr).Info("admin http surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err.Error()).Fatal("admin http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithField("err", err.Error()).Error("admin http server shutdown")
	}
}
