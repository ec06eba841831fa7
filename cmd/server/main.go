package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"mirpass/internal/audit"
	auditkafka "mirpass/internal/audit/kafka"
	auditmem "mirpass/internal/audit/store/memory"
	sessionhandler "mirpass/internal/authsession/handler"
	sessionmetrics "mirpass/internal/authsession/metrics"
	sessionservice "mirpass/internal/authsession/service"
	sessionstore "mirpass/internal/authsession/store"
	sessionmem "mirpass/internal/authsession/store/memory"
	sessionredis "mirpass/internal/authsession/store/redis"
	"mirpass/internal/credential"
	"mirpass/internal/platform/config"
	"mirpass/internal/platform/httpserver"
	"mirpass/internal/platform/logger"
	"mirpass/internal/platform/metrics"
	"mirpass/internal/platform/middleware"
	platformredis "mirpass/internal/platform/redis"
	registryservice "mirpass/internal/registry/service"
	registrystore "mirpass/internal/registry/store"
	registrymem "mirpass/internal/registry/store/memory"
	registrypg "mirpass/internal/registry/store/postgres"
	ssohandler "mirpass/internal/ssologin/handler"
	ssoservice "mirpass/internal/ssologin/service"
	ssostore "mirpass/internal/ssologin/store"
	ssomem "mirpass/internal/ssologin/store/memory"
	ssoredis "mirpass/internal/ssologin/store/redis"
)

// main wires stores, services, and routers together and owns the process
// lifecycle. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var sessions sessionstore.Store
	var logins ssostore.Store
	if redisClient != nil {
		sessions = sessionredis.New(redisClient.Client)
		logins = ssoredis.New(redisClient.Client)
		log.Info("using redis session stores")
	} else {
		sessions = sessionmem.New()
		logins = ssomem.New()
		log.Info("using in-memory session stores")
	}

	var apps registrystore.Store
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("pgx", cfg.Postgres.URL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		apps = registrypg.New(db)
		log.Info("using postgres application registry")
	} else {
		apps = registrymem.New()
		log.Info("using in-memory application registry")
	}

	registry := registryservice.New(apps)
	issuer := credential.New(cfg.JWTSigningKey, cfg.BackendURL, cfg.Session.AccessTokenTTL)

	var sink audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := auditkafka.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
		log.Info("publishing audit events to kafka", "topic", cfg.Kafka.Topic)
	} else {
		sink = auditmem.New()
		log.Info("audit events stay in memory, set MIRPASS_KAFKA_BROKERS to publish")
	}
	publisher := audit.NewPublisher(0, log)
	worker := audit.NewWorker(sink, publisher.Inbox(), log)

	sessionSvc := sessionservice.New(sessions, registry, issuer,
		sessionservice.WithLogger(log),
		sessionservice.WithAuditRecorder(publisher),
		sessionservice.WithMetrics(sessionmetrics.New()),
		sessionservice.WithSessionTTL(cfg.Session.TTL),
		sessionservice.WithPollInterval(cfg.Session.PollInterval),
	)
	ssoSvc := ssoservice.New(logins, registry, issuer,
		ssoservice.WithLogger(log),
		ssoservice.WithAuditRecorder(publisher),
	)

	httpMetrics := metrics.New()
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(httpMetrics.Latency)

	sessionhandler.New(sessionSvc, issuer, log, cfg.FrontendURL, cfg.BackendURL).Register(router)
	ssohandler.New(ssoSvc, issuer, registry, log, cfg.FrontendURL).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting mirpass", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		return sessionSvc.RunSweeper(groupCtx, cfg.Session.SweepInterval)
	})
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if _, err := ssoSvc.SweepExpired(groupCtx); err != nil {
					log.Warn("sso login sweep failed", "error", err)
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
