package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/callcenter"
	"callcenter/internal/calls"
	"callcenter/internal/config"
	"callcenter/internal/eventbus"
	"callcenter/internal/normalizer"
	"callcenter/internal/relay"
	"callcenter/internal/reporting"
	"callcenter/internal/telephony"
	"callcenter/pkg/logger"
	"callcenter/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, &cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, log *slog.Logger) error {
	// Audit trail: Postgres when configured, memory otherwise.
	repo := audit.Repository(audit.NewMemoryRepo())
	if cfg.DatabaseEnabled() {
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return err
		}
		defer closeDB(db, log)
		repo = audit.NewPostgresRepo(db)
		log.Info("audit trail on postgres", "host", cfg.DB.Host, "db", cfg.DB.Name)
	}

	// Per-agent dial cap: Redis when configured, unlimited otherwise.
	var limiter callcenter.DialLimiter = callcenter.NoopLimiter{}
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return err
		}
		defer closeRedis(rdb, log)
		capper, err := utils.NewConcurrencyCap(rdb, cfg.Dial.CapPerAgent, cfg.Dial.CapTTL)
		if err != nil {
			return err
		}
		limiter = callcenter.RedisLimiter{Cap: capper}
		log.Info("dial cap enabled", "per_agent", cfg.Dial.CapPerAgent, "ttl", cfg.Dial.CapTTL)
	}

	gateway, err := newGateway(cfg, log)
	if err != nil {
		return err
	}

	policy, err := calls.PolicyByName(cfg.Relay.Ordering)
	if err != nil {
		return err
	}
	agents, err := calls.ParseRoster(cfg.App.AgentRoster)
	if err != nil {
		return err
	}

	store := calls.NewStore(calls.WithOrderingPolicy(policy))
	roster := calls.NewRoster(agents)
	hub := relay.NewHub(log.With("component", "relay"))

	svc, err := callcenter.NewService(callcenter.Config{
		Numbers: normalizer.NumberPolicy{
			CountryCode:    cfg.Dial.CountryCode,
			NationalDigits: cfg.Dial.NationalDigits,
		},
		QueueName:           cfg.Twilio.QueueName,
		Greeting:            cfg.Twilio.Greeting,
		HistoryDefaultLimit: cfg.Relay.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.Relay.HistoryMaxLimit,
		CommandWorkers:      cfg.Relay.CommandWorkers,
	}, callcenter.Deps{
		Store:   store,
		Roster:  roster,
		Hub:     hub,
		Gateway: gateway,
		Limiter: limiter,
		Audit:   audit.NewService(repo),
		Log:     log.With("component", "callcenter"),
	})
	if err != nil {
		return err
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	mirror := eventbus.NewMirror(publisher, cfg.Relay.BufferSize, log.With("component", "eventbus"))
	if !hub.Subscribe(mirror) {
		return errors.New("eventbus mirror could not subscribe")
	}

	var tokens *telephony.VoiceTokenIssuer
	if cfg.VoiceTokensEnabled() {
		tokens, err = telephony.NewVoiceTokenIssuer(telephony.VoiceTokenConfig{
			AccountSID:   cfg.Twilio.AccountSID,
			APIKeySID:    cfg.Twilio.APIKeySID,
			APIKeySecret: cfg.Twilio.APIKeySecret,
			TwiMLAppSID:  cfg.Twilio.TwiMLAppSID,
			TTL:          cfg.Twilio.TokenTTL,
		})
		if err != nil {
			return err
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))

	registerRoutes(r, cfg, routeDeps{
		Hub:     hub,
		Service: svc,
		Tokens:  tokens,
		Reporting: reporting.NewService(reporting.LiveSource{
			Store:  store,
			Roster: roster,
		}),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: WebSocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr, "env", cfg.App.Env, "gateway", gateway.Name(),
			"ordering", policy.Name(), "eventbus", cfg.EventBus.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	hub.Close()
	svc.Close()
	mirror.Close()
	mirror.Wait()
	if err := publisher.Close(); err != nil {
		log.Warn("eventbus publisher close failed", "err", err)
	}
	log.Info("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config, log *slog.Logger) (telephony.Gateway, error) {
	if !cfg.UsesTwilio() {
		log.Warn("TWILIO_ACCOUNT_SID not set, using sandbox gateway")
		return telephony.NewSandboxGateway(), nil
	}
	return telephony.NewTwilioGateway(telephony.TwilioConfig{
		AccountSID:         cfg.Twilio.AccountSID,
		AuthToken:          cfg.Twilio.AuthToken,
		PhoneNumber:        cfg.Twilio.PhoneNumber,
		BaseURL:            cfg.Twilio.BaseURL,
		BreakerFailures:    cfg.Breaker.ConsecutiveFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout,
	}, log.With("component", "telephony"))
}

func newPublisher(cfg *config.Config, log *slog.Logger) (eventbus.Publisher, error) {
	l := log.With("component", "eventbus")
	switch cfg.EventBus.Sink {
	case "amqp":
		return eventbus.NewAMQPPublisher(cfg.EventBus.AMQPURL, cfg.EventBus.AMQPExchange, l)
	case "kafka":
		return eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
			Brokers:         cfg.EventBus.KafkaBrokers,
			Topic:           cfg.EventBus.KafkaTopic,
			Username:        cfg.EventBus.KafkaUsername,
			Password:        cfg.EventBus.KafkaPassword,
			BreakerFailures: cfg.Breaker.ConsecutiveFailures,
			BreakerTimeout:  cfg.Breaker.OpenTimeout,
		}, l)
	}
	return eventbus.LogPublisher{Log: l}, nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("postgres close failed", "err", err)
	}
}

func closeRedis(rdb *redis.Client, log *slog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("redis close failed", "err", err)
	}
}
