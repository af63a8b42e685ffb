package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"twocheck/config"
	"twocheck/core/events"
	"twocheck/core/protocol"
	"twocheck/gateway"
	"twocheck/gateway/middleware"
	"twocheck/ledger"
	"twocheck/notify"
	"twocheck/observability/logging"
	"twocheck/observability/otel"
	"twocheck/storage"
)

const serviceName = "twocheckd"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TWOCHECK_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup(serviceName, env, cfg.Log)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error("failed to load policy", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdown, err := otel.Init(ctx, serviceName, env, cfg.Telemetry)
		if err != nil {
			logger.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	store := storage.NewStore()
	persistence, err := storage.OpenPersistence(filepath.Join(cfg.DataDir, "twocheck.db"))
	if err != nil {
		logger.Error("failed to open persistence", "error", err)
		os.Exit(1)
	}
	defer persistence.Close()
	if err := persistence.Restore(store); err != nil {
		logger.Error("failed to restore state", "error", err)
		os.Exit(1)
	}

	var sink events.Emitter = events.NoopEmitter{}
	var notifier notify.Sender = notify.NoopSender{}
	if cfg.Webhook.Endpoint != "" {
		webhook, err := notify.NewWebhookSender(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret))
		if err != nil {
			logger.Error("failed to configure webhook sender",
				"endpoint", cfg.Webhook.Endpoint,
				logging.MaskField("secret", cfg.Webhook.Secret),
				"error", err,
			)
			os.Exit(1)
		}
		defer webhook.Close()
		notifier = webhook
	}

	var chain ledger.Client = ledger.NoopClient{}
	if cfg.Ledger.URL != "" {
		chain = ledger.NewRPCClient(cfg.Ledger.URL, cfg.Ledger.AuthToken, cfg.Ledger.Timeout.Std())
	}

	proto := protocol.New(protocol.Options{
		Policy:   policy,
		Store:    store,
		Emitter:  sink,
		Notifier: notifier,
		Ledger:   chain,
		Logger:   logger,
	})

	go proto.Run(ctx)
	go persistence.RunSnapshots(ctx, store, 30*time.Second, logger)

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		rateLimits[name] = middleware.RateLimit{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
		}
	}
	server := gateway.NewServer(proto, gateway.Config{
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Std(),
		},
		RateLimits: rateLimits,
		Observability: middleware.ObservabilityConfig{
			ServiceName: serviceName,
			Enabled:     true,
			LogRequests: env != "production",
		},
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "address", cfg.ListenAddress, "env", env)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	if err := persistence.Snapshot(store); err != nil {
		logger.Warn("final snapshot failed", "error", err)
	}
	logger.Info("shutdown complete")
}
