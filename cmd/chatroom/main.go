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

	"chatroom/internal/config"
	"chatroom/internal/jwtsigner"
	"chatroom/internal/observability/logging"
	"chatroom/internal/observability/metrics"
	impl "chatroom/internal/service/impl"
	"chatroom/internal/session"
	"chatroom/internal/store"
	"chatroom/internal/sweeper"
	httpx "chatroom/internal/transport/http"
	"chatroom/internal/transport/ws"
	"chatroom/pkg/db"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "chatroom",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("chatroom")

	if err := run(cfg); err != nil {
		logger.Error("chatroom exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting service", "driver", cfg.DatabaseDriver)

	gdb, err := db.OpenGorm(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	st := store.New(gdb)
	if cfg.AutoMigrate {
		if err := st.AutoMigrate(ctx); err != nil {
			return err
		}
	}
	if cfg.PresenceResetOnStart {
		n, err := st.Presence().DeleteAll(ctx)
		if err != nil {
			return err
		}
		slog.Info("presence reset", "removed", n)
	}

	signer, err := jwtsigner.NewFromBase64(cfg.SigningKey, cfg.SigningKeyID, cfg.Issuer)
	if err != nil {
		return err
	}
	if cfg.SigningKey == "" {
		slog.Warn("SIGNING_KEY not set, using an ephemeral key; credentials will not survive a restart")
	}

	tokens := impl.NewTokenServiceImpl(impl.TokenConfig{
		AccessTTL:         cfg.AccessTTL,
		SingleDeviceLogin: cfg.SingleDeviceLogin,
		StoreTimeout:      cfg.StoreTimeout,
	}, signer, st)
	auth := impl.NewAuthServiceImpl(st, impl.NewPasswordServiceArgon2id(), tokens)
	auth.StoreTimeout = cfg.StoreTimeout

	hub := ws.NewHub()
	go hub.Run()

	reconciler := session.NewReconciler(st, session.NewRegistry(), hub, session.Config{
		StoreTimeout:     cfg.StoreTimeout,
		HistoryLimit:     cfg.HistoryLimit,
		HistoryMax:       cfg.HistoryMax,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	wsHandler := ws.NewHandler(hub, tokens, reconciler, ws.Config{
		MaxFrameBytes:  cfg.WSMaxFrameBytes,
		SendBuffer:     cfg.WSSendBuffer,
		RateBurst:      cfg.WSRateBurst,
		RatePerSecond:  cfg.WSRatePerSecond,
		HistoryLimit:   cfg.HistoryLimit,
		AllowedOrigins: cfg.CORSOrigins,
		TrustProxy:     cfg.TrustProxy,
	})

	router := httpx.NewRouter(httpx.Deps{
		Auth:              auth,
		Tokens:            tokens,
		Chat:              reconciler,
		WS:                wsHandler,
		Ping:              st.Ping,
		CORSOrigins:       cfg.CORSOrigins,
		AuthRatePerMinute: cfg.AuthRatePerMinute,
		TrustProxy:        cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chatroom listening", "addr", srv.Addr, "issuer", cfg.Issuer, "single_device_login", cfg.SingleDeviceLogin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx, tokens, cfg.SweepInterval, cfg.StoreTimeout)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		// Sockets are hijacked and not covered by srv.Shutdown.
		return hub.Shutdown(shutdownTimeout)
	})

	return g.Wait()
}
