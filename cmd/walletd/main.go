package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/jmerrifield20/MultiSigWallet/internal/api"
	"github.com/jmerrifield20/MultiSigWallet/internal/caller"
	"github.com/jmerrifield20/MultiSigWallet/internal/eventlog"
	"github.com/jmerrifield20/MultiSigWallet/internal/health"
	"github.com/jmerrifield20/MultiSigWallet/internal/identity"
	"github.com/jmerrifield20/MultiSigWallet/internal/publisher"
	"github.com/jmerrifield20/MultiSigWallet/internal/store"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("walletd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("walletd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.grpc_port", 9090)
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("wallet.name", "default")
	viper.SetDefault("wallet.owners", []string{})
	viper.SetDefault("wallet.threshold", 1)
	viper.SetDefault("database.url", "")
	viper.SetDefault("identity.key_file", "keys/signing.pem")
	viper.SetDefault("identity.issuer", "msig-walletd")
	viper.SetDefault("identity.token_ttl_seconds", 3600)
	viper.SetDefault("identity.challenge_ttl_seconds", 300)
	viper.SetDefault("caller.routes", map[string]string{})
	viper.SetDefault("caller.secret", "")
	viper.SetDefault("caller.timeout", "10s")
	viper.SetDefault("health.check_interval", "1m")
	viper.SetDefault("health.probe_timeout", "5s")
	viper.SetDefault("health.fail_threshold", 3)
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "wallet.events")
	viper.SetDefault("kafka.acks", -1)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	owners, err := parseOwners(viper.GetStringSlice("wallet.owners"))
	if err != nil {
		return err
	}
	callTimeout, err := parseDuration("caller.timeout")
	if err != nil {
		return err
	}
	checkInterval, err := parseDuration("health.check_interval")
	if err != nil {
		return err
	}
	probeTimeout, err := parseDuration("health.probe_timeout")
	if err != nil {
		return err
	}
	walletName := viper.GetString("wallet.name")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		st     wallet.Store
		events eventlog.Log
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		st = store.NewPostgresStore(db, logger)
		events = eventlog.NewPostgresLog(db, logger)
	} else {
		logger.Warn("database.url not set; wallet state is in-memory and lost on exit")
		st = store.NewMemoryStore()
		events = eventlog.NewMemoryLog()
	}

	if err := events.Verify(ctx); err != nil {
		logger.Warn("event log integrity check FAILED", zap.Error(err))
	} else {
		n, _ := events.Len(ctx)
		root, _ := events.Root(ctx)
		logger.Info("event log verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Event publisher ──────────────────────────────────────────────────────
	pub, err := publisher.New(publisher.Config{
		Enabled: viper.GetBool("kafka.enabled"),
		Brokers: viper.GetStringSlice("kafka.brokers"),
		Topic:   viper.GetString("kafka.topic"),
		Acks:    viper.GetInt("kafka.acks"),
	}, walletName, logger)
	if err != nil {
		return fmt.Errorf("event publisher: %w", err)
	}
	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("start event publisher: %w", err)
	}

	// ── External calls ───────────────────────────────────────────────────────
	routes, err := caller.ParseRoutes(viper.GetStringMapString("caller.routes"))
	if err != nil {
		return err
	}
	calls := caller.New(walletName, routes, viper.GetString("caller.secret"), callTimeout, logger)
	calls.SetMetricsRecorder(api.RecordCall)

	// ── Wallet ───────────────────────────────────────────────────────────────
	w, err := wallet.Open(ctx, st, owners, viper.GetInt("wallet.threshold"),
		wallet.WithLogger(logger),
		wallet.WithCaller(calls),
		wallet.WithObserver(api.RecordOperation),
		wallet.WithSink(eventlog.Recorder(events)),
		wallet.WithSink(pub),
	)
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	balance, _ := w.Balance(ctx)
	count, _ := w.TransactionCount(ctx)
	logger.Info("wallet ready",
		zap.String("wallet", walletName),
		zap.Int("owners", len(owners)),
		zap.Int("threshold", w.Threshold()),
		zap.Int("transactions", count),
		zap.String("balance", balance.String()),
	)

	// ── Identity ─────────────────────────────────────────────────────────────
	signingKey, err := identity.LoadOrCreateKey(viper.GetString("identity.key_file"))
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	tokens := identity.NewTokenIssuer(signingKey, viper.GetString("identity.issuer"),
		time.Duration(viper.GetInt("identity.token_ttl_seconds"))*time.Second)
	challenges := identity.NewChallengeStore(
		time.Duration(viper.GetInt("identity.challenge_ttl_seconds")) * time.Second)

	// ── Background: expire stale login challenges every minute ──────────────
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := challenges.Evict(); n > 0 {
					logger.Debug("evicted expired challenges", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── HTTP ─────────────────────────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Config{
		Wallet:      w,
		Tokens:      tokens,
		Challenges:  challenges,
		Events:      events,
		Calls:       calls,
		CORSOrigins: viper.GetStringSlice("server.cors_origins"),
		RateLimit:   viper.GetInt("server.rate_limit_rps"),
		Logger:      logger,
	})

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcPort := viper.GetInt("server.grpc_port")
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthSvc := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	// ── Background: probe external call routes ──────────────────────────────
	checker := health.New(routes, health.Config{
		CheckInterval: checkInterval,
		ProbeTimeout:  probeTimeout,
		FailThreshold: viper.GetInt("health.fail_threshold"),
	}, logger)
	checker.SetMetricsRecord(api.RecordProbe)
	checker.SetStatusHook(func(to common.Address, healthy bool) {
		serving := grpc_health_v1.HealthCheckResponse_SERVING
		if !healthy {
			serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		healthSvc.SetServingStatus(routeService(to), serving)
	})
	for to := range routes {
		healthSvc.SetServingStatus(routeService(to), grpc_health_v1.HealthCheckResponse_SERVING)
	}
	go checker.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("walletd gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("gRPC serve: %w", err)
		}
	}()
	go func() {
		logger.Info("walletd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP listen: %w", err)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("shutting down walletd...")
	healthSvc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := pub.Stop(shutdownCtx); err != nil {
		logger.Error("event publisher shutdown error", zap.Error(err))
	}

	logger.Info("walletd stopped")
	return runErr
}

// parseOwners converts the configured hex addresses.
func parseOwners(raw []string) ([]common.Address, error) {
	owners := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("wallet.owners: %q is not a hex address", s)
		}
		owners = append(owners, common.HexToAddress(s))
	}
	return owners, nil
}

// parseDuration reads a positive duration setting.
func parseDuration(key string) (time.Duration, error) {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: %q must be positive", key, raw)
	}
	return d, nil
}

// routeService names the gRPC health entry of a call route.
func routeService(to common.Address) string {
	return "wallet.route." + to.Hex()
}

// loggingInterceptor logs each unary gRPC call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
