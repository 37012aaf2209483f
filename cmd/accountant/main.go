// Command accountant runs a single-node transaction ledger. It serves the
// datagram protocol over UDP, a JSON API and Prometheus metrics over HTTP,
// and the standard gRPC health service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/accountant/internal/api"
	"github.com/jmerrifield20/accountant/internal/config"
	"github.com/jmerrifield20/accountant/internal/ratelimit"
	"github.com/jmerrifield20/accountant/internal/rpc"
	"github.com/jmerrifield20/accountant/pkg/keys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// serviceName is the gRPC health service name reported as SERVING.
const serviceName = "accountant.v1.Accountant"

func main() {
	configFile := flag.String("config", "", "config file (default: accountant.yaml in ./configs or .)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "accountant: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a production zap logger at the given level, falling back
// to info for an unparsable level.
func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

func run(configFile string) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, found, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Ledger ───────────────────────────────────────────────────────────────
	g, err := cfg.BuildGenesis()
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	acc, err := g.Accountant(logger)
	if err != nil {
		return err
	}
	if err := acc.Verify(); err != nil {
		return fmt.Errorf("ledger integrity check: %w", err)
	}
	logger.Info("ledger ready",
		zap.String("genesis", keys.EncodeDigest(g.ID)),
		zap.Int("accounts", len(g.Allocations)),
		zap.Uint64("supply", g.Supply),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── UDP RPC server ───────────────────────────────────────────────────────
	pc, err := net.ListenPacket("udp", cfg.RPC.Addr)
	if err != nil {
		return fmt.Errorf("rpc listen on %s: %w", cfg.RPC.Addr, err)
	}
	defer pc.Close()

	rpcSrv := rpc.New(acc, logger)
	rpcSrv.SetWorkers(cfg.RPC.Workers)
	if cfg.RPC.RateLimitRPS > 0 {
		rpcSrv.SetRateLimiter(ratelimit.New(cfg.RPC.RateLimitRPS, cfg.RPC.RateLimitRPS*2))
	}
	rpcDone := make(chan error, 1)
	go func() { rpcDone <- rpcSrv.Serve(ctx, pc) }()

	// ── HTTP API ─────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(acc, logger), api.RouterConfig{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
	}, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP listening", zap.Int("port", cfg.HTTP.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", cfg.GRPC.Port, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		logger.Info("gRPC health listening", zap.Int("port", cfg.GRPC.Port))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-rpcDone:
		if err != nil {
			logger.Error("rpc server stopped", zap.Error(err))
		}
	}
	logger.Info("shutting down accountant...")

	healthSvc.Shutdown()
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	acc.Finalize()
	logger.Info("accountant stopped",
		zap.String("head", keys.EncodeDigest(acc.CurrentID())),
		zap.Int("entries", acc.Len()),
	)
	return nil
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.Bool("ok", err == nil),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
