package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/trustgate/internal/audit"
	"github.com/danielpatrickdp/trustgate/internal/config"
	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/mcptool"
	"github.com/danielpatrickdp/trustgate/internal/observability"
	"github.com/danielpatrickdp/trustgate/internal/pipeline"
	"github.com/danielpatrickdp/trustgate/internal/rpc"
	"github.com/danielpatrickdp/trustgate/internal/store"
	"github.com/danielpatrickdp/trustgate/internal/throttle"
)

const version = "0.1.0"

// #region main
func main() {
	mode := pflag.String("mode", "grpc", "serving mode: grpc or mcp")
	listen := pflag.String("listen", "", "gRPC listen address (overrides TRUSTGATE_LISTEN)")
	policyFile := pflag.String("policy", "", "tenant policy YAML (overrides TRUSTGATE_POLICY_FILE)")
	retention := pflag.Duration("retention", 0, "prune samples older than this; 0 keeps everything")
	debug := pflag.Bool("debug", false, "log at debug level (overrides TRUSTGATE_LOG_LEVEL)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *policyFile != "" {
		cfg.PolicyFile = *policyFile
	}
	if *debug {
		cfg.LogLevel = slog.LevelDebug
	}

	// stdout carries the MCP protocol, so logs always go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, *retention, logger); err != nil {
		logger.Error("trustgate exited", "error", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run
func run(ctx context.Context, cfg *config.Config, mode string, retention time.Duration, logger *slog.Logger) error {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	provider, err := observability.New(ctx, obsCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics(provider.Meter())
	if err != nil {
		return err
	}

	samples, err := store.NewSampleStore(cfg.SampleDB)
	if err != nil {
		return err
	}
	defer samples.Close()

	policy := config.StaticPolicy(cfg.Gate)
	if cfg.PolicyFile != "" {
		if policy, err = config.LoadPolicy(cfg.PolicyFile, cfg.Gate); err != nil {
			return err
		}
		logger.Info("policy loaded", "file", cfg.PolicyFile, "tenants", policy.TenantNames())
	}

	sink, closers, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close audit sink", "error", err)
			}
		}
	}()

	emitter := throttle.NewEmitter(cfg.EmitInterval)
	p, err := pipeline.New(samples, policy, sink,
		pipeline.WithWindow(cfg.Window),
		pipeline.WithThrottle(emitter),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(provider.Tracer()),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	go maintain(ctx, samples, emitter, retention, logger)

	logger.Info("trustgate starting",
		"mode", mode,
		"threshold", cfg.Gate.Threshold,
		"weights", cfg.Gate.Weights,
		"deny_tags", cfg.Gate.DenyTags,
		"window", cfg.Window,
		"call_overrides", cfg.AllowCallOverrides,
	)

	switch mode {
	case "grpc":
		return serveGRPC(ctx, cfg, p, logger)
	case "mcp":
		srv := mcptool.NewServer(mcptool.Config{
			Name:           "trustgate",
			Version:        version,
			AllowOverrides: cfg.AllowCallOverrides,
		}, p, logger)
		return srv.Serve()
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// buildSink assembles the audit chain: the durable SQL store first, then the
// structured log, then the optional JSONL and Redis stream mirrors.
func buildSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gate.Sink, []io.Closer, error) {
	var closers []io.Closer

	var sqlSink *audit.SQLSink
	var err error
	if cfg.AuditIsPostgres() {
		sqlSink, err = audit.NewPostgresSink(ctx, cfg.AuditDSN)
	} else {
		sqlSink, err = audit.NewSQLiteSink(cfg.AuditDSN)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := sqlSink.Migrate(ctx); err != nil {
		sqlSink.Close()
		return nil, nil, err
	}
	closers = append(closers, sqlSink)

	sinks := audit.Multi{sqlSink, audit.NewLogSink(logger)}

	if cfg.AuditJSONL != "" {
		j, err := audit.NewJSONLSink(cfg.AuditJSONL)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, j)
		sinks = append(sinks, j)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			closeAll(closers)
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		s := audit.NewStreamSink(client, cfg.RedisStream, 0)
		closers = append(closers, s)
		sinks = append(sinks, s)
	}

	if cfg.AsyncAudit {
		logger.Warn("async audit enabled: decisions are returned before they are durable")
		a := audit.NewAsyncSink(sinks, cfg.AuditQueueSize, logger)
		// The async sink drains into the others, so it closes first.
		closers = append(closers, a)
		return a, closers, nil
	}
	return sinks, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

func serveGRPC(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	auth := rpc.NewAuthenticator([]byte(cfg.JWTSecret))
	if auth == nil {
		logger.Warn("grpc authentication disabled; set TRUSTGATE_JWT_SECRET to require bearer tokens")
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		rpc.LoggingInterceptor(logger),
		rpc.AuthInterceptor(auth),
	))
	rpc.RegisterTrustGateServer(srv, rpc.NewServer(p, logger, rpc.WithCallOverrides(cfg.AllowCallOverrides)))

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.GracefulStop()
	}()

	logger.Info("grpc listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// maintain evicts idle throttle state and prunes expired samples.
func maintain(ctx context.Context, samples *store.SampleStore, emitter *throttle.Emitter, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// Forget never evicts an actor still inside its emit interval.
			if n := emitter.Forget(10 * time.Minute); n > 0 {
				logger.Debug("throttle state evicted", "actors", n)
			}
			if retention <= 0 {
				continue
			}
			n, err := samples.Prune(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("prune samples", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("samples pruned", "rows", n)
			}
		}
	}
}

// #endregion run
