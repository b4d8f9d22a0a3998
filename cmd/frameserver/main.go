package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/framesocket"
	"github.com/Zereker/framesocket/internal/config"
	"github.com/Zereker/framesocket/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "frameserver: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logOut io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	zl := observability.InitLogger("frameserver", cfg.LogLevel, cfg.LogNoColor, logOut)
	logger := observability.NewLogger(zl)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	handler, err := newHandler(cfg, logger, metrics)
	if err != nil {
		return err
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", cfg.Addr)
	}
	srv, err := framesocket.New(addr,
		framesocket.ServerLoggerOption(logger),
		framesocket.ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
		framesocket.ServerMaxConnsOption(cfg.MaxConns),
	)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := srv.Serve(gctx, handler)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.AdminAddr != "" {
		admin := observability.NewAdmin(cfg.Mode, reg, zl, cfg.CorsOrigins)
		httpSrv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		admin.SetReady(true)

		group.Go(func() error {
			zl.Info().Str("addr", cfg.AdminAddr).Msg("admin listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			admin.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	zl.Info().Str("addr", cfg.Addr).Str("mode", cfg.Mode).Msg("frameserver starting")
	return group.Wait()
}

func parseConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("frameserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	addr := fs.String("addr", "", "listen address (default :8080)")
	mode := fs.String("mode", "", "framing mode: raw or http")
	adminAddr := fs.String("admin", "", "admin HTTP address, empty disables it")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	config.ApplyEnv(&cfg)

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newHandler(cfg config.Config, logger framesocket.Logger, metrics framesocket.Metrics) (framesocket.Handler, error) {
	common := []framesocket.Option{
		framesocket.LoggerOption(logger),
		framesocket.MetricsOption(metrics),
		framesocket.ReadTimeoutOption(cfg.ReadTimeout),
		framesocket.WriteTimeoutOption(cfg.WriteTimeout),
	}

	switch cfg.Mode {
	case config.ModeHTTP:
		codec := &framesocket.HTTPCodec{MaxRequestSize: cfg.MaxRequestSize}
		return framesocket.NewHTTPHandler(framesocket.Uppercase,
			append(common, framesocket.CustomCodecOption(codec))...)
	default:
		limits := framesocket.Limits{MaxPayload: cfg.MaxPayload, ChunkSize: cfg.ChunkSize}
		return framesocket.NewFrameHandler(framesocket.Uppercase, limits, common...)
	}
}
