package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/example/recon-engine/internal/api"
	"github.com/example/recon-engine/internal/bootstrap"
	"github.com/example/recon-engine/internal/config"
	"github.com/example/recon-engine/internal/rpc"
	"github.com/example/recon-engine/internal/security"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("recond stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	allowlist, err := security.ParseCIDRAllowlist(cfg.HTTP.IPAllowlist)
	if err != nil {
		return err
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Service:      app.Service,
		Auditor:      app.Audit,
		RateLimiter:  app.RateLimiter(),
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	var tlsCfg *tls.Config
	if app.TLSConfig().Enabled() {
		tlsCfg, err = security.LoadServerTLSConfig(app.TLSConfig())
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		TLSConfig:         tlsCfg,
	}
	httpLn, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		httpLn = tls.NewListener(httpLn, tlsCfg)
	}

	var grpcOpts []grpc.ServerOption
	if tlsCfg != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	grpcServer := rpc.NewServer(app.Service, logger, grpcOpts...)
	grpcLn, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		_ = httpLn.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTP.Addr, "tls", tlsCfg != nil)
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", "addr", cfg.GRPC.Addr, "tls", tlsCfg != nil)
		return grpcServer.Serve(grpcLn)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
