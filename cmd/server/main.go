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

	"github.com/common-nighthawk/go-figure"
	"google.golang.org/grpc"

	"tellerline.org/internal/config"
	"tellerline.org/internal/httpapi"
	"tellerline.org/internal/migrate"
	"tellerline.org/internal/obs"
	"tellerline.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	appname              = "tellerline"
	bootstrapPasswordEnv = "TELLERLINE_BOOTSTRAP_PASSWORD"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	noBanner := flag.Bool("no-banner", false, "skip the startup banner")
	bootstrap := flag.String("bootstrap-admin", "", "register an administrator as username,email; password from "+bootstrapPasswordEnv)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (%s)\n", appname, version, commit)
		return
	}
	if !*noBanner {
		displayAppname(appname)
	}

	if err := run(*bootstrap); err != nil {
		log := obs.Logger()
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func displayAppname(name string) {
	myFigure := figure.NewFigure(name, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func run(bootstrapAdmin string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	obs.Init()
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()
	log.Info().Interface("config", cfg.Redacted()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store     *pg.Store
		readiness httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err = pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		readiness = httpapi.ReadyProbe{DB: store, Timeout: 2 * time.Second}

		if cfg.MigrateOnStart {
			mgr := migrate.NewManager(store.DB(), nil, nil)
			if err := mgr.Up(ctx); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			if err := mgr.Seed(ctx); err != nil {
				return fmt.Errorf("migrate seed: %w", err)
			}
		}
	} else {
		log.Warn().Msg("no database configured, using in-memory stores")
	}

	svc, err := newServices(cfg, store)
	if err != nil {
		return err
	}
	if bootstrapAdmin != "" {
		if err := svc.bootstrapAdmin(ctx, bootstrapAdmin, os.Getenv(bootstrapPasswordEnv)); err != nil {
			return err
		}
		log.Info().Msg("bootstrap administrator ensured")
	}

	api := httpapi.New(readiness, version)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(httpapi.RateConfig{PerSecond: cfg.RateLimit.PerSecond, Burst: cfg.RateLimit.Burst}),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCHealth(readiness)
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("version", version).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go health.Watch(ctx, 5*time.Second)

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
	}
	log.Info().Msg("shutting down")

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Duration)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, fmt.Errorf("http shutdown: %w", serr))
	}
	grpcSrv.GracefulStop()
	log.Info().Msg("stopped")
	return err
}
