package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"golang.org/x/sync/errgroup"

	"github.com/tokligence/chatrelay/internal/bootstrap"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/httpserver"
	"github.com/tokligence/chatrelay/internal/logging"
	"github.com/tokligence/chatrelay/internal/ratelimit"
	"github.com/tokligence/chatrelay/internal/version"
)

type args struct {
	Root string `arg:"--root,env:CHATRELAY_ROOT" default:"." help:"directory holding config/setting.ini"`
	Addr string `arg:"--addr" help:"listen address, overrides http_address"`
}

func (args) Version() string {
	return "relayd " + version.FullInfo()
}

func (args) Description() string {
	return "relayd relays chat requests to model providers as server-sent events"
}

func main() {
	var a args
	arg.MustParse(&a)
	if err := run(a); err != nil {
		log.Fatalf("relayd: %v", err)
	}
}

func run(a args) error {
	cfg, err := config.LoadRelayConfig(a.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.Addr != "" {
		cfg.HTTPAddress = a.Addr
	}

	logger, logCloser, err := logging.Setup(cfg.LogFile, "[relayd] ")
	if err != nil {
		return fmt.Errorf("init rotating log: %w", err)
	}
	defer logCloser.Close()
	log.SetOutput(logger.Writer())
	log.SetFlags(logger.Flags())
	log.SetPrefix("[relayd] ")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conversations, err := bootstrap.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer conversations.Close()

	exchanges, err := bootstrap.OpenLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer exchanges.Close()

	models, err := bootstrap.OpenCatalog(cfg)
	if err != nil {
		return err
	}
	models.SetLogger(logger)

	providers, err := bootstrap.BuildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cfg.DefaultModel == "" {
		providers.SetDefaultModel(models.Default().ID)
	}

	httpSrv := httpserver.New(providers, conversations, exchanges, models)
	httpSrv.SetLogger(cfg.LogLevel, log.New(logger.Writer(), "[relayd/http] ", log.LstdFlags|log.Lmicroseconds))
	if cfg.ChatRateLimit > 0 {
		httpSrv.SetChatRateLimit(ratelimit.New(cfg.ChatRateLimit, cfg.ChatRateBurst))
		logger.Printf("chat rate limit: %d/min per client", cfg.ChatRateLimit)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		// chat streams clear their own write deadline
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("relayd %s listening on %s env=%s", version.Info(), cfg.HTTPAddress, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.ModelsFile != "" {
		g.Go(func() error {
			return models.Watch(gctx, cfg.ModelsFile)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Printf("relayd stopped")
	return err
}
