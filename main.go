package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradedash/config"
	"tradedash/internal/coordinator"
	"tradedash/internal/dashboard"
	"tradedash/internal/metrics"
	"tradedash/internal/orders"
	"tradedash/internal/snapshot"
	"tradedash/internal/venue"
	"tradedash/logger"
	"tradedash/reader"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithEnv("APP_ENV", "LOG_LEVEL").WithFields(logger.Fields{
		"service":  cfg.App.Name,
		"version":  cfg.App.Version,
		"env":      env,
		"base_url": cfg.API.BaseURL,
	}).Info("starting tradedash")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	metrics.Init()
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		err := metrics.InitCloudWatch(ctx, metrics.CloudWatchOptions{
			Region:          cw.Region,
			Namespace:       cw.Namespace,
			Dashboard:       cw.Dashboard,
			AccessKeyID:     cw.AccessKeyID,
			SecretAccessKey: cw.SecretAccessKey,
		})
		if err != nil {
			if config.IsProductionLike(env) {
				log.WithError(err).Error("failed to initialise CloudWatch")
				os.Exit(1)
			}
			log.WithError(err).Warn("CloudWatch metrics disabled")
		}
	}

	streamURL, err := venue.StreamURL(cfg.API.BaseURL)
	if err != nil {
		log.WithError(err).Error("invalid api.base_url")
		os.Exit(1)
	}

	httpClient := venue.NewHTTPClient(cfg.API.Timeout, cfg.API.UserAgent)
	fetcher := snapshot.NewHTTPFetcher(cfg.API.BaseURL, httpClient, log)
	orderClient := orders.NewClient(cfg.API.BaseURL, httpClient, cfg.Orders.RatePerSecond, cfg.Orders.Burst)
	dialer := reader.NewWSDialer(cfg.API.Timeout, cfg.API.UserAgent)

	coord := coordinator.New(coordinator.Config{
		RefreshInterval:     cfg.Sync.RefreshInterval,
		FailureThreshold:    cfg.Sync.FailureThreshold,
		RefreshOnTradeEvent: cfg.Sync.RefreshOnTradeEvent,
		EventBuffer:         cfg.Sync.EventBuffer,
	}, coordinator.Deps{
		Source: fetcher,
		Orders: orderClient,
		NewStream: func(h reader.Handlers) coordinator.Stream {
			return reader.NewManager(reader.Config{
				URL:              streamURL,
				PingInterval:     cfg.Stream.PingInterval,
				ReadTimeout:      cfg.Stream.ReadTimeout,
				HandshakeTimeout: cfg.API.Timeout,
				BackoffMin:       cfg.Stream.Backoff.Min,
				BackoffMax:       cfg.Stream.Backoff.Max,
				BackoffFactor:    cfg.Stream.Backoff.Factor,
			}, dialer, h)
		},
	})

	dash, err := dashboard.NewServer(cfg.Dashboard, coord, cfg.Orders.DefaultQuantity, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	if err := coord.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start sync coordinator")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Error("dashboard stopped")
				cancel()
			}
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()
	coord.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tradedash stopped")
}
