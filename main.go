package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fxgateway/config"
	"fxgateway/internal/backfill"
	"fxgateway/internal/broadcast"
	"fxgateway/internal/bus"
	"fxgateway/internal/feed"
	"fxgateway/internal/feed/sim"
	"fxgateway/internal/gateway"
	"fxgateway/internal/lane"
	"fxgateway/internal/publish"
	"fxgateway/internal/router"
	"fxgateway/internal/state"
	"fxgateway/internal/supervisor"
	"fxgateway/logger"
	"fxgateway/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
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

	log.WithFields(logger.Fields{
		"service": cfg.Gateway.Name,
		"version": cfg.Gateway.Version,
	}).Info("starting fxgateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bus must be reachable before the feed session opens; a gateway that
	// cannot publish is worse than one that is down.
	redisBus := bus.NewRedisBus(cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisBus.Ping(pingCtx)
	pingCancel()
	if err != nil {
		log.WithError(err).Error("Redis is not reachable, refusing to start")
		os.Exit(1)
	}
	defer redisBus.Close()

	periods, err := parsePeriods(cfg.Feed.Periods)
	if err != nil {
		log.WithError(err).Error("Invalid period configuration")
		os.Exit(1)
	}

	publisher := publish.NewPublisher(redisBus, cfg.KLine.StorageLimit)
	if err := publisher.SaveConfigInstruments(ctx, cfg.Feed.Instruments); err != nil {
		log.WithError(err).Warn("failed to save instrument configuration to bus")
	}
	if err := publisher.SaveConfigPeriods(ctx, periodLabels(periods)); err != nil {
		log.WithError(err).Warn("failed to save period configuration to bus")
	}

	store := state.NewStore(publisher)
	subs := state.NewSubscriptionSet()
	periodSet := state.NewPeriodSet(periods)

	eventLane := lane.New(func(job string, err error) {
		publisher.PublishError(ctx, fmt.Sprintf("Error processing %s: %s", job, err.Error()))
	})
	// The lane gets its own context so shutdown drains the queue instead of
	// abandoning it; Stop closes the intake.
	if err := eventLane.Start(context.Background()); err != nil {
		log.WithError(err).Error("Failed to start event lane")
		os.Exit(1)
	}

	var hub *broadcast.Hub
	var tickHub gateway.TickBroadcaster
	if cfg.WebSocket.Enabled {
		hub = broadcast.NewHub(cfg.WebSocket.Addr)
		if err := hub.Start(ctx); err != nil {
			log.WithError(err).Error("Failed to start websocket hub")
			os.Exit(1)
		}
		tickHub = hub
	}

	strategy := gateway.NewStrategy(subs, periodSet, store, publisher, eventLane, tickHub)

	coordinator := backfill.NewCoordinator(
		cfg.Feed.Instruments, periodSet, subs, strategy, publisher,
		cfg.KLine.StorageLimit,
		cfg.Backfill.PollInterval, cfg.Backfill.PollTimeout,
		float64(cfg.Backfill.RequestsPerSecond),
	)
	strategy.OnSessionStarted(func(fctx feed.Context) {
		go func() {
			if err := coordinator.Run(ctx, fctx); err != nil {
				log.WithError(err).Error("subscription and backfill pass failed")
				publisher.PublishError(ctx, "Failed to subscribe instruments: "+err.Error())
			}
		}()
	})

	client, err := newFeedClient(cfg.Feed.Driver)
	if err != nil {
		log.WithError(err).Error("Failed to create feed client")
		os.Exit(1)
	}

	fatal := make(chan struct{}, 1)
	super := supervisor.New(client, strategy, publisher, cfg.Feed.RetryBudget, func() {
		select {
		case fatal <- struct{}{}:
		default:
		}
	})

	commandRouter := router.NewRouter(redisBus, strategy, publisher)
	if err := commandRouter.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start command router")
		os.Exit(1)
	}

	if err := super.Connect(cfg.Feed.URL, cfg.Feed.Username, cfg.Feed.Password); err != nil {
		log.WithError(err).Error("Failed to initiate feed connection")
		os.Exit(1)
	}
	if err := super.WaitConnected(ctx, cfg.Feed.ConnectWait); err != nil {
		log.WithError(err).Error("Feed connection not confirmed")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-fatal:
		log.Error("feed session terminated, shutting down")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping feed session")
	super.Shutdown()

	log.Info("stopping command router")
	commandRouter.Stop()

	log.Info("draining event lane")
	eventLane.Stop()

	if hub != nil {
		log.Info("stopping websocket hub")
		hub.Stop()
	}

	log.Info("fxgateway stopped")
	os.Exit(exitCode)
}

func parsePeriods(names []string) ([]models.Period, error) {
	periods := make([]models.Period, 0, len(names))
	for _, name := range names {
		p, err := models.ParsePeriod(name)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, nil
}

func periodLabels(periods []models.Period) []string {
	labels := make([]string, 0, len(periods))
	for _, p := range periods {
		labels = append(labels, p.Label())
	}
	return labels
}

func newFeedClient(driver string) (feed.Client, error) {
	switch driver {
	case "sim":
		return sim.NewClient(), nil
	default:
		return nil, fmt.Errorf("unknown feed driver '%s'", driver)
	}
}
