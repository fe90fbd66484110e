// Command bot runs the scheduled 0DTE spread trader: it sells defined-risk
// SPX structures at configured checkpoints, monitors them to a profit
// target or time exit, and settles whatever remains at end of day.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/dashboard"
	"github.com/eddiefleurent/stamford_condor/internal/metrics"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Secrets come from the environment; a local .env is a convenience,
	// not a requirement.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: loading .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("Starting 0DTE trader in %s mode", cfg.Environment.Mode)

	client := broker.NewClient(cfg.Broker.APIEndpoint, cfg.Broker.ClientSecret,
		cfg.Broker.RefreshToken, cfg.Broker.SnapshotWindow.Std())
	marketData := broker.NewCircuitBreakerBroker(client)

	store := storage.NewCSVStore(cfg.Storage.Path, cfg.Location(), logger)
	if err := store.Load(); err != nil {
		log.Fatalf("Failed to load trade record: %v", err)
	}

	var sender notify.Sender
	if url := cfg.Notifications.DiscordWebhookURL; url != "" {
		sender = notify.NewDiscordSender(url)
		logger.Printf("Discord notifications enabled")
	}
	notifier := notify.NewNotifier(sender, logger)

	m := metrics.New()
	bot := newBot(cfg, marketData, store, notifier, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(ctx) })

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if cfg.Environment.LogLevel == "debug" {
			dashLogger.SetLevel(logrus.DebugLevel)
		}
		srv := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, m.Handler(), dashLogger)

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Trader exited: %v", err)
	}
	logger.Printf("Shutdown complete")
}
