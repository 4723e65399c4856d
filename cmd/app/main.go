package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/config"
	"xevivu-client/internal/logger"
	"xevivu-client/internal/provider"
	"xevivu-client/internal/upload"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; environment variables win over the yaml file either way.
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	log := logger.WithService("app")
	log.Info("Starting xevivu client", "backend_url", cfg.Backend.URL)

	store, err := backend.NewLocalStore(cfg.Local.DataDir)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey)
	auth := backend.NewAuth(client, store)
	tables := backend.NewTables(client, auth)
	storage := backend.NewStorage(client, auth)
	realtime := backend.NewRealtime(cfg.Backend.URL, cfg.Backend.AnonKey)

	carsNorm := upload.NewNormalizer(cfg.Backend.URL, cfg.Storage.CarsBucket)
	slipsNorm := upload.NewNormalizer(cfg.Backend.URL, cfg.Storage.SlipsBucket)
	uploader := upload.NewUploader(storage, carsNorm, slipsNorm, cfg.Storage.CacheDir)

	session := provider.NewSessionProvider(auth, tables)
	cars := provider.NewCarProvider(tables, uploader, session, realtime)
	bookings := provider.NewBookingProvider(tables, uploader, session, realtime)
	favorites := provider.NewFavoritesProvider(store)

	ctx := context.Background()
	session.Start(ctx)
	cars.Start(ctx)
	bookings.Start(ctx)

	log.Info("Providers ready",
		"signed_in", session.Current() != nil,
		"cars", len(cars.Cars()),
		"favorites", len(favorites.IDs()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	bookings.Close()
	cars.Close()
	session.Close()
	return nil
}
