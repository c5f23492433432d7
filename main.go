package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/dnldd/fxsignal/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		os.Exit(service.ExitConfig)
	}

	timeframes, err := cfg.ParsedTimeframes()
	if err != nil {
		log.Printf("parsing timeframes: %v", err)
		os.Exit(service.ExitConfig)
	}

	strategies, err := cfg.LoadStrategies()
	if err != nil {
		log.Printf("loading strategies: %v", err)
		os.Exit(service.ExitConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcCfg := service.SignalServiceConfig{
		Instruments:           cfg.Instruments,
		Timeframes:            timeframes,
		BrokerAPIKey:          cfg.BrokerAPIKey,
		BrokerAccountID:       cfg.BrokerAccountID,
		StoreConnection:       cfg.StoreConnection,
		StoreUser:             cfg.StoreUser,
		StorePass:             cfg.StorePass,
		WebhookURLs:           cfg.WebhookURLs,
		PortfolioInitialValue: cfg.PortfolioInitialValue,
		EmergencyEnabled:      cfg.EmergencyEnabled,
		Strategies:            strategies,
		Cancel:                cancel,
	}
	svc, err := service.NewSignalService(ctx, &svcCfg)
	if err != nil {
		log.Printf("creating signal service: %v", err)
		os.Exit(service.ExitConfig)
	}

	go handleTermination(ctx, cancel)
	os.Exit(svc.Run(ctx))
}
