package main

import (
	"context"
	"flag"
	"log"
	"os"

	"FinTrain/internal/di"
	"FinTrain/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	once := flag.Bool("once", false, "run one full retraining pass and exit")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s source=%s symbols=%v", cfg.Environment, cfg.MarketData.Source, cfg.Symbols)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: connected and schema ready - db: %s", cfg.ClickHouse.Database)

	if *once {
		report, err := app.RunOnce(context.Background())
		if err != nil {
			log.Printf("run error: %v", err)
			os.Exit(1)
		}
		log.Printf("run complete: %d/%d updated in %.1fs",
			report.SuccessfulUpdates, report.TotalSymbols, report.DurationSeconds)
		return
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
