package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"FinAlloc/internal/di"
	"FinAlloc/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	mode := flag.String("mode", "", "run mode: backtest, live or serve (overrides config)")
	flag.Parse()

	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := cfg.Validate(); err != nil {
			log.Fatalf("config invalid for mode %s: %v", *mode, err)
		}
	}

	log.Printf("env=%s mode=%s source=%s broker=%s", cfg.Environment, cfg.Mode, cfg.Data.Source, cfg.Live.Broker)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(cfg.Mode); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
