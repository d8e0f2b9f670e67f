package main

import (
	"flag"
	"log"
	"os"

	"GridCast/internal/di"
	"GridCast/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s source=%s backend=%s entities=%d",
		cfg.Environment, cfg.Ingest.Source, cfg.Ingest.Backend, len(cfg.Entities))

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: connected and schema ready - db: %s\n", cfg.ClickHouse.Database)
	log.Printf("kafka: connected brokers=%v topics=[%s %s %s]",
		cfg.Kafka.Brokers, cfg.Kafka.TelemetryTopic, cfg.Kafka.ForecastTopic, cfg.Kafka.PriceTopic)

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
