// Command fleetmonitor is the factory fleet health monitor's long-running
// service process: it connects to the telemetry bus, the PMS RPC
// endpoint and the persistence backend, then runs until it receives a
// termination signal.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devansharora/fleetguard/internal/bus"
	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/persistence"
	"github.com/devansharora/fleetguard/internal/pms"
	"github.com/devansharora/fleetguard/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet monitor config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received, draining")
		cancel()
	}()

	consumer := bus.NewKafkaConsumer(
		cfg.Bus.Brokers,
		[]string{cfg.Bus.HeartbeatTopic, cfg.Bus.ReadingsTopic, cfg.Bus.FailureTopic, cfg.Bus.RestartTopic},
		cfg.Bus.ConsumerGroup,
		time.Duration(cfg.Bus.ReconnectDelayMs)*time.Millisecond,
	)
	producer, err := bus.NewKafkaProducer(cfg.Bus.Brokers)
	if err != nil {
		log.Fatalf("connect producer: %v", err)
	}

	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()
	store, err := persistence.NewPostgres(persistCtx, cfg.Persistence.DSN)
	if err != nil {
		log.Fatalf("connect persistence: %v", err)
	}

	pmsClient := pms.NewHTTPClient(cfg.PMS.Endpoint)

	svc := service.New(cfg, service.Deps{
		Consumer:  consumer,
		Producer:  producer,
		Persist:   store,
		PMSClient: pmsClient,
	})

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("service exited with error: %v", err)
	}
}
