// Command replay prints the append-only failover and status-transition
// history recorded for a factory in Postgres, ordered by timestamp. Grounded on the
// teacher's cmd/replay/main.go, which walked the outbox log the same
// way for order events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/devansharora/fleetguard/internal/config"
	"github.com/devansharora/fleetguard/internal/persistence"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet monitor config file")
	factoryID := flag.String("factory", "", "factory id to replay")
	flag.Parse()

	if *factoryID == "" {
		log.Fatal("-factory is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := persistence.NewPostgres(ctx, cfg.Persistence.DSN)
	if err != nil {
		log.Fatalf("connect persistence: %v", err)
	}
	defer store.Close(ctx)

	transitions, err := store.StatusTransitions(ctx, *factoryID)
	if err != nil {
		log.Fatalf("load status transitions: %v", err)
	}
	events, err := store.FailoverEvents(ctx, *factoryID)
	if err != nil {
		log.Fatalf("load failover events: %v", err)
	}

	fmt.Println("-- status transitions --")
	for _, tr := range transitions {
		printLine(tr)
	}
	fmt.Println("-- failover/recovery events --")
	for _, ev := range events {
		printLine(ev)
	}
}

func printLine(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(b))
}
