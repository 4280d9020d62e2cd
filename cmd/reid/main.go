// Command reid runs one cross-camera re-identification batch for a mall
// and time window against a local sqlite database, writing association
// audit records, journeys and frequent-outfit counter updates.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/config"
	"github.com/rickyjs1955/wandr-sub001/internal/reid"
	"github.com/rickyjs1955/wandr-sub001/internal/reid/storage/sqlite"
)

func main() {
	var dbPath string
	var mallID string
	var fromStr string
	var toStr string
	var configPath string

	flag.StringVar(&dbPath, "db", "wandr.db", "path to sqlite db")
	flag.StringVar(&mallID, "mall", "", "mall id to process")
	flag.StringVar(&fromStr, "from", "", "window start (RFC3339)")
	flag.StringVar(&toStr, "to", "", "window end (RFC3339)")
	flag.StringVar(&configPath, "config", "", "optional tuning config JSON")
	flag.Parse()

	if mallID == "" || fromStr == "" || toStr == "" {
		log.Fatalf("mall, from and to must be provided")
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		log.Fatalf("invalid from: %v", err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		log.Fatalf("invalid to: %v", err)
	}
	if !to.After(from) {
		log.Fatalf("window end must be after start")
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Printf("config: %v", err)
			os.Exit(2)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Printf("config: %v", err)
		os.Exit(2)
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := &reid.Engine{
		Tracklets:    store,
		Topology:     store,
		Outfits:      store,
		Associations: store,
		Journeys:     store,
		OutfitSink:   store,
		Config:       cfg,
	}

	stats, err := engine.Run(ctx, mallID, from.UTC(), to.UTC())
	if err != nil {
		switch {
		case errors.Is(err, reid.ErrConfigInvalid):
			log.Printf("config: %v", err)
			os.Exit(2)
		case errors.Is(err, reid.ErrCancelled):
			log.Printf("cancelled: %v", err)
			os.Exit(130)
		case reid.IsDataModelError(err):
			log.Printf("data model violation: %v", err)
			os.Exit(3)
		default:
			log.Fatalf("run failed: %v", err)
		}
	}

	log.Printf("run %s complete: %d tracklets, %d linked, %d journeys (%d closed), %d orphans",
		stats.RunID, stats.TrackletCount, stats.Linked, stats.JourneysEmitted,
		stats.JourneysClosed, stats.OrphanChains)
}
