package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ety001/op-history-bridge/internal/indexer"
	"github.com/ety001/op-history-bridge/internal/logging"
	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/storage"
	"github.com/ety001/op-history-bridge/internal/sync"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	start := flag.Uint64("start", 0, "First operation history instance to reindex")
	end := flag.Uint64("end", 0, "Last operation history instance to reindex")
	flag.Parse()

	if *end == 0 {
		fmt.Fprintln(os.Stderr, "End operation must be greater than 0 (use -end flag)")
		os.Exit(2)
	}
	if *start > *end {
		fmt.Fprintf(os.Stderr, "Start operation (%d) must be less than or equal to end operation (%d)\n", *start, *end)
		os.Exit(2)
	}

	// Load configuration
	config, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(config.Log)

	mode, err := config.OperatingMode()
	if err != nil {
		log.Fatalf("Invalid mode: %v", err)
	}
	if err := mode.RequireWrite(); err != nil {
		log.Fatalf("Cannot reindex: %v", err)
	}

	log.WithFields(logrus.Fields{
		"start":  *start,
		"end":    *end,
		"config": *configPath,
	}).Info("Reindex started")

	backend, err := storage.Open(config, log)
	if err != nil {
		log.Fatalf("Failed to initialize %s backend: %v", config.Backend, err)
	}
	defer backend.Close()

	m := metrics.New()
	node := sync.NewGrapheneClient(config.Node.APIURL, config.Node.Timeout)
	assets, err := sync.NewAssetCache(node, 0)
	if err != nil {
		log.Fatalf("Failed to create asset cache: %v", err)
	}
	processor, err := sync.NewBlockProcessor(node, assets, config.Indexer, log, m)
	if err != nil {
		log.Fatalf("Failed to create block processor: %v", err)
	}
	writer := indexer.NewWriter(backend, mode, config.Indexer.BulkReplay, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := sync.Reindex(ctx, node, processor, writer, sync.ReindexRange{
		From:            *start,
		To:              *end,
		BatchSize:       config.Node.BatchSize,
		SkipUnsupported: config.Indexer.SkipUnsupported,
	}, log)

	failed := out.Result.Failed()
	for _, item := range failed {
		log.Errorf("Rejected %s: %s", item.ID, item.Error)
	}
	if err != nil {
		log.Fatalf("Reindex failed after %d operations: %v", out.Operations, err)
	}
	log.WithFields(logrus.Fields{
		"operations": out.Operations,
		"documents":  len(out.Result.Items),
		"rejected":   len(failed),
		"skipped":    out.Skipped,
		"missing":    out.Missing,
	}).Info("Reindex completed")
	if len(failed) > 0 {
		os.Exit(1)
	}
}
