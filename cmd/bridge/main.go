package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ety001/op-history-bridge/internal/api"
	"github.com/ety001/op-history-bridge/internal/history"
	"github.com/ety001/op-history-bridge/internal/indexer"
	"github.com/ety001/op-history-bridge/internal/logging"
	"github.com/ety001/op-history-bridge/internal/metrics"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/storage"
	"github.com/ety001/op-history-bridge/internal/sync"
	"github.com/ety001/op-history-bridge/internal/telegram"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	lockFile := flag.String("lockfile", "", "Path to lock file (default: /tmp/op-history-bridge.lock)")
	flag.Parse()

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
	modes := models.NewModeController(mode)
	log.Infof("Starting in %s mode", modes.Mode())

	// Only one indexer may advance the checkpoint
	if modes.Mode().CanWrite() {
		lockFilePath := *lockFile
		if lockFilePath == "" {
			lockFilePath = "/tmp/op-history-bridge.lock"
		}
		lockFileHandle, err := acquireLock(lockFilePath, log)
		if err != nil {
			log.Fatalf("Failed to acquire lock: %v. Another indexer may be running.", err)
		}
		defer releaseLock(lockFileHandle, lockFilePath, log)
		log.Infof("Lock acquired: %s", lockFilePath)
	}

	backend, err := storage.Open(config, log)
	if err != nil {
		log.Fatalf("Failed to initialize %s backend: %v", config.Backend, err)
	}
	defer backend.Close()

	m := metrics.New()

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 2)

	var syncer *sync.Syncer
	if modes.Mode().CanWrite() {
		syncer, err = newSyncer(config, modes.Mode(), backend, log, m)
		if err != nil {
			log.Fatalf("Failed to create syncer: %v", err)
		}
		go func() {
			if err := syncer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("syncer: %w", err)
			}
		}()
	}

	// The metrics endpoint is served in every mode
	engine := history.NewEngine(backend, modes.Mode(), log, m)
	router := api.SetupRoutes(api.NewHandler(engine, modes), m.Handler(), log)
	addr := fmt.Sprintf("%s:%s", config.API.Host, config.API.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		log.Infof("API server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Wait for signal or error
	select {
	case sig := <-sigChan:
		log.Infof("Received signal: %v", sig)
	case err := <-errChan:
		log.Errorf("Shutting down: %v", err)
	}

	if syncer != nil {
		syncer.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Bridge stopped")
}

func newSyncer(config *models.Config, mode models.Mode, backend storage.Backend, log *logrus.Logger, m *metrics.Metrics) (*sync.Syncer, error) {
	node := sync.NewGrapheneClient(config.Node.APIURL, config.Node.Timeout)
	log.Infof("Graphene API initialized: %s", config.Node.APIURL)

	assets, err := sync.NewAssetCache(node, 0)
	if err != nil {
		return nil, err
	}
	processor, err := sync.NewBlockProcessor(node, assets, config.Indexer, log, m)
	if err != nil {
		return nil, err
	}
	writer := indexer.NewWriter(backend, mode, config.Indexer.BulkReplay, log, m)

	// Telegram alerts are optional
	var alerter sync.Alerter
	if config.Telegram.Enabled {
		alerter = telegram.NewClient(config.Telegram.BotToken, config.Telegram.ChannelID)
		log.Info("Telegram alerts enabled")
	}

	return sync.NewSyncer(node, backend, writer, processor, alerter, config, log, m), nil
}

// acquireLock acquires an exclusive file lock to prevent multiple instances
func acquireLock(lockFilePath string, log *logrus.Logger) (*os.File, error) {
	lockDir := filepath.Dir(lockFilePath)
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(lockFilePath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	// Non-blocking so a second instance fails fast
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to acquire lock (another instance may be running): %w", err)
	}

	// PID for debugging
	if err := file.Truncate(0); err != nil {
		log.Warnf("Failed to truncate lock file: %v", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		log.Warnf("Failed to write PID to lock file: %v", err)
	}
	return file, nil
}

// releaseLock releases the file lock
func releaseLock(file *os.File, lockFilePath string, log *logrus.Logger) {
	if file == nil {
		return
	}
	syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	file.Close()
	os.Remove(lockFilePath)
	log.Infof("Lock released: %s", lockFilePath)
}
