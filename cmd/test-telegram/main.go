package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ety001/op-history-bridge/internal/logging"
	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/telegram"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	dryRun := flag.Bool("dry-run", false, "Print the message without sending it")
	flag.Parse()

	// Load configuration
	config, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(config.Log)

	// Check if Telegram is enabled
	if !config.Telegram.Enabled {
		log.Fatal("Telegram is not enabled in configuration")
	}
	if config.Telegram.BotToken == "" {
		log.Fatal("Telegram bot_token is not set in configuration")
	}
	if config.Telegram.ChannelID == "" {
		log.Fatal("Telegram channel_id is not set in configuration")
	}

	// A sample of the alert sent when a pass cannot be committed
	message := telegram.FormatIndexFailureMessage(
		123456789,
		80000000,
		errors.New("test alert, nothing failed"),
		[]telegram.FailedDocument{
			{ID: "1.2.17_1.11.123456789", Reason: "mapper_parsing_exception: sample"},
		},
		time.Now(),
	)

	fmt.Println("\n=== Message Preview ===")
	fmt.Println(message)
	fmt.Println("======================")

	if *dryRun {
		return
	}

	client := telegram.NewClient(config.Telegram.BotToken, config.Telegram.ChannelID)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	log.Infof("Sending test message to Telegram channel %s...", config.Telegram.ChannelID)
	if err := client.SendMessage(ctx, message); err != nil {
		log.Fatalf("Failed to send message: %v", err)
	}

	log.Info("Test message sent successfully")
}
