package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"market-streamer/src/config"
	"market-streamer/src/logger"
	"market-streamer/src/presentation"
	"market-streamer/src/streamer"
)

// watch connects to the stream and prints a price line per security whenever
// the buffered series change. It is a terminal view of the chart server.
func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	securities := flag.String("securities", "", "comma separated securities, overrides the config file")
	flag.Parse()

	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *securities != "" {
		var keys []string
		for _, key := range strings.Split(*securities, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		config.Stream.Securities = keys
	}
	// Only stream data, no republishing from a terminal session
	config.NATS.Enabled = false

	appLogger := logger.NewLogger(config, "watch")

	streamService, err := streamer.NewStreamer(config, appLogger, nil)
	if err != nil {
		appLogger.Critical("failed to create streamer: %v", err)
		os.Exit(1)
	}
	if err := streamService.Start(); err != nil {
		appLogger.Critical("failed to start streamer: %v", err)
		os.Exit(1)
	}
	defer streamService.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			return
		case <-streamService.Updated():
			status := streamService.Status()
			cards := presentation.BuildPriceCards(streamService.Subscriptions(), streamService.Snapshot())
			fmt.Printf("[%s] %d series\n", status.State, len(cards))
			for _, card := range cards {
				fmt.Printf("  %-24s %12.4f %+8.2f%%  %s\n", card.Security, card.LastPrice, card.ChangePct, card.Timestamp)
			}
		}
	}
}
