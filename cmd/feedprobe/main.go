// feedprobe connects to a market-data gateway and streams parsed envelopes
// to the console.
// Usage: go run ./cmd/feedprobe -url wss://gateway.example.com/stream -symbols AAPL,MSFT
//
// A bearer token is read from the environment variable named by -token-env
// when set; otherwise the probe connects unauthenticated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tradedash/marketfeed/internal/auth"
	"github.com/tradedash/marketfeed/internal/feed"
)

func main() {
	gatewayURL := flag.String("url", "", "gateway websocket URL (required)")
	tokenEnv := flag.String("token-env", "", "environment variable holding the bearer token")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols to subscribe")
	channelsFlag := flag.String("channels", "", "comma-separated extra channels to subscribe")
	tagsFlag := flag.String("tags", "quote_update,trade,heartbeat", "comma-separated envelope tags to print")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *gatewayURL == "" {
		logger.Error("missing required -url flag")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if *duration > 0 {
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(*duration):
				logger.Info("probe duration elapsed", "duration", *duration)
				cancel()
			}
		}()
	}

	var tokens auth.TokenSource
	if *tokenEnv != "" {
		tokens = auth.FromEnv(*tokenEnv)
	}

	mgr := feed.NewManager(feed.ManagerConfig{
		GatewayURL:        *gatewayURL,
		MessageBufferSize: 10000,
	}, tokens, logger,
		feed.WithStateListener(func(s feed.State) {
			fmt.Printf("[STATE] %s\n", s)
		}),
	)

	for _, tag := range splitList(*tagsFlag) {
		mgr.RegisterHandler(tag, printEnvelope(tag, *verbose))
	}

	symbols := splitList(*symbolsFlag)
	mgr.SubscribeSymbols(symbols)
	for _, ch := range splitList(*channelsFlag) {
		mgr.Subscribe(ch)
	}

	mgr.Connect()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("stats",
					"state", stats.State,
					"received", stats.Received,
					"dispatched", stats.Dispatched,
					"parse_errors", stats.ParseErrors,
					"unknown_types", stats.UnknownTypes,
					"reconnects", stats.Reconnects,
					"queue_depth", stats.QueueDepth,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop",
		"url", *gatewayURL,
		"symbols", len(symbols),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Close()

	logger.Info("shutdown complete")
}

// printEnvelope builds the console handler for one envelope tag.
func printEnvelope(tag string, verbose bool) feed.HandlerFunc {
	label := strings.ToUpper(tag)
	return func(msg feed.Message) {
		if verbose {
			data, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Printf("[%s] %s\n", label, data)
			return
		}
		fmt.Printf("[%s] symbol=%s ts=%s data=%s\n", label, msg.Symbol, msg.Timestamp, msg.Data)
	}
}

// splitList parses a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
