package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/tradedash/marketfeed/internal/auth"
	"github.com/tradedash/marketfeed/internal/config"
	"github.com/tradedash/marketfeed/internal/database"
	"github.com/tradedash/marketfeed/internal/feed"
	"github.com/tradedash/marketfeed/internal/quotes"
	"github.com/tradedash/marketfeed/internal/recorder"
	"github.com/tradedash/marketfeed/internal/telemetry"
	"github.com/tradedash/marketfeed/internal/version"
)

const statsInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/feedd.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"gateway_url", cfg.Gateway.URL,
		"symbols", len(cfg.Symbols),
		"channels", len(cfg.Channels),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Metrics export pipeline
	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		Endpoint:   cfg.Telemetry.Endpoint,
		Insecure:   cfg.Telemetry.Insecure,
		Interval:   cfg.Telemetry.Interval,
		InstanceID: cfg.Instance.ID,
		AZ:         cfg.Instance.AZ,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Tick persistence, when enabled
	var (
		db  *pgxpool.Pool
		rec *recorder.Recorder
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)

		db, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		logger.Info("database connected")

		rec = recorder.NewRecorder(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, db, logger)
		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	// Last-quote cache
	cache := quotes.NewCache(quotes.Config{
		StaleAfter:  cfg.Quotes.StaleAfter,
		WatchBuffer: cfg.Quotes.WatchBuffer,
	}, logger)
	cache.Start(ctx)

	// Gateway connection manager
	attempts := cfg.Feed.MaxReconnectAttempts
	if attempts < 0 {
		attempts = 0 // retry forever
	}
	mgr := feed.NewManager(feed.ManagerConfig{
		GatewayURL:           cfg.Gateway.URL,
		HandshakeTimeout:     cfg.Gateway.HandshakeTimeout,
		ConnectTimeout:       cfg.Gateway.ConnectTimeout,
		WriteTimeout:         cfg.Gateway.WriteTimeout,
		PingInterval:         cfg.Gateway.PingInterval,
		StaleTimeout:         cfg.Gateway.StaleTimeout,
		MessageBufferSize:    cfg.Gateway.MessageBufferSize,
		QueueCapacity:        cfg.Feed.QueueCapacity,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Feed.ReconnectMaxDelay,
		MaxReconnectAttempts: attempts,
		DirectiveRate:        cfg.Feed.DirectiveRate,
		DirectiveBurst:       cfg.Feed.DirectiveBurst,
	},
		auth.FromConfig(auth.Config{
			Token:     cfg.Auth.Token,
			TokenEnv:  cfg.Auth.TokenEnv,
			TokenFile: cfg.Auth.TokenFile,
		}),
		logger,
		feed.WithStateListener(func(s feed.State) {
			logger.Info("gateway state changed", "state", s)
		}),
	)

	// Route market data into the cache and, when enabled, the recorder
	handler := func(msg feed.Message) {
		cache.Apply(msg)
		if rec != nil {
			rec.Record(msg)
		}
	}
	mgr.RegisterHandler("quote_update", handler)
	mgr.RegisterHandler("trade", handler)

	mgr.SubscribeSymbols(cfg.Symbols)
	for _, ch := range cfg.Channels {
		mgr.Subscribe(ch)
	}

	mgr.Connect()

	statusServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newStatusHandler(cfg, mgr, cache, rec, db),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting status server", "port", cfg.Server.Port)
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logStats(logger, mgr, cache, rec)
			}
		}
	})

	// Ordered shutdown: stop the intake first so the recorder can drain,
	// then take down the read surfaces.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		mgr.Close()
		if rec != nil {
			if err := rec.Stop(shutdownCtx); err != nil {
				logger.Warn("recorder stop", "error", err)
			}
		}
		cache.Stop()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
		return nil
	})

	logger.Info("feedd running",
		"instance_id", cfg.Instance.ID,
		"status_url", fmt.Sprintf("http://localhost:%d%s/status", cfg.Server.Port, routePrefix(cfg.Server.PathPrefix)),
	)

	if err := g.Wait(); err != nil {
		logger.Error("feedd exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("feedd stopped")
}

// statusPayload is the /status response body.
type statusPayload struct {
	Instance      string                  `json:"instance,omitempty"`
	Version       string                  `json:"version"`
	State         feed.State              `json:"state"`
	LastError     string                  `json:"last_error,omitempty"`
	Subscriptions []string                `json:"subscriptions"`
	Feed          feed.ManagerStats       `json:"feed"`
	Quotes        quotes.CacheStats       `json:"quotes"`
	Recorder      *recorder.RecorderStats `json:"recorder,omitempty"`
}

// newStatusHandler creates the HTTP handler for the status server.
func newStatusHandler(cfg *config.Config, mgr feed.Manager, cache *quotes.Cache, rec *recorder.Recorder, db *pgxpool.Pool) http.Handler {
	prefix := routePrefix(cfg.Server.PathPrefix)
	mux := http.NewServeMux()

	mux.HandleFunc(prefix+"/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check gateway connection
		state := mgr.State()
		health.Components["gateway"] = string(state)
		switch state {
		case feed.StateConnected:
		case feed.StateError:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		// Check database
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc(prefix+"/status", func(w http.ResponseWriter, r *http.Request) {
		status := statusPayload{
			Instance:      cfg.Instance.ID,
			Version:       version.Version,
			State:         mgr.State(),
			Subscriptions: mgr.Subscriptions(),
			Feed:          mgr.Stats(),
			Quotes:        cache.Stats(),
		}
		if err := mgr.LastError(); err != nil {
			status.LastError = err.Error()
		}
		if rec != nil {
			rs := rec.Stats()
			status.Recorder = &rs
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc(prefix+"/quotes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if symbol := r.URL.Query().Get("symbol"); symbol != "" {
			q, ok := cache.Get(symbol)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"error": "unknown symbol"})
				return
			}
			json.NewEncoder(w).Encode(q)
			return
		}

		json.NewEncoder(w).Encode(cache.Snapshot())
	})

	return mux
}

// logStats emits the periodic counter snapshot.
func logStats(logger *slog.Logger, mgr feed.Manager, cache *quotes.Cache, rec *recorder.Recorder) {
	ms := mgr.Stats()
	logger.Info("feed stats",
		"state", ms.State,
		"received", ms.Received,
		"dispatched", ms.Dispatched,
		"parse_errors", ms.ParseErrors,
		"inbound_dropped", ms.InboundDropped,
		"sent", ms.Sent,
		"reconnects", ms.Reconnects,
		"queue_depth", ms.QueueDepth,
	)

	cs := cache.Stats()
	logger.Info("quote cache stats",
		"symbols", cs.Symbols,
		"applied", cs.Applied,
		"malformed", cs.Malformed,
		"watchers", cs.Watchers,
		"dropped_updates", cs.DroppedUpdates,
	)

	if rec != nil {
		rs := rec.Stats()
		logger.Info("recorder stats",
			"recorded", rs.Recorded,
			"inserts", rs.Inserts,
			"conflicts", rs.Conflicts,
			"errors", rs.Errors,
			"flushes", rs.Flushes,
			"pending", rs.Pending,
		)
	}
}

// routePrefix normalizes the configured path prefix for route registration.
// "/" and "" both mean no prefix.
func routePrefix(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
