// Package main runs the ROBOI edge analytics runtime: it consumes
// detection frames from the embedded event bus, evaluates site policy,
// captures video and snapshot evidence and journals every record.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/invincible-ocean/roboi-edge/internal/analytics"
	"github.com/invincible-ocean/roboi-edge/internal/api"
	"github.com/invincible-ocean/roboi-edge/internal/bus"
	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/intake"
	"github.com/invincible-ocean/roboi-edge/internal/journal"
	"github.com/invincible-ocean/roboi-edge/internal/logging"
	"github.com/invincible-ocean/roboi-edge/internal/notify"
	"github.com/invincible-ocean/roboi-edge/internal/recording"
	"github.com/invincible-ocean/roboi-edge/internal/store"
)

const defaultConfigPath = "configs/roboi.yaml"

func main() {
	configPath := flag.String("config", getEnv("ROBOI_CONFIG", defaultConfigPath), "path to the YAML config file")
	flag.Parse()

	// Optional .env for broker credentials and local overrides.
	_ = godotenv.Load()

	// Initialize structured logging with an in-memory ring so the API can
	// serve recent lines.
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logRing := logging.NewRingBuffer(1000)
	logger := slog.New(logging.NewStreamHandler(logRing, os.Stdout, logLevel))
	slog.SetDefault(logger)

	cfgStore, err := config.NewStore(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "config_path", *configPath, "error", err)
		os.Exit(1)
	}
	defer cfgStore.Close()
	if err := cfgStore.Watch(); err != nil {
		slog.Warn("Config watch unavailable, using startup snapshot", "error", err)
	}

	cfg := cfgStore.Current()
	slog.Info("Starting ROBOI edge runtime",
		"site", cfg.Site.SiteName,
		"site_id", cfg.Site.SiteID,
		"config_path", *configPath,
	)

	dataPath := cfg.Server.DataPath
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		slog.Error("Failed to create data directory", "path", dataPath, "error", err)
		os.Exit(1)
	}

	// SQLite record store.
	db, err := store.Open(dataPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	records := store.NewRecordStore(db)

	// Embedded NATS bus: frame intake in, record stream out.
	eventBus, err := bus.New(bus.Options{
		Host: cfg.Server.BusHost,
		Port: cfg.Server.BusPort,
	})
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()
	slog.Info("Event bus ready", "url", eventBus.ClientURL())

	// NDJSON journal on disk.
	journalWriter := journal.NewWriter(journal.Options{
		Path:       cfg.Journal.Path,
		MaxSizeMB:  cfg.Journal.MaxSizeMB,
		MaxBackups: cfg.Journal.MaxBackups,
	})
	defer journalWriter.Close()

	hub := api.NewHub()

	sinks := journal.MultiSink{journalWriter, records, bus.NewRecordSink(eventBus), hub}
	if cfg.Notify.MQTTEnabled {
		bridge, err := notify.NewMQTTBridge(cfg.Notify)
		if err != nil {
			slog.Error("MQTT bridge unavailable, alerts stay local", "broker", cfg.Notify.MQTTBroker, "error", err)
		} else {
			defer bridge.Close()
			sinks = append(sinks, bridge)
		}
	}

	engine := analytics.NewEngine(analytics.EngineOptions{
		Config: cfgStore,
		Sink:   sinks,
	})

	// Per-camera evidence recorders, created lazily as cameras appear.
	writers := &recording.FFmpegWriterFactory{}
	snapshots := &recording.WebpSnapshotter{}
	in := intake.New(engine, cfgStore, func(cameraID string) *recording.Recorder {
		snap := cfgStore.Current()
		cam := snap.Capture.CameraByID(cameraID)
		return recording.NewRecorder(recording.Options{
			CameraID:      cameraID,
			SaveDir:       snap.Capture.SaveDir,
			BufferSeconds: cam.BufferSeconds,
			FPS:           cam.FPS,
			Width:         cam.Width,
			Height:        cam.Height,
			Writers:       writers,
			Snapshots:     snapshots,
		})
	})
	if err := in.Attach(eventBus); err != nil {
		slog.Error("Failed to attach frame intake", "error", err)
		os.Exit(1)
	}
	defer in.Close()

	server := api.NewServer(api.ServerOptions{
		Config:  cfgStore,
		Records: records,
		Engine:  engine,
		Intake:  in,
		Logs:    logRing,
		Hub:     hub,
	})
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("API server failed", "error", err)
		}
	}()

	// Graceful shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown error", "error", err)
	}
	slog.Info("Runtime stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
