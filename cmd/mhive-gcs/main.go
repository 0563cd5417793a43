package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mhive-gcs/internal/config"
	"mhive-gcs/internal/flightlog"
	"mhive-gcs/internal/link"
	"mhive-gcs/internal/protocol"
	"mhive-gcs/internal/telemetry"
	"mhive-gcs/internal/web"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./mhive-gcs.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	// Mirror process logs into a ring so /api/logs can serve them.
	logBuf := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := telemetry.NewStore(telemetry.StoreConfig{})
	hub := telemetry.NewHub()
	logging := flightlog.New(flightlog.Config{Dir: cfg.Log.Dir})
	defer logging.Close()

	onEvent := func(ev protocol.Event) {
		store.Apply(ev)
		logging.Record(ev)
		if typ, data, ok := telemetry.UpdateFor(ev); ok {
			hub.Publish(typ, data)
		}
	}

	mgr := link.NewManager(link.Config{
		Port:             cfg.Serial.Port,
		Baud:             cfg.Serial.Baud,
		MaxReconnects:    cfg.Reconnect.MaxAttempts,
		ReconnectBackoff: cfg.Reconnect.Backoff,
	}, onEvent)
	defer mgr.Close()

	log.Printf("mhive-gcs %s starting", version)
	log.Printf("serial port=%q baud=%d listen=%s", cfg.Serial.Port, cfg.Serial.Baud, cfg.Web.Listen)

	// Bring the link up at boot; the dashboard can reconnect later if the
	// controller is not plugged in yet.
	if err := mgr.Connect(ctx); err != nil {
		log.Printf("link connect: %v", err)
	}

	settings := web.SettingsStore{
		ConfigPath: configPath,
		Apply: func(next config.Config) error {
			// Serial and reconnect changes take effect on the next
			// connect; web.listen needs a restart.
			mgr.SetConfig(link.Config{
				Port:             next.Serial.Port,
				Baud:             next.Serial.Baud,
				MaxReconnects:    next.Reconnect.MaxAttempts,
				ReconnectBackoff: next.Reconnect.Backoff,
			})
			if next.Web.Listen != cfg.Web.Listen {
				log.Printf("web.listen changed to %s, restart to apply", next.Web.Listen)
			}
			return nil
		},
	}

	srv := &web.Server{
		Status:   web.NewStatus(version, mgr, logging, hub),
		Settings: settings,
		Logs:     logBuf,
		Link:     mgr,
		Store:    store,
		Logging:  logging,
		Hub:      hub,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, cfg.Web.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("web server: %v", err)
		}
		cancel()
	case <-ctx.Done():
		// Serve drains on context cancel; wait for the shutdown to finish.
		if err := <-errCh; err != nil {
			log.Printf("web server: %v", err)
		}
	}

	log.Printf("mhive-gcs stopping")
}
