// Package server parses server command flags and launches the HTTP API
// runtime.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hubline/crm/internal/crm/api/httpapi"
	"github.com/hubline/crm/internal/crm/app"
	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/bus"
	"github.com/hubline/crm/internal/crm/storage/sqlite"
	entrypoint "github.com/hubline/crm/internal/platform/cmd"
)

const shutdownTimeout = 10 * time.Second

// Config holds server command configuration.
type Config struct {
	Port          int    `env:"HUBLINE_CRM_SERVER_PORT" envDefault:"8080"`
	DBPath        string `env:"HUBLINE_CRM_DB_PATH" envDefault:"data/crm.db"`
	SessionSecret string `env:"HUBLINE_CRM_SESSION_SECRET"`
	BusAddr       string `env:"HUBLINE_CRM_BUS_ADDR"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The HTTP API server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The CRM SQLite database path")
	fs.StringVar(&cfg.BusAddr, "bus-addr", cfg.BusAddr, "The message bus broker address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the server runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	if cfg.SessionSecret == "" {
		return fmt.Errorf("session secret is required")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close sqlite store: %v", closeErr)
		}
	}()

	var publisher bus.Publisher
	if cfg.BusAddr != "" {
		tcpPublisher, err := bus.NewTCPPublisher(cfg.BusAddr)
		if err != nil {
			return fmt.Errorf("configure bus publisher: %w", err)
		}
		defer func() {
			if closeErr := tcpPublisher.Close(); closeErr != nil {
				log.Printf("close bus publisher: %v", closeErr)
			}
		}()
		publisher = tcpPublisher
	} else {
		log.Printf("bus address not configured, outbound email disabled")
	}

	service, err := app.New(store, publisher)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	verifier, err := auth.NewVerifier([]byte(cfg.SessionSecret), nil)
	if err != nil {
		return fmt.Errorf("build session verifier: %w", err)
	}
	api, err := httpapi.New(service, verifier)
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on server port %d: %w", cfg.Port, err)
	}

	httpServer := &http.Server{Handler: api.Handler()}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	log.Printf("server listening at %v", listener.Addr())

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}
