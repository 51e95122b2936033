// Package ingest parses ingest command flags and launches the bus consumer
// runtime.
package ingest

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hubline/crm/internal/crm/bus"
	crmingest "github.com/hubline/crm/internal/crm/ingest"
	"github.com/hubline/crm/internal/crm/storage/sqlite"
	entrypoint "github.com/hubline/crm/internal/platform/cmd"
)

// Config holds ingest command configuration.
type Config struct {
	Port    int    `env:"HUBLINE_CRM_INGEST_PORT" envDefault:"8091"`
	DBPath  string `env:"HUBLINE_CRM_DB_PATH" envDefault:"data/crm.db"`
	BusAddr string `env:"HUBLINE_CRM_BUS_ADDR" envDefault:"bus:7000"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The ingest health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The CRM SQLite database path")
	fs.StringVar(&cfg.BusAddr, "bus-addr", cfg.BusAddr, "The message bus broker address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the ingest runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceIngest, func(ctx context.Context) error {
		return run(ctx, cfg)
	})
}

func run(ctx context.Context, cfg Config) error {
	if cfg.BusAddr == "" {
		return fmt.Errorf("bus address is required")
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

	router, err := crmingest.NewRouter(store)
	if err != nil {
		return fmt.Errorf("build ingest router: %w", err)
	}

	consumers, err := subscribe(cfg.BusAddr)
	if err != nil {
		return err
	}
	defer closeConsumers(consumers)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on ingest port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("crm.ingest", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("ingest server listening at %v", listener.Addr())
	router.Run(ctx, consumers)
	return nil
}

func subscribe(addr string) (crmingest.Consumers, error) {
	var consumers crmingest.Consumers
	channels := []struct {
		name   string
		target *bus.Consumer
	}{
		{bus.ChannelEmailSent, &consumers.EmailSent},
		{bus.ChannelEmailInbound, &consumers.EmailInbound},
		{bus.ChannelClientsUpsert, &consumers.ClientsUpsert},
		{bus.ChannelTasksNotify, &consumers.TasksNotify},
	}
	for _, channel := range channels {
		consumer, err := bus.NewTCPConsumer(addr, channel.name)
		if err != nil {
			closeConsumers(consumers)
			return crmingest.Consumers{}, fmt.Errorf("subscribe %s: %w", channel.name, err)
		}
		*channel.target = consumer
	}
	return consumers, nil
}

func closeConsumers(consumers crmingest.Consumers) {
	for _, consumer := range []bus.Consumer{
		consumers.EmailSent,
		consumers.EmailInbound,
		consumers.ClientsUpsert,
		consumers.TasksNotify,
	} {
		if consumer == nil {
			continue
		}
		if err := consumer.Close(); err != nil {
			log.Printf("close bus consumer: %v", err)
		}
	}
}
