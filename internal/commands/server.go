package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/stratum/internal/admission"
	"evalgo.org/stratum/internal/api"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/config"
	"evalgo.org/stratum/internal/logging"
	"evalgo.org/stratum/internal/notify"
	"evalgo.org/stratum/internal/removal"
	"evalgo.org/stratum/internal/storage"
	"evalgo.org/stratum/internal/storage/memory"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the HTTP API server.

The server runs the cluster REST API, the removal task executor and the
websocket event stream. Storage is CouchDB unless storage.driver is
set to "memory".`,
	RunE: runServer,
}

// backend is everything the server needs from a storage driver.
type backend interface {
	cluster.ZoneStore
	cluster.PlacementStore
	cluster.HostDirectory
	removal.TaskStore
	admission.TrustStore
	Ping(ctx context.Context) error
	Close() error
}

func openBackend(ctx context.Context, cfg *config.Config, broker *notify.Broker, logger *slog.Logger) (backend, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, state is lost on restart")
		return memory.New(), nil
	case config.DriverCouchDB:
		store, err := storage.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		// Tasks finished by other server processes reach local waiters
		// through the changes feed.
		go store.ForwardTaskChanges(ctx, broker)
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	broker := notify.NewBroker()
	store, err := openBackend(ctx, cfg, broker, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	executor := removal.New(store, store, broker, logger, removal.Options{
		Workers:       cfg.Removal.Workers,
		QueueSize:     cfg.Removal.QueueSize,
		SweepInterval: cfg.Removal.SweepInterval,
	})
	executor.Start(ctx)
	defer executor.Stop()

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	orch := cluster.New(cluster.Dependencies{
		Zones:      store,
		Placements: store,
		Hosts:      store,
		Admission: admission.New(store, store, admission.Config{
			VerifyConnection: cfg.Admission.VerifyConnection,
			ConnectTimeout:   cfg.Admission.ConnectTimeout,
			CAFile:           cfg.Admission.CAFile,
		}, logger),
		Removal: executor,
		Events:  hub,
		Logger:  logger,
	}, cluster.Options{
		DefaultQueryLimit: cfg.Cluster.DefaultQueryLimit,
		QueryExpiration:   cfg.Cluster.QueryExpiration,
		RemovalTimeout:    cfg.Cluster.RemovalTimeout,
		SyntheticRemoval:  cfg.Cluster.SyntheticRemoval,
	})

	server, err := api.New(cfg, api.Dependencies{
		Orchestrator: orch,
		Health:       store,
		Hub:          hub,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
