package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/allisson/recoverability/internal/app"
	"github.com/allisson/recoverability/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Worker is a named long running task that returns when ctx is done.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stoppable is a server started with Start and stopped with Shutdown.
type Stoppable interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServeWorker runs server as a worker, shutting it down once ctx is done.
func ServeWorker(name string, server Stoppable) Worker {
	return Worker{
		Name: name,
		Run: func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(ctx)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("%s shutdown: %w", name, err)
				}
				return <-errCh
			}
		},
	}
}

// RunWorkers runs every worker under one errgroup. The first failure cancels the others.
// Workers returning because ctx was cancelled are not failures.
func RunWorkers(ctx context.Context, logger *slog.Logger, workers []Worker) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, worker := range workers {
		g.Go(func() error {
			logger.Info("starting worker", slog.String("worker", worker.Name))
			err := worker.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker failed", slog.String("worker", worker.Name), slog.Any("error", err))
				return fmt.Errorf("%s: %w", worker.Name, err)
			}
			logger.Info("worker stopped", slog.String("worker", worker.Name))
			return nil
		})
	}
	return g.Wait()
}

// BackgroundWorkers assembles the orphan sweeper, forwarding coordinator, notification
// publisher, operations janitor and message ingestion router.
func BackgroundWorkers(container *app.Container) ([]Worker, error) {
	staging, err := container.StagingUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize staging use case: %w", err)
	}

	forwarding, err := container.ForwardingUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize forwarding use case: %w", err)
	}

	publisher, err := container.CountsPublisher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize counts publisher: %w", err)
	}

	client, err := container.MessagingClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}

	if err := container.RegisterIngestion(); err != nil {
		return nil, fmt.Errorf("failed to register ingestion handlers: %w", err)
	}

	operations := container.OperationsManager()

	return []Worker{
		{Name: "orphan_sweeper", Run: staging.StartOrphanSweeper},
		{Name: "forwarding_coordinator", Run: forwarding.Start},
		{Name: "notification_publisher", Run: publisher.Start},
		{Name: "message_router", Run: client.Run},
		{Name: "operations_janitor", Run: func(ctx context.Context) error {
			operations.Start(ctx)
			<-ctx.Done()
			operations.Stop()
			return nil
		}},
	}, nil
}

// RunServer starts the API server, the metrics server and every background worker.
// Blocks until receiving SIGINT/SIGTERM or until one of them fails.
func RunServer(ctx context.Context, version string) error {
	cfg := config.Load()

	gin.SetMode(cfg.GetGinMode())

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting server", slog.String("version", version))

	defer closeContainer(container, logger)

	server, err := container.HTTPServer()
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	workers, err := BackgroundWorkers(container)
	if err != nil {
		return err
	}

	workers = append(workers, ServeWorker("api_server", server))
	if metricsServer != nil {
		workers = append(workers, ServeWorker("metrics_server", metricsServer))
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return RunWorkers(ctx, logger, workers)
}

// RunWorker starts the background workers without the API server.
func RunWorker(ctx context.Context, version string) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting worker", slog.String("version", version))

	defer closeContainer(container, logger)

	workers, err := BackgroundWorkers(container)
	if err != nil {
		return err
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}
	if metricsServer != nil {
		workers = append(workers, ServeWorker("metrics_server", metricsServer))
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return RunWorkers(ctx, logger, workers)
}
