// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/bodystorage"
	"github.com/allisson/recoverability/internal/config"
	"github.com/allisson/recoverability/internal/database"
	fmHTTP "github.com/allisson/recoverability/internal/failedmessage/http"
	fmUseCase "github.com/allisson/recoverability/internal/failedmessage/usecase"
	"github.com/allisson/recoverability/internal/http"
	"github.com/allisson/recoverability/internal/ingestion"
	"github.com/allisson/recoverability/internal/messaging"
	"github.com/allisson/recoverability/internal/metrics"
	"github.com/allisson/recoverability/internal/notification"
	notificationHTTP "github.com/allisson/recoverability/internal/notification/http"
	"github.com/allisson/recoverability/internal/operations"
	operationsHTTP "github.com/allisson/recoverability/internal/operations/http"
	retryHTTP "github.com/allisson/recoverability/internal/retry/http"
	retryUseCase "github.com/allisson/recoverability/internal/retry/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// Components are created on first access.
type Container struct {
	config *config.Config

	// sessionID identifies this process as the owner of the retry batches it stages.
	sessionID string

	// Infrastructure
	logger            *slog.Logger
	db                *sql.DB
	txManager         database.TxManager
	metricsProvider   *metrics.Provider
	businessMetrics   metrics.BusinessMetrics
	failureCountGauge metrics.FailureCountGauge
	bodyStore         *bodystorage.Store
	messagingClient   *messaging.Client
	operationsManager *operations.Manager

	// Failed messages
	failedMessageRepository fmUseCase.FailedMessageRepository
	groupCommentRepository  fmUseCase.GroupCommentRepository
	failedMessageUseCase    fmUseCase.FailedMessageUseCase
	archiveUseCase          fmUseCase.ArchiveUseCase
	failedMessageHandler    *fmHTTP.FailedMessageHandler
	groupHandler            *fmHTTP.GroupHandler

	// Retries
	retryBatchRepository         retryUseCase.RetryBatchRepository
	failedMessageRetryRepository retryUseCase.FailedMessageRetryRepository
	nowForwardingRepository      retryUseCase.NowForwardingRepository
	dispatcher                   retryUseCase.Dispatcher
	stagingUseCase               retryUseCase.StagingUseCase
	forwardingUseCase            retryUseCase.ForwardingUseCase
	retryUseCase                 retryUseCase.RetryUseCase
	retryHandler                 *retryHTTP.RetryHandler

	// Notifications
	broadcaster         *notification.Broadcaster
	countsPublisher     *notification.Publisher
	countsStreamHandler *notificationHTTP.CountsStreamHandler

	// Ingestion
	errorQueueHandler        *ingestion.ErrorQueueHandler
	retryConfirmationHandler *ingestion.RetryConfirmationHandler

	operationHandler *operationsHTTP.OperationHandler

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                               sync.Mutex
	loggerInit                       sync.Once
	dbInit                           sync.Once
	txManagerInit                    sync.Once
	metricsProviderInit              sync.Once
	businessMetricsInit              sync.Once
	failureCountGaugeInit            sync.Once
	bodyStoreInit                    sync.Once
	messagingClientInit              sync.Once
	operationsManagerInit            sync.Once
	failedMessageRepositoryInit      sync.Once
	groupCommentRepositoryInit       sync.Once
	failedMessageUseCaseInit         sync.Once
	archiveUseCaseInit               sync.Once
	failedMessageHandlerInit         sync.Once
	groupHandlerInit                 sync.Once
	retryBatchRepositoryInit         sync.Once
	failedMessageRetryRepositoryInit sync.Once
	nowForwardingRepositoryInit      sync.Once
	dispatcherInit                   sync.Once
	stagingUseCaseInit               sync.Once
	forwardingUseCaseInit            sync.Once
	retryUseCaseInit                 sync.Once
	retryHandlerInit                 sync.Once
	broadcasterInit                  sync.Once
	countsPublisherInit              sync.Once
	countsStreamHandlerInit          sync.Once
	errorQueueHandlerInit            sync.Once
	retryConfirmationHandlerInit     sync.Once
	operationHandlerInit             sync.Once
	httpServerInit                   sync.Once
	metricsServerInit                sync.Once
	initErrors                       map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		sessionID:  uuid.NewString(),
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// SessionID returns the retry session id of this process.
func (c *Container) SessionID() string {
	return c.sessionID
}

// Logger returns the configured logger instance.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// MetricsProvider returns the OpenTelemetry metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = c.initMetricsProvider()
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business metrics recorder.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// FailureCountGauge returns the gauge reporting live failure totals.
func (c *Container) FailureCountGauge() (metrics.FailureCountGauge, error) {
	var err error
	c.failureCountGaugeInit.Do(func() {
		c.failureCountGauge, err = c.initFailureCountGauge()
		if err != nil {
			c.initErrors["failureCountGauge"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["failureCountGauge"]; exists {
		return nil, storedErr
	}
	return c.failureCountGauge, nil
}

// BodyStore returns the message body storage.
func (c *Container) BodyStore() (*bodystorage.Store, error) {
	var err error
	c.bodyStoreInit.Do(func() {
		c.bodyStore, err = c.initBodyStore()
		if err != nil {
			c.initErrors["bodyStore"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["bodyStore"]; exists {
		return nil, storedErr
	}
	return c.bodyStore, nil
}

// MessagingClient returns the message bus client.
func (c *Container) MessagingClient() (*messaging.Client, error) {
	var err error
	c.messagingClientInit.Do(func() {
		c.messagingClient, err = c.initMessagingClient()
		if err != nil {
			c.initErrors["messagingClient"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["messagingClient"]; exists {
		return nil, storedErr
	}
	return c.messagingClient, nil
}

// OperationsManager returns the tracker of in-flight bulk operations.
func (c *Container) OperationsManager() *operations.Manager {
	c.operationsManagerInit.Do(func() {
		c.operationsManager = operations.NewManager(operations.Config{TTL: c.config.OperationsTTL}, c.Logger())
	})
	return c.operationsManager
}

// OperationHandler returns the HTTP handler listing tracked operations.
func (c *Container) OperationHandler() *operationsHTTP.OperationHandler {
	c.operationHandlerInit.Do(func() {
		c.operationHandler = operationsHTTP.NewOperationHandler(c.OperationsManager())
	})
	return c.operationHandler
}

// HTTPServer returns the HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.messagingClient != nil {
		if err := c.messagingClient.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("messaging client close: %w", err))
		}
	}

	if c.operationsManager != nil {
		c.operationsManager.Stop()
	}

	if c.bodyStore != nil {
		if err := c.bodyStore.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("body store close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	return errors.Join(shutdownErrors...)
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler).With(slog.String("session_id", c.sessionID))
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(context.Background(), database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

func (c *Container) initMetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}
	provider, err := metrics.NewProvider(c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	return provider, nil
}

func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for business metrics: %w", err)
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}
	return metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

func (c *Container) initFailureCountGauge() (metrics.FailureCountGauge, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for failure count gauge: %w", err)
	}
	if provider == nil {
		return metrics.NoOpFailureCountGauge{}, nil
	}
	return metrics.NewFailureCountGauge(provider.MeterProvider(), c.config.MetricsNamespace)
}

func (c *Container) initBodyStore() (*bodystorage.Store, error) {
	store, err := bodystorage.Open(context.Background(), c.config.BodyStorageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open body storage: %w", err)
	}
	return store, nil
}

func (c *Container) initMessagingClient() (*messaging.Client, error) {
	client, err := messaging.NewClient(context.Background(), messaging.Config{
		RedisAddr:     c.config.TransportRedisAddr,
		RedisPassword: c.config.TransportRedisPassword,
		RedisDB:       c.config.TransportRedisDB,
		ConsumerGroup: c.config.TransportConsumerGroup,
		MaxRetries:    c.config.TransportHandlerMaxRetries,
	}, c.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return client, nil
}

// initHTTPServer creates the HTTP server with every operator handler mounted.
func (c *Container) initHTTPServer() (*http.Server, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	failedMessageHandler, err := c.FailedMessageHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message handler for http server: %w", err)
	}

	groupHandler, err := c.GroupHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get group handler for http server: %w", err)
	}

	retryHandler, err := c.RetryHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get retry handler for http server: %w", err)
	}

	countsStreamHandler, err := c.CountsStreamHandler()
	if err != nil {
		return nil, fmt.Errorf("failed to get counts stream handler for http server: %w", err)
	}

	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, c.Logger())
	server.SetupRouter(c.config, http.Handlers{
		FailedMessages: failedMessageHandler,
		Groups:         groupHandler,
		Retries:        retryHandler,
		CountsStream:   countsStreamHandler,
		Operations:     c.OperationHandler(),
	}, metricsProvider)

	return server, nil
}

func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	if provider == nil {
		return nil, nil
	}
	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}
