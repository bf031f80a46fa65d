package app

import (
	"fmt"

	"github.com/allisson/recoverability/internal/database"
	retryHTTP "github.com/allisson/recoverability/internal/retry/http"
	retryRepository "github.com/allisson/recoverability/internal/retry/repository"
	retryService "github.com/allisson/recoverability/internal/retry/service"
	retryUseCase "github.com/allisson/recoverability/internal/retry/usecase"
)

// RetryBatchRepository returns the retry batch repository based on database driver.
func (c *Container) RetryBatchRepository() (retryUseCase.RetryBatchRepository, error) {
	var err error
	c.retryBatchRepositoryInit.Do(func() {
		c.retryBatchRepository, err = c.initRetryBatchRepository()
		if err != nil {
			c.initErrors["retryBatchRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["retryBatchRepository"]; exists {
		return nil, storedErr
	}
	return c.retryBatchRepository, nil
}

// FailedMessageRetryRepository returns the retry marker repository based on database driver.
func (c *Container) FailedMessageRetryRepository() (retryUseCase.FailedMessageRetryRepository, error) {
	var err error
	c.failedMessageRetryRepositoryInit.Do(func() {
		c.failedMessageRetryRepository, err = c.initFailedMessageRetryRepository()
		if err != nil {
			c.initErrors["failedMessageRetryRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["failedMessageRetryRepository"]; exists {
		return nil, storedErr
	}
	return c.failedMessageRetryRepository, nil
}

// NowForwardingRepository returns the forwarding lease repository based on database driver.
func (c *Container) NowForwardingRepository() (retryUseCase.NowForwardingRepository, error) {
	var err error
	c.nowForwardingRepositoryInit.Do(func() {
		c.nowForwardingRepository, err = c.initNowForwardingRepository()
		if err != nil {
			c.initErrors["nowForwardingRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["nowForwardingRepository"]; exists {
		return nil, storedErr
	}
	return c.nowForwardingRepository, nil
}

// Dispatcher returns the port that republishes failed messages to their queues.
func (c *Container) Dispatcher() (retryUseCase.Dispatcher, error) {
	var err error
	c.dispatcherInit.Do(func() {
		c.dispatcher, err = c.initDispatcher()
		if err != nil {
			c.initErrors["dispatcher"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["dispatcher"]; exists {
		return nil, storedErr
	}
	return c.dispatcher, nil
}

// StagingUseCase returns the retry batch staging engine.
func (c *Container) StagingUseCase() (retryUseCase.StagingUseCase, error) {
	var err error
	c.stagingUseCaseInit.Do(func() {
		c.stagingUseCase, err = c.initStagingUseCase()
		if err != nil {
			c.initErrors["stagingUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["stagingUseCase"]; exists {
		return nil, storedErr
	}
	return c.stagingUseCase, nil
}

// ForwardingUseCase returns the forwarding coordinator.
func (c *Container) ForwardingUseCase() (retryUseCase.ForwardingUseCase, error) {
	var err error
	c.forwardingUseCaseInit.Do(func() {
		c.forwardingUseCase, err = c.initForwardingUseCase()
		if err != nil {
			c.initErrors["forwardingUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["forwardingUseCase"]; exists {
		return nil, storedErr
	}
	return c.forwardingUseCase, nil
}

// RetryUseCase returns the retry request gateway.
func (c *Container) RetryUseCase() (retryUseCase.RetryUseCase, error) {
	var err error
	c.retryUseCaseInit.Do(func() {
		c.retryUseCase, err = c.initRetryUseCase()
		if err != nil {
			c.initErrors["retryUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["retryUseCase"]; exists {
		return nil, storedErr
	}
	return c.retryUseCase, nil
}

// RetryHandler returns the HTTP handler for retry operations.
func (c *Container) RetryHandler() (*retryHTTP.RetryHandler, error) {
	var err error
	c.retryHandlerInit.Do(func() {
		c.retryHandler, err = c.initRetryHandler()
		if err != nil {
			c.initErrors["retryHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["retryHandler"]; exists {
		return nil, storedErr
	}
	return c.retryHandler, nil
}

func (c *Container) initRetryBatchRepository() (retryUseCase.RetryBatchRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for retry batch repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return retryRepository.NewPostgreSQLRetryBatchRepository(db), nil
	case database.DriverMySQL:
		return retryRepository.NewMySQLRetryBatchRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initFailedMessageRetryRepository() (retryUseCase.FailedMessageRetryRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for failed message retry repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return retryRepository.NewPostgreSQLFailedMessageRetryRepository(db), nil
	case database.DriverMySQL:
		return retryRepository.NewMySQLFailedMessageRetryRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initNowForwardingRepository() (retryUseCase.NowForwardingRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for now forwarding repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return retryRepository.NewPostgreSQLNowForwardingRepository(db), nil
	case database.DriverMySQL:
		return retryRepository.NewMySQLNowForwardingRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initDispatcher builds the watermill dispatcher on the process message bus.
func (c *Container) initDispatcher() (retryUseCase.Dispatcher, error) {
	client, err := c.MessagingClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client for dispatcher: %w", err)
	}

	bodies, err := c.BodyStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get body store for dispatcher: %w", err)
	}

	return retryService.NewWatermillDispatcher(client.Publisher, bodies, c.Logger()), nil
}

func (c *Container) initStagingUseCase() (retryUseCase.StagingUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for staging use case: %w", err)
	}

	batchRepo, err := c.RetryBatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get retry batch repository for staging use case: %w", err)
	}

	retryRepo, err := c.FailedMessageRetryRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message retry repository for staging use case: %w", err)
	}

	messages, err := c.FailedMessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message repository for staging use case: %w", err)
	}

	return retryUseCase.NewStagingUseCase(
		retryUseCase.StagingConfig{
			SessionID:           c.sessionID,
			OrphanSweepInterval: c.config.RetryOrphanSweepInterval,
		},
		txManager,
		batchRepo,
		retryRepo,
		messages,
		c.Logger(),
	), nil
}

func (c *Container) initForwardingUseCase() (retryUseCase.ForwardingUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for forwarding use case: %w", err)
	}

	batchRepo, err := c.RetryBatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get retry batch repository for forwarding use case: %w", err)
	}

	retryRepo, err := c.FailedMessageRetryRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message retry repository for forwarding use case: %w", err)
	}

	leaseRepo, err := c.NowForwardingRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get now forwarding repository for forwarding use case: %w", err)
	}

	messages, err := c.FailedMessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message repository for forwarding use case: %w", err)
	}

	dispatcher, err := c.Dispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatcher for forwarding use case: %w", err)
	}

	return retryUseCase.NewForwardingUseCase(
		retryUseCase.ForwardingConfig{
			SessionID:          c.sessionID,
			Interval:           c.config.RetryForwardingInterval,
			MaxStagingAttempts: c.config.RetryMaxStagingAttempts,
			RatePerSecond:      c.config.RetryForwardingRatePerSec,
			LeaseTTL:           c.config.RetryForwardingLeaseTTL,
		},
		txManager,
		batchRepo,
		retryRepo,
		leaseRepo,
		messages,
		dispatcher,
		c.Logger(),
	), nil
}

func (c *Container) initRetryUseCase() (retryUseCase.RetryUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for retry use case: %w", err)
	}

	staging, err := c.StagingUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get staging use case for retry use case: %w", err)
	}

	batchRepo, err := c.RetryBatchRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get retry batch repository for retry use case: %w", err)
	}

	retryRepo, err := c.FailedMessageRetryRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message retry repository for retry use case: %w", err)
	}

	messages, err := c.FailedMessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message repository for retry use case: %w", err)
	}

	reader, err := c.FailedMessageUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message use case for retry use case: %w", err)
	}

	baseUseCase := retryUseCase.NewRetryUseCase(
		retryUseCase.RetryConfig{
			SessionID: c.sessionID,
			BatchSize: c.config.RetryBatchSize,
		},
		txManager,
		staging,
		batchRepo,
		retryRepo,
		messages,
		reader,
		c.OperationsManager(),
		c.Logger(),
	)

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for retry use case: %w", err)
		}
		return retryUseCase.NewRetryUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

func (c *Container) initRetryHandler() (*retryHTTP.RetryHandler, error) {
	useCase, err := c.RetryUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get retry use case for retry handler: %w", err)
	}
	return retryHTTP.NewRetryHandler(useCase, c.Logger()), nil
}
