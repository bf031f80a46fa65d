package app

import (
	"fmt"

	"github.com/allisson/recoverability/internal/database"
	fmDomain "github.com/allisson/recoverability/internal/failedmessage/domain"
	fmHTTP "github.com/allisson/recoverability/internal/failedmessage/http"
	fmRepository "github.com/allisson/recoverability/internal/failedmessage/repository"
	fmUseCase "github.com/allisson/recoverability/internal/failedmessage/usecase"
)

// FailedMessageRepository returns the failed message repository based on database driver.
func (c *Container) FailedMessageRepository() (fmUseCase.FailedMessageRepository, error) {
	var err error
	c.failedMessageRepositoryInit.Do(func() {
		c.failedMessageRepository, err = c.initFailedMessageRepository()
		if err != nil {
			c.initErrors["failedMessageRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["failedMessageRepository"]; exists {
		return nil, storedErr
	}
	return c.failedMessageRepository, nil
}

// GroupCommentRepository returns the group comment repository based on database driver.
func (c *Container) GroupCommentRepository() (fmUseCase.GroupCommentRepository, error) {
	var err error
	c.groupCommentRepositoryInit.Do(func() {
		c.groupCommentRepository, err = c.initGroupCommentRepository()
		if err != nil {
			c.initErrors["groupCommentRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["groupCommentRepository"]; exists {
		return nil, storedErr
	}
	return c.groupCommentRepository, nil
}

// FailedMessageUseCase returns the failure record store.
func (c *Container) FailedMessageUseCase() (fmUseCase.FailedMessageUseCase, error) {
	var err error
	c.failedMessageUseCaseInit.Do(func() {
		c.failedMessageUseCase, err = c.initFailedMessageUseCase()
		if err != nil {
			c.initErrors["failedMessageUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["failedMessageUseCase"]; exists {
		return nil, storedErr
	}
	return c.failedMessageUseCase, nil
}

// ArchiveUseCase returns the archive engine.
func (c *Container) ArchiveUseCase() (fmUseCase.ArchiveUseCase, error) {
	var err error
	c.archiveUseCaseInit.Do(func() {
		c.archiveUseCase, err = c.initArchiveUseCase()
		if err != nil {
			c.initErrors["archiveUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["archiveUseCase"]; exists {
		return nil, storedErr
	}
	return c.archiveUseCase, nil
}

// FailedMessageHandler returns the HTTP handler for failed message operations.
func (c *Container) FailedMessageHandler() (*fmHTTP.FailedMessageHandler, error) {
	var err error
	c.failedMessageHandlerInit.Do(func() {
		c.failedMessageHandler, err = c.initFailedMessageHandler()
		if err != nil {
			c.initErrors["failedMessageHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["failedMessageHandler"]; exists {
		return nil, storedErr
	}
	return c.failedMessageHandler, nil
}

// GroupHandler returns the HTTP handler for failure group operations.
func (c *Container) GroupHandler() (*fmHTTP.GroupHandler, error) {
	var err error
	c.groupHandlerInit.Do(func() {
		c.groupHandler, err = c.initGroupHandler()
		if err != nil {
			c.initErrors["groupHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["groupHandler"]; exists {
		return nil, storedErr
	}
	return c.groupHandler, nil
}

func (c *Container) expirationPolicy() fmDomain.ExpirationPolicy {
	return fmDomain.ExpirationPolicy{Retention: c.config.FailedMessageRetention}
}

// initFailedMessageRepository creates the failed message repository based on the database driver.
func (c *Container) initFailedMessageRepository() (fmUseCase.FailedMessageRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for failed message repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return fmRepository.NewPostgreSQLFailedMessageRepository(db), nil
	case database.DriverMySQL:
		return fmRepository.NewMySQLFailedMessageRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initGroupCommentRepository creates the group comment repository based on the database driver.
func (c *Container) initGroupCommentRepository() (fmUseCase.GroupCommentRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for group comment repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return fmRepository.NewPostgreSQLGroupCommentRepository(db), nil
	case database.DriverMySQL:
		return fmRepository.NewMySQLGroupCommentRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initFailedMessageUseCase() (fmUseCase.FailedMessageUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for failed message use case: %w", err)
	}

	repo, err := c.FailedMessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message repository for failed message use case: %w", err)
	}

	commentRepo, err := c.GroupCommentRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get group comment repository for failed message use case: %w", err)
	}

	bodies, err := c.BodyStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get body store for failed message use case: %w", err)
	}

	return fmUseCase.NewFailedMessageUseCase(
		fmUseCase.Config{
			GroupsLimit: c.config.GroupsResultLimit,
			Expiration:  c.expirationPolicy(),
		},
		txManager,
		repo,
		commentRepo,
		bodies,
		c.Logger(),
	), nil
}

func (c *Container) initArchiveUseCase() (fmUseCase.ArchiveUseCase, error) {
	repo, err := c.FailedMessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message repository for archive use case: %w", err)
	}

	baseUseCase := fmUseCase.NewArchiveUseCase(repo, c.expirationPolicy(), c.OperationsManager(), c.Logger())

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for archive use case: %w", err)
		}
		return fmUseCase.NewArchiveUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

func (c *Container) initFailedMessageHandler() (*fmHTTP.FailedMessageHandler, error) {
	failedMessageUseCase, err := c.FailedMessageUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message use case for failed message handler: %w", err)
	}

	archiveUseCase, err := c.ArchiveUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get archive use case for failed message handler: %w", err)
	}

	return fmHTTP.NewFailedMessageHandler(failedMessageUseCase, archiveUseCase, c.Logger()), nil
}

func (c *Container) initGroupHandler() (*fmHTTP.GroupHandler, error) {
	failedMessageUseCase, err := c.FailedMessageUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message use case for group handler: %w", err)
	}

	archiveUseCase, err := c.ArchiveUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get archive use case for group handler: %w", err)
	}

	return fmHTTP.NewGroupHandler(failedMessageUseCase, archiveUseCase, c.Logger()), nil
}
