package app

import (
	"fmt"

	"github.com/allisson/recoverability/internal/database"
	"github.com/allisson/recoverability/internal/ingestion"
	"github.com/allisson/recoverability/internal/notification"
	notificationHTTP "github.com/allisson/recoverability/internal/notification/http"
)

// Broadcaster returns the subscriber fanning failure totals out to gauges and stream clients.
func (c *Container) Broadcaster() (*notification.Broadcaster, error) {
	var err error
	c.broadcasterInit.Do(func() {
		c.broadcaster, err = c.initBroadcaster()
		if err != nil {
			c.initErrors["broadcaster"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["broadcaster"]; exists {
		return nil, storedErr
	}
	return c.broadcaster, nil
}

// CountsPublisher returns the failure notification publisher with the broadcaster subscribed.
func (c *Container) CountsPublisher() (*notification.Publisher, error) {
	var err error
	c.countsPublisherInit.Do(func() {
		c.countsPublisher, err = c.initCountsPublisher()
		if err != nil {
			c.initErrors["countsPublisher"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["countsPublisher"]; exists {
		return nil, storedErr
	}
	return c.countsPublisher, nil
}

// CountsStreamHandler returns the server-sent events handler for failure totals.
func (c *Container) CountsStreamHandler() (*notificationHTTP.CountsStreamHandler, error) {
	var err error
	c.countsStreamHandlerInit.Do(func() {
		c.countsStreamHandler, err = c.initCountsStreamHandler()
		if err != nil {
			c.initErrors["countsStreamHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["countsStreamHandler"]; exists {
		return nil, storedErr
	}
	return c.countsStreamHandler, nil
}

// ErrorQueueHandler returns the consumer of the error topic.
func (c *Container) ErrorQueueHandler() (*ingestion.ErrorQueueHandler, error) {
	var err error
	c.errorQueueHandlerInit.Do(func() {
		c.errorQueueHandler, err = c.initErrorQueueHandler()
		if err != nil {
			c.initErrors["errorQueueHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["errorQueueHandler"]; exists {
		return nil, storedErr
	}
	return c.errorQueueHandler, nil
}

// RetryConfirmationHandler returns the consumer of the audit topic.
func (c *Container) RetryConfirmationHandler() (*ingestion.RetryConfirmationHandler, error) {
	var err error
	c.retryConfirmationHandlerInit.Do(func() {
		c.retryConfirmationHandler, err = c.initRetryConfirmationHandler()
		if err != nil {
			c.initErrors["retryConfirmationHandler"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["retryConfirmationHandler"]; exists {
		return nil, storedErr
	}
	return c.retryConfirmationHandler, nil
}

// RegisterIngestion attaches the audit pipeline consumers to the message router.
func (c *Container) RegisterIngestion() error {
	client, err := c.MessagingClient()
	if err != nil {
		return fmt.Errorf("failed to get messaging client for ingestion: %w", err)
	}

	failures, err := c.ErrorQueueHandler()
	if err != nil {
		return err
	}

	confirmations, err := c.RetryConfirmationHandler()
	if err != nil {
		return err
	}

	ingestion.Register(client, ingestion.Topics{
		Errors: c.config.TransportErrorTopic,
		Audit:  c.config.TransportAuditTopic,
	}, failures, confirmations)
	return nil
}

func (c *Container) initBroadcaster() (*notification.Broadcaster, error) {
	gauge, err := c.FailureCountGauge()
	if err != nil {
		return nil, fmt.Errorf("failed to get failure count gauge for broadcaster: %w", err)
	}
	return notification.NewBroadcaster(gauge), nil
}

// initCountsPublisher listens for PostgreSQL notifications and polls on other drivers.
func (c *Container) initCountsPublisher() (*notification.Publisher, error) {
	source, err := c.FailedMessageUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message use case for counts publisher: %w", err)
	}

	broadcaster, err := c.Broadcaster()
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcaster for counts publisher: %w", err)
	}

	var feed notification.ChangeFeed
	if c.config.DBDriver == database.DriverPostgres {
		feed = notification.NewPostgreSQLChangeFeed(c.config.DBConnectionString, c.Logger())
	} else {
		feed = notification.NewPollingChangeFeed(c.config.NotificationPollInterval)
	}

	publisher := notification.NewPublisher(source, feed, c.Logger())
	if _, err := publisher.Subscribe(broadcaster); err != nil {
		return nil, fmt.Errorf("failed to subscribe broadcaster to counts publisher: %w", err)
	}
	return publisher, nil
}

func (c *Container) initCountsStreamHandler() (*notificationHTTP.CountsStreamHandler, error) {
	broadcaster, err := c.Broadcaster()
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcaster for counts stream handler: %w", err)
	}
	return notificationHTTP.NewCountsStreamHandler(broadcaster, c.Logger()), nil
}

func (c *Container) initErrorQueueHandler() (*ingestion.ErrorQueueHandler, error) {
	recorder, err := c.FailedMessageUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message use case for error queue handler: %w", err)
	}
	return ingestion.NewErrorQueueHandler(recorder, c.Logger()), nil
}

func (c *Container) initRetryConfirmationHandler() (*ingestion.RetryConfirmationHandler, error) {
	resolver, err := c.FailedMessageUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message use case for retry confirmation handler: %w", err)
	}
	return ingestion.NewRetryConfirmationHandler(resolver, c.Logger()), nil
}
