// Package messaging wires the watermill publisher, subscriber and router used to talk to the message bus.
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/allisson/recoverability/internal/errors"
)

// Config holds the message bus connection settings.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ConsumerGroup string
	// MaxRetries is how many times the router retries a failing handler before giving up.
	MaxRetries int
}

// Client bundles the watermill components of one process.
type Client struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Router     *message.Router
	redis      *redis.Client
	logger     *slog.Logger
}

// NewClient connects to Redis Streams. With an empty RedisAddr it falls back to an in-process
// channel, which is only useful for a single instance.
func NewClient(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if config.RedisAddr == "" {
		return NewInMemoryClient(logger)
	}

	wmLogger := watermill.NewSlogLogger(logger)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, apperrors.Wrap(err, "failed to connect to redis")
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
	if err != nil {
		_ = redisClient.Close()
		return nil, apperrors.Wrap(err, "failed to create publisher")
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redisClient,
			ConsumerGroup: config.ConsumerGroup,
		},
		wmLogger,
	)
	if err != nil {
		_ = publisher.Close()
		_ = redisClient.Close()
		return nil, apperrors.Wrap(err, "failed to create subscriber")
	}

	router, err := newRouter(config, wmLogger)
	if err != nil {
		_ = subscriber.Close()
		_ = publisher.Close()
		_ = redisClient.Close()
		return nil, err
	}

	return &Client{
		Publisher:  publisher,
		Subscriber: subscriber,
		Router:     router,
		redis:      redisClient,
		logger:     logger,
	}, nil
}

// NewInMemoryClient creates a client backed by a watermill go channel.
func NewInMemoryClient(logger *slog.Logger) (*Client, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)

	router, err := newRouter(Config{}, wmLogger)
	if err != nil {
		_ = pubSub.Close()
		return nil, err
	}

	return &Client{
		Publisher:  pubSub,
		Subscriber: pubSub,
		Router:     router,
		logger:     logger,
	}, nil
}

func newRouter(config Config, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create router")
	}

	router.AddMiddleware(middleware.Recoverer)
	if config.MaxRetries > 0 {
		retry := middleware.Retry{
			MaxRetries:      config.MaxRetries,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			Logger:          logger,
		}
		router.AddMiddleware(retry.Middleware)
	}
	return router, nil
}

// Handle subscribes handler to topic on the router.
func (c *Client) Handle(name, topic string, handler message.NoPublishHandlerFunc) {
	c.Router.AddNoPublisherHandler(name, topic, c.Subscriber, handler)
}

// Run starts the router and blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("starting message router")
	if err := c.Router.Run(ctx); err != nil {
		return apperrors.Wrap(err, "message router stopped")
	}
	c.logger.Info("message router stopped")
	return nil
}

// Close releases every component. It is safe to call after Run returned.
func (c *Client) Close() error {
	if err := c.Router.Close(); err != nil {
		return apperrors.Wrap(err, "failed to close router")
	}
	if err := c.Subscriber.Close(); err != nil {
		return apperrors.Wrap(err, "failed to close subscriber")
	}
	if err := c.Publisher.Close(); err != nil {
		return apperrors.Wrap(err, "failed to close publisher")
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			return apperrors.Wrap(err, "failed to close redis client")
		}
	}
	return nil
}
