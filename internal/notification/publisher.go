// Package notification pushes live failure totals to a subscriber whenever the failure
// status index changes.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/allisson/recoverability/internal/errors"
	fmdomain "github.com/allisson/recoverability/internal/failedmessage/domain"
)

// ErrAlreadySubscribed indicates a second subscriber tried to attach to a Publisher.
var ErrAlreadySubscribed = apperrors.New("notification publisher already has a subscriber")

// Counts are the live failure totals.
type Counts struct {
	Unresolved int64 `json:"unresolved"`
	Archived   int64 `json:"archived"`
}

// CountSource computes the failure totals from scratch.
type CountSource interface {
	CountByStatus(ctx context.Context) (fmdomain.StatusCounts, error)
}

// ChangeFeed calls signal whenever the failure status index may have changed. Signals carry
// no payload and may be spurious. Run blocks until ctx is done.
type ChangeFeed interface {
	Run(ctx context.Context, signal func()) error
}

// Subscriber receives the totals each time they change.
type Subscriber interface {
	Notify(ctx context.Context, counts Counts)
}

// Publisher recomputes the totals on every change signal and pushes them to its single
// subscriber when they differ from the previous computation.
type Publisher struct {
	source     CountSource
	feed       ChangeFeed
	logger     *slog.Logger
	signals    chan struct{}
	mu         sync.Mutex
	subscriber Subscriber
	last       *Counts
}

// Subscribe attaches subscriber and returns the function that detaches it. Only one subscriber
// may be attached at a time.
func (p *Publisher) Subscribe(subscriber Subscriber) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subscriber != nil {
		return nil, ErrAlreadySubscribed
	}
	p.subscriber = subscriber
	// Forget the previous totals so the new subscriber gets the current ones.
	p.last = nil
	p.Signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.subscriber == subscriber {
				p.subscriber = nil
			}
		})
	}, nil
}

// Signal requests a recomputation. Signals received while one is pending are coalesced.
func (p *Publisher) Signal() {
	select {
	case p.signals <- struct{}{}:
	default:
	}
}

// Recompute loads the totals and notifies the subscriber if they changed. Errors are logged.
func (p *Publisher) Recompute(ctx context.Context) {
	statusCounts, err := p.source.CountByStatus(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("failed to recompute failure counts", slog.Any("error", err))
		}
		return
	}
	counts := Counts{Unresolved: statusCounts.Unresolved, Archived: statusCounts.Archived}

	p.mu.Lock()
	if p.last != nil && *p.last == counts {
		p.mu.Unlock()
		return
	}
	p.last = &counts
	subscriber := p.subscriber
	p.mu.Unlock()

	if subscriber == nil {
		return
	}
	p.logger.Debug("failure counts changed",
		slog.Int64("unresolved", counts.Unresolved),
		slog.Int64("archived", counts.Archived),
	)
	subscriber.Notify(ctx, counts)
}

// Start runs the change feed and recomputes once at startup and after every signal, until ctx
// is done.
func (p *Publisher) Start(ctx context.Context) error {
	p.logger.Info("starting failure notification publisher")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.feed.Run(ctx, p.Signal)
	})
	g.Go(func() error {
		p.Recompute(ctx)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.signals:
				p.Recompute(ctx)
			}
		}
	})

	err := g.Wait()
	p.logger.Info("stopping failure notification publisher")
	return err
}

// NewPublisher creates a new Publisher.
func NewPublisher(source CountSource, feed ChangeFeed, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{
		source:  source,
		feed:    feed,
		logger:  logger,
		signals: make(chan struct{}, 1),
	}
}
