// Package operations tracks long running bulk operations so operators can follow their progress.
package operations

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an operation.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Operation is a snapshot of one tracked operation.
type Operation struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	RequestID   string     `json:"request_id"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	State       State      `json:"state"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Config holds operations manager configuration.
type Config struct {
	// TTL is how long finished operations stay visible.
	TTL time.Duration
	// JanitorInterval is how often finished operations are checked for expiry.
	JanitorInterval time.Duration
}

// Manager keeps operations in memory. It is owned by the container, one per process.
type Manager struct {
	config     Config
	mu         sync.RWMutex
	operations map[uuid.UUID]*Operation
	logger     *slog.Logger
	now        func() time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Begin registers a running operation and returns its id.
func (m *Manager) Begin(operationType, requestID string, total int) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[id] = &Operation{
		ID:        id,
		Type:      operationType,
		RequestID: requestID,
		Total:     total,
		State:     StateRunning,
		StartedAt: m.now(),
	}
	return id
}

// Complete marks the operation finished with completed items.
func (m *Manager) Complete(id uuid.UUID, completed int) {
	m.finish(id, StateCompleted, completed, "")
}

// Fail marks the operation failed.
func (m *Manager) Fail(id uuid.UUID, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	m.finish(id, StateFailed, -1, message)
}

func (m *Manager) finish(id uuid.UUID, state State, completed int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[id]
	if !ok {
		return
	}
	now := m.now()
	op.State = state
	op.Error = message
	op.CompletedAt = &now
	if completed >= 0 {
		op.Completed = completed
		if op.Total == 0 {
			op.Total = completed
		}
	}
}

// Get returns a snapshot of one operation.
func (m *Manager) Get(id uuid.UUID) (Operation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operations[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// List returns snapshots of every tracked operation, most recent first.
func (m *Manager) List() []Operation {
	m.mu.RLock()
	result := make([]Operation, 0, len(m.operations))
	for _, op := range m.operations {
		result = append(result, *op)
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b Operation) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return result
}

// Start runs the janitor in the background until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.janitor(ctx)
	}()
}

// Stop stops the janitor and waits for it to return.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) janitor(ctx context.Context) {
	ticker := time.NewTicker(m.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.prune(); removed > 0 {
				m.logger.Debug("pruned finished operations", slog.Int("count", removed))
			}
		}
	}
}

// prune drops operations finished longer than TTL ago.
func (m *Manager) prune() int {
	cutoff := m.now().Add(-m.config.TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, op := range m.operations {
		if op.CompletedAt != nil && op.CompletedAt.Before(cutoff) {
			delete(m.operations, id)
			removed++
		}
	}
	return removed
}

// NewManager creates a new Manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		config:     config,
		operations: make(map[uuid.UUID]*Operation),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}
