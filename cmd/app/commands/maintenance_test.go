package commands

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	fmUseCase "github.com/allisson/recoverability/internal/failedmessage/usecase"
	"github.com/allisson/recoverability/internal/http"
)

type mockUnarchiver struct {
	mock.Mock
}

func (m *mockUnarchiver) UnarchiveByRange(
	ctx context.Context,
	from, to, cutoff time.Time,
) (*fmUseCase.BulkResult, error) {
	args := m.Called(ctx, from, to, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fmUseCase.BulkResult), args.Error(1)
}

type mockPurger struct {
	mock.Mock
}

func (m *mockPurger) PurgeExpired(ctx context.Context, now time.Time, dryRun bool) (int64, error) {
	args := m.Called(ctx, now, dryRun)
	return args.Get(0).(int64), args.Error(1)
}

type mockAdopter struct {
	mock.Mock
}

func (m *mockAdopter) AdoptOrphanedBatches(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func TestRunUnarchiveRange(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	t.Run("text-output", func(t *testing.T) {
		unarchiver := &mockUnarchiver{}
		unarchiver.On("UnarchiveByRange", ctx, from, to, mock.AnythingOfType("time.Time")).
			Return(&fmUseCase.BulkResult{Count: 7}, nil)

		var out bytes.Buffer
		err := RunUnarchiveRange(ctx, unarchiver, logger, &out, "2026-01-01", "2026-01-02 12:00:00", "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "Unarchived 7 failed message(s)")
		unarchiver.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		unarchiver := &mockUnarchiver{}
		unarchiver.On("UnarchiveByRange", ctx, from, to, mock.AnythingOfType("time.Time")).
			Return(&fmUseCase.BulkResult{Count: 2}, nil)

		var out bytes.Buffer
		err := RunUnarchiveRange(ctx, unarchiver, logger, &out, "2026-01-01T00:00:00Z", "2026-01-02T12:00:00Z", "json")

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"count": 2`)
		unarchiver.AssertExpectations(t)
	})

	t.Run("invalid-from", func(t *testing.T) {
		err := RunUnarchiveRange(ctx, &mockUnarchiver{}, logger, &bytes.Buffer{}, "yesterday", "2026-01-02", "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid from date")
	})

	t.Run("inverted-range", func(t *testing.T) {
		err := RunUnarchiveRange(ctx, &mockUnarchiver{}, logger, &bytes.Buffer{}, "2026-01-03", "2026-01-02", "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be after")
	})

	t.Run("use-case-error", func(t *testing.T) {
		unarchiver := &mockUnarchiver{}
		unarchiver.On("UnarchiveByRange", ctx, from, from, mock.Anything).Return(nil, errors.New("boom"))

		err := RunUnarchiveRange(ctx, unarchiver, logger, &bytes.Buffer{}, "2026-01-01", "2026-01-01", "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unarchive")
	})
}

func TestRunPurgeExpired(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("text-output", func(t *testing.T) {
		purger := &mockPurger{}
		purger.On("PurgeExpired", ctx, mock.AnythingOfType("time.Time"), false).Return(int64(100), nil)

		var out bytes.Buffer
		require.NoError(t, RunPurgeExpired(ctx, purger, logger, &out, false, "text"))

		assert.Contains(t, out.String(), "Successfully deleted 100 expired failed message(s)")
		purger.AssertExpectations(t)
	})

	t.Run("dry-run-text-output", func(t *testing.T) {
		purger := &mockPurger{}
		purger.On("PurgeExpired", ctx, mock.AnythingOfType("time.Time"), true).Return(int64(3), nil)

		var out bytes.Buffer
		require.NoError(t, RunPurgeExpired(ctx, purger, logger, &out, true, "text"))

		assert.Contains(t, out.String(), "Dry-run mode: Would delete 3")
	})

	t.Run("json-output", func(t *testing.T) {
		purger := &mockPurger{}
		purger.On("PurgeExpired", ctx, mock.AnythingOfType("time.Time"), true).Return(int64(50), nil)

		var out bytes.Buffer
		require.NoError(t, RunPurgeExpired(ctx, purger, logger, &out, true, "json"))

		assert.Contains(t, out.String(), `"count": 50`)
		assert.Contains(t, out.String(), `"dry_run": true`)
	})

	t.Run("use-case-error", func(t *testing.T) {
		purger := &mockPurger{}
		purger.On("PurgeExpired", ctx, mock.Anything, false).Return(int64(0), errors.New("boom"))

		err := RunPurgeExpired(ctx, purger, logger, &bytes.Buffer{}, false, "text")
		require.Error(t, err)
	})
}

func TestRunAdoptOrphans(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("text-output", func(t *testing.T) {
		adopter := &mockAdopter{}
		adopter.On("AdoptOrphanedBatches", ctx, mock.AnythingOfType("time.Time")).Return(4, nil)

		var out bytes.Buffer
		require.NoError(t, RunAdoptOrphans(ctx, adopter, logger, &out, "text"))

		assert.Contains(t, out.String(), "Adopted 4 orphaned retry batch(es)")
		adopter.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		adopter := &mockAdopter{}
		adopter.On("AdoptOrphanedBatches", ctx, mock.Anything).Return(1, nil)

		var out bytes.Buffer
		require.NoError(t, RunAdoptOrphans(ctx, adopter, logger, &out, "json"))

		assert.Contains(t, out.String(), `"count": 1`)
	})

	t.Run("use-case-error", func(t *testing.T) {
		adopter := &mockAdopter{}
		adopter.On("AdoptOrphanedBatches", ctx, mock.Anything).Return(0, errors.New("boom"))

		require.Error(t, RunAdoptOrphans(ctx, adopter, logger, &bytes.Buffer{}, "text"))
	})
}

func TestRunCreateAPIKeyHash(t *testing.T) {
	hasher := http.NewAPIKeyHasher()

	t.Run("given-key", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, RunCreateAPIKeyHash(hasher, &out, "operator-key"))

		output := out.String()
		assert.NotContains(t, output, "OPERATOR_API_KEY=")
		require.Contains(t, output, "OPERATOR_API_KEY_HASH='")

		hash := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(output), "OPERATOR_API_KEY_HASH='"), "'")
		ok, err := hasher.Verify([]byte("operator-key"), hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("generated-key", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, RunCreateAPIKeyHash(hasher, &out, ""))

		assert.Contains(t, out.String(), "OPERATOR_API_KEY=\"")
		assert.Contains(t, out.String(), "OPERATOR_API_KEY_HASH='")
	})
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2026-03-04", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"2026-03-04 05:06:07", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"2026-03-04T05:06:07+02:00", time.Date(2026, 3, 4, 3, 6, 7, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDate(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got))
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := parseDate("03/04/2026")
	assert.Error(t, err)
}
