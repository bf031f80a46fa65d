package dto

import (
	"time"

	"github.com/allisson/recoverability/internal/retry/domain"
	"github.com/allisson/recoverability/internal/retry/usecase"
)

// RetryRequestResponse reports what a retry request staged.
type RetryRequestResponse struct {
	RequestID string `json:"request_id"`
	RetryType string `json:"retry_type"`
	Batches   int    `json:"batches"`
	Staged    int    `json:"staged"`
}

// RetryBatchResponse represents a retry batch in API responses.
type RetryBatchResponse struct {
	ID               string     `json:"id"`
	RequestID        string     `json:"request_id"`
	RetryType        string     `json:"retry_type"`
	Status           string     `json:"status"`
	RetrySessionID   string     `json:"retry_session_id"`
	Originator       string     `json:"originator,omitempty"`
	Classifier       string     `json:"classifier,omitempty"`
	Context          string     `json:"context,omitempty"`
	InitialBatchSize int        `json:"initial_batch_size"`
	PendingRetries   int        `json:"pending_retries"`
	StartTime        time.Time  `json:"start_time"`
	Last             *time.Time `json:"last,omitempty"`
	LastFailure      *time.Time `json:"last_failure,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ListRetryBatchesResponse represents a page of retry batches.
type ListRetryBatchesResponse struct {
	Data []RetryBatchResponse `json:"data"`
}

// ResolvedResponse reports how many RetryIssued records were resolved.
type ResolvedResponse struct {
	Resolved int `json:"resolved"`
}

// MapRetryRequestToResponse converts a retry request outcome.
func MapRetryRequestToResponse(request *usecase.RetryRequest) RetryRequestResponse {
	return RetryRequestResponse{
		RequestID: request.RequestID,
		RetryType: string(request.RetryType),
		Batches:   request.Batches,
		Staged:    request.Staged,
	}
}

// MapRetryBatchesToListResponse converts retry batches.
func MapRetryBatchesToListResponse(batches []*domain.RetryBatch) ListRetryBatchesResponse {
	data := make([]RetryBatchResponse, 0, len(batches))
	for _, batch := range batches {
		data = append(data, RetryBatchResponse{
			ID:               batch.ID.String(),
			RequestID:        batch.RequestID,
			RetryType:        string(batch.RetryType),
			Status:           string(batch.Status),
			RetrySessionID:   batch.RetrySessionID,
			Originator:       batch.Originator,
			Classifier:       batch.Classifier,
			Context:          batch.Context,
			InitialBatchSize: batch.InitialBatchSize,
			PendingRetries:   len(batch.FailureRetries),
			StartTime:        batch.StartTime,
			Last:             batch.Last,
			LastFailure:      batch.LastFailure,
			CreatedAt:        batch.CreatedAt,
			UpdatedAt:        batch.UpdatedAt,
		})
	}
	return ListRetryBatchesResponse{Data: data}
}
