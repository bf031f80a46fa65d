package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/failedmessage/usecase"
)

// FailureGroupResponse is one classification of a failure record.
type FailureGroupResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// ProcessingAttemptResponse is one failed processing attempt. The body is referenced, not inlined.
type ProcessingAttemptResponse struct {
	AttemptID                string            `json:"attempt_id"`
	MessageID                string            `json:"message_id"`
	Headers                  map[string]string `json:"headers,omitempty"`
	MessageMetadata          map[string]string `json:"message_metadata,omitempty"`
	BodySize                 int               `json:"body_size"`
	ExceptionType            string            `json:"exception_type"`
	ExceptionMessage         string            `json:"exception_message"`
	StackTrace               string            `json:"stack_trace,omitempty"`
	TimeOfFailure            time.Time         `json:"time_of_failure"`
	AddressOfFailingEndpoint string            `json:"address_of_failing_endpoint"`
}

// FailedMessageResponse represents a failure record in API responses.
type FailedMessageResponse struct {
	ID                 string                      `json:"id"`
	MessageID          string                      `json:"message_id"`
	MessageType        string                      `json:"message_type"`
	ReceivingEndpoint  string                      `json:"receiving_endpoint"`
	QueueAddress       string                      `json:"queue_address"`
	Status             string                      `json:"status"`
	FailureGroups      []FailureGroupResponse      `json:"failure_groups"`
	ProcessingAttempts []ProcessingAttemptResponse `json:"processing_attempts,omitempty"`
	ExpiresAt          *time.Time                  `json:"expires_at,omitempty"`
	Version            int64                       `json:"version"`
	CreatedAt          time.Time                   `json:"created_at"`
	LastModified       time.Time                   `json:"last_modified"`
}

// ListFailedMessagesResponse represents a page of failure records.
type ListFailedMessagesResponse struct {
	Data []FailedMessageResponse `json:"data"`
}

// BulkResponse reports how many records an operator action changed.
type BulkResponse struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// CountsResponse carries the live failure totals.
type CountsResponse struct {
	Unresolved int64 `json:"unresolved"`
	Archived   int64 `json:"archived"`
}

// FailureGroupViewResponse is a failure group with its aggregate counts.
type FailureGroupViewResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	Count        int64     `json:"count"`
	First        time.Time `json:"first"`
	Last         time.Time `json:"last"`
	LastModified time.Time `json:"last_modified"`
	Comment      *string   `json:"comment,omitempty"`
}

// ListFailureGroupsResponse lists failure groups, most recently modified first.
type ListFailureGroupsResponse struct {
	Data []FailureGroupViewResponse `json:"data"`
}

// QueueAddressResponse is a failing queue address with its open failure count.
type QueueAddressResponse struct {
	PhysicalAddress string `json:"physical_address"`
	FailedCount     int64  `json:"failed_count"`
}

// ListQueueAddressesResponse lists failing queue addresses.
type ListQueueAddressesResponse struct {
	Data []QueueAddressResponse `json:"data"`
}

// EndpointResponse is a receiving endpoint with its open failure count.
type EndpointResponse struct {
	Name        string `json:"name"`
	FailedCount int64  `json:"failed_count"`
}

// ListEndpointsResponse lists receiving endpoints.
type ListEndpointsResponse struct {
	Data []EndpointResponse `json:"data"`
}

// MapFailedMessageToResponse converts a record including its processing attempts.
func MapFailedMessageToResponse(msg *domain.FailedMessage) FailedMessageResponse {
	response := mapFailedMessage(msg)
	response.ProcessingAttempts = make([]ProcessingAttemptResponse, 0, len(msg.ProcessingAttempts))
	for _, attempt := range msg.ProcessingAttempts {
		response.ProcessingAttempts = append(response.ProcessingAttempts, ProcessingAttemptResponse{
			AttemptID:                attempt.AttemptID.String(),
			MessageID:                attempt.MessageID,
			Headers:                  attempt.Headers,
			MessageMetadata:          attempt.MessageMetadata,
			BodySize:                 attempt.BodySize,
			ExceptionType:            attempt.FailureDetails.Exception.ExceptionType,
			ExceptionMessage:         attempt.FailureDetails.Exception.Message,
			StackTrace:               attempt.FailureDetails.Exception.StackTrace,
			TimeOfFailure:            attempt.FailureDetails.TimeOfFailure,
			AddressOfFailingEndpoint: attempt.FailureDetails.AddressOfFailingEndpoint,
		})
	}
	return response
}

// MapFailedMessagesToListResponse converts records without their processing attempts.
func MapFailedMessagesToListResponse(messages []*domain.FailedMessage) ListFailedMessagesResponse {
	data := make([]FailedMessageResponse, 0, len(messages))
	for _, msg := range messages {
		data = append(data, mapFailedMessage(msg))
	}
	return ListFailedMessagesResponse{Data: data}
}

func mapFailedMessage(msg *domain.FailedMessage) FailedMessageResponse {
	groups := make([]FailureGroupResponse, 0, len(msg.FailureGroups))
	for _, group := range msg.FailureGroups {
		groups = append(groups, FailureGroupResponse{
			ID:    group.ID.String(),
			Title: group.Title,
			Type:  group.Type,
		})
	}

	return FailedMessageResponse{
		ID:                msg.ID.String(),
		MessageID:         msg.MessageID,
		MessageType:       msg.MessageType,
		ReceivingEndpoint: msg.ReceivingEndpoint,
		QueueAddress:      msg.QueueAddress,
		Status:            string(msg.Status),
		FailureGroups:     groups,
		ExpiresAt:         msg.ExpiresAt,
		Version:           msg.Version,
		CreatedAt:         msg.CreatedAt,
		LastModified:      msg.LastModified,
	}
}

// MapBulkResultToResponse converts the outcome of a bulk transition.
func MapBulkResultToResponse(result *usecase.BulkResult) BulkResponse {
	return BulkResponse{
		Count: result.Count,
		IDs:   uuidStrings(result.IDs),
	}
}

// MapCountsToResponse converts live status totals.
func MapCountsToResponse(counts domain.StatusCounts) CountsResponse {
	return CountsResponse{Unresolved: counts.Unresolved, Archived: counts.Archived}
}

// MapFailureGroupsToListResponse converts failure group views.
func MapFailureGroupsToListResponse(groups []*domain.FailureGroupView) ListFailureGroupsResponse {
	data := make([]FailureGroupViewResponse, 0, len(groups))
	for _, group := range groups {
		data = append(data, FailureGroupViewResponse{
			ID:           group.ID.String(),
			Title:        group.Title,
			Type:         group.Type,
			Count:        group.Count,
			First:        group.First,
			Last:         group.Last,
			LastModified: group.LastModified,
			Comment:      group.Comment,
		})
	}
	return ListFailureGroupsResponse{Data: data}
}

// MapQueueAddressesToListResponse converts queue address views.
func MapQueueAddressesToListResponse(views []*domain.QueueAddressView) ListQueueAddressesResponse {
	data := make([]QueueAddressResponse, 0, len(views))
	for _, view := range views {
		data = append(data, QueueAddressResponse{PhysicalAddress: view.PhysicalAddress, FailedCount: view.FailedCount})
	}
	return ListQueueAddressesResponse{Data: data}
}

// MapEndpointsToListResponse converts endpoint views.
func MapEndpointsToListResponse(views []*domain.EndpointView) ListEndpointsResponse {
	data := make([]EndpointResponse, 0, len(views))
	for _, view := range views {
		data = append(data, EndpointResponse{Name: view.Name, FailedCount: view.FailedCount})
	}
	return ListEndpointsResponse{Data: data}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
