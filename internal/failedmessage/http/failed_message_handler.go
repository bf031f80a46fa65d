// Package http provides HTTP handlers for browsing failure records and running the archive engine.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/failedmessage/http/dto"
	"github.com/allisson/recoverability/internal/failedmessage/usecase"
	"github.com/allisson/recoverability/internal/httputil"
	customValidation "github.com/allisson/recoverability/internal/validation"
)

// FailedMessageHandler handles HTTP requests for failure records.
type FailedMessageHandler struct {
	failedMessageUseCase usecase.FailedMessageUseCase
	archiveUseCase       usecase.ArchiveUseCase
	logger               *slog.Logger
	now                  func() time.Time
}

// NewFailedMessageHandler creates a new failed message handler with required dependencies.
func NewFailedMessageHandler(
	failedMessageUseCase usecase.FailedMessageUseCase,
	archiveUseCase usecase.ArchiveUseCase,
	logger *slog.Logger,
) *FailedMessageHandler {
	return &FailedMessageHandler{
		failedMessageUseCase: failedMessageUseCase,
		archiveUseCase:       archiveUseCase,
		logger:               logger,
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// ListHandler lists failure records.
// GET /api/v1/failures?status=unresolved&endpoint=&queue=&group=&offset=0&limit=50
func (h *FailedMessageHandler) ListHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	messages, err := h.failedMessageUseCase.List(c.Request.Context(), filter, offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapFailedMessagesToListResponse(messages))
}

func parseFilter(c *gin.Context) (domain.Filter, error) {
	filter := domain.Filter{
		ReceivingEndpoint: c.Query("endpoint"),
		QueueAddress:      c.Query("queue"),
	}

	for _, raw := range c.QueryArray("status") {
		status := domain.Status(raw)
		if !status.IsValid() {
			return domain.Filter{}, fmt.Errorf("invalid status parameter: %q", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if raw := c.Query("group"); raw != "" {
		groupID, err := uuid.Parse(raw)
		if err != nil {
			return domain.Filter{}, fmt.Errorf("invalid group parameter: must be a uuid")
		}
		filter.GroupID = groupID
	}

	return filter, nil
}

// GetHandler returns one failure record with its processing attempts.
// GET /api/v1/failures/:id
func (h *FailedMessageHandler) GetHandler(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	msg, err := h.failedMessageUseCase.FetchByID(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if msg == nil {
		httputil.HandleErrorGin(c, domain.ErrFailedMessageNotFound, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapFailedMessageToResponse(msg))
}

// ArchiveHandler archives the given records.
// POST /api/v1/failures/archive
func (h *FailedMessageHandler) ArchiveHandler(c *gin.Context) {
	ids, ok := h.bindIDs(c)
	if !ok {
		return
	}

	result, err := h.archiveUseCase.ArchiveByIDs(c.Request.Context(), ids)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapBulkResultToResponse(result))
}

// UnarchiveHandler moves the given archived records back to Unresolved.
// POST /api/v1/failures/unarchive
func (h *FailedMessageHandler) UnarchiveHandler(c *gin.Context) {
	ids, ok := h.bindIDs(c)
	if !ok {
		return
	}

	result, err := h.archiveUseCase.UnarchiveByIDs(c.Request.Context(), ids)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapBulkResultToResponse(result))
}

// UnarchiveRangeHandler unarchives every record archived within a modification window.
// POST /api/v1/failures/unarchive/range
func (h *FailedMessageHandler) UnarchiveRangeHandler(c *gin.Context) {
	var req dto.UnarchiveRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	result, err := h.archiveUseCase.UnarchiveByRange(
		c.Request.Context(),
		req.From.UTC(),
		req.To.UTC(),
		h.now(),
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapBulkResultToResponse(result))
}

// CountsHandler returns the live Unresolved and Archived totals.
// GET /api/v1/failures/counts
func (h *FailedMessageHandler) CountsHandler(c *gin.Context) {
	counts, err := h.failedMessageUseCase.CountByStatus(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapCountsToResponse(counts))
}

// ListQueuesHandler lists failing queue addresses.
// GET /api/v1/queues?search=billing&offset=0&limit=50
func (h *FailedMessageHandler) ListQueuesHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	views, err := h.failedMessageUseCase.ListQueueAddresses(c.Request.Context(), c.Query("search"), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapQueueAddressesToListResponse(views))
}

// ListEndpointsHandler lists receiving endpoints with open failures.
// GET /api/v1/endpoints
func (h *FailedMessageHandler) ListEndpointsHandler(c *gin.Context) {
	views, err := h.failedMessageUseCase.ListEndpoints(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapEndpointsToListResponse(views))
}

func (h *FailedMessageHandler) bindIDs(c *gin.Context) ([]uuid.UUID, bool) {
	var req dto.IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return nil, false
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return nil, false
	}

	ids, err := customValidation.ParseUUIDs(req.IDs)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return nil, false
	}
	return ids, true
}

func parseID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id parameter: must be a uuid")
	}
	return id, nil
}
