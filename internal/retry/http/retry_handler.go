// Package http provides HTTP handlers for operator retry requests and retry batch visibility.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	fmdto "github.com/allisson/recoverability/internal/failedmessage/http/dto"
	"github.com/allisson/recoverability/internal/httputil"
	"github.com/allisson/recoverability/internal/retry/http/dto"
	"github.com/allisson/recoverability/internal/retry/usecase"
	customValidation "github.com/allisson/recoverability/internal/validation"
)

// RetryHandler handles HTTP requests that stage failure records for redelivery.
type RetryHandler struct {
	retryUseCase usecase.RetryUseCase
	logger       *slog.Logger
	now          func() time.Time
}

// NewRetryHandler creates a new retry handler with required dependencies.
func NewRetryHandler(retryUseCase usecase.RetryUseCase, logger *slog.Logger) *RetryHandler {
	return &RetryHandler{
		retryUseCase: retryUseCase,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RetryByIDsHandler requests a retry of the given records.
// POST /api/v1/failures/retry
func (h *RetryHandler) RetryByIDsHandler(c *gin.Context) {
	var req dto.RetryIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	ids, err := customValidation.ParseUUIDs(req.IDs)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	request, err := h.retryUseCase.RetryByIDs(c.Request.Context(), ids)
	h.respond(c, request, err)
}

// RetryOneHandler requests a retry of a single record.
// POST /api/v1/failures/:id/retry
func (h *RetryHandler) RetryOneHandler(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	request, err := h.retryUseCase.RetryByIDs(c.Request.Context(), []uuid.UUID{id})
	h.respond(c, request, err)
}

// RevertHandler puts a RetryIssued record back to Unresolved.
// POST /api/v1/failures/:id/revert
func (h *RetryHandler) RevertHandler(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := h.retryUseCase.RevertRetry(c.Request.Context(), id); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Data(http.StatusNoContent, "application/json", nil)
}

// RetryGroupHandler requests a retry of every open record in a failure group.
// POST /api/v1/groups/:id/retry
func (h *RetryHandler) RetryGroupHandler(c *gin.Context) {
	groupID, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	request, err := h.retryUseCase.RetryByGroup(c.Request.Context(), groupID)
	h.respond(c, request, err)
}

// RetryEndpointHandler requests a retry of every open record of a receiving endpoint.
// POST /api/v1/endpoints/:name/retry
func (h *RetryHandler) RetryEndpointHandler(c *gin.Context) {
	request, err := h.retryUseCase.RetryByEndpoint(c.Request.Context(), c.Param("name"))
	h.respond(c, request, err)
}

// RetryQueueHandler requests a retry of every open record of a queue address.
// POST /api/v1/queues/retry
func (h *RetryHandler) RetryQueueHandler(c *gin.Context) {
	var req dto.RetryQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	request, err := h.retryUseCase.RetryByQueueAddress(c.Request.Context(), req.QueueAddress)
	h.respond(c, request, err)
}

// RetryAllHandler requests a retry of every open record.
// POST /api/v1/retries/all
func (h *RetryHandler) RetryAllHandler(c *gin.Context) {
	request, err := h.retryUseCase.RetryAll(c.Request.Context())
	h.respond(c, request, err)
}

// ListBatchesHandler lists retry batches, newest first.
// GET /api/v1/retries/batches?offset=0&limit=50
func (h *RetryHandler) ListBatchesHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	batches, err := h.retryUseCase.ListBatches(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRetryBatchesToListResponse(batches))
}

// ListPendingHandler lists RetryIssued records.
// GET /api/v1/retries/pending?from=&to=&queue=&offset=0&limit=50
func (h *RetryHandler) ListPendingHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	from, err := httputil.ParseTimeQuery(c, "from")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	to, err := httputil.ParseTimeQuery(c, "to")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	filter := usecase.PendingFilter{From: from, To: to, QueueAddress: c.Query("queue")}
	messages, err := h.retryUseCase.ListPendingRetries(c.Request.Context(), filter, offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, fmdto.MapFailedMessagesToListResponse(messages))
}

// ResolvePendingHandler marks RetryIssued records of the window as Resolved.
// POST /api/v1/retries/pending/resolve
func (h *RetryHandler) ResolvePendingHandler(c *gin.Context) {
	filter, ok := h.bindPending(c)
	if !ok {
		return
	}

	resolved, err := h.retryUseCase.ResolvePending(c.Request.Context(), filter)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.ResolvedResponse{Resolved: resolved})
}

// RetryPendingHandler re-requests a retry of RetryIssued records of the window.
// POST /api/v1/retries/pending/retry
func (h *RetryHandler) RetryPendingHandler(c *gin.Context) {
	filter, ok := h.bindPending(c)
	if !ok {
		return
	}

	request, err := h.retryUseCase.RetryPending(c.Request.Context(), filter)
	h.respond(c, request, err)
}

// bindPending reads the reconciliation window. An open end means "up to now".
func (h *RetryHandler) bindPending(c *gin.Context) (usecase.PendingFilter, bool) {
	var req dto.PendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return usecase.PendingFilter{}, false
	}

	if req.To.IsZero() {
		req.To = h.now()
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return usecase.PendingFilter{}, false
	}

	return usecase.PendingFilter{
		From:         req.From.UTC(),
		To:           req.To.UTC(),
		QueueAddress: req.QueueAddress,
	}, true
}

func (h *RetryHandler) respond(c *gin.Context, request *usecase.RetryRequest, err error) {
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, dto.MapRetryRequestToResponse(request))
}

func parseID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id parameter: must be a uuid")
	}
	return id, nil
}
