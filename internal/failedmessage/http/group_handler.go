package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
	"github.com/allisson/recoverability/internal/failedmessage/http/dto"
	"github.com/allisson/recoverability/internal/failedmessage/usecase"
	"github.com/allisson/recoverability/internal/httputil"
	customValidation "github.com/allisson/recoverability/internal/validation"
)

// GroupHandler handles HTTP requests for failure groups.
type GroupHandler struct {
	failedMessageUseCase usecase.FailedMessageUseCase
	archiveUseCase       usecase.ArchiveUseCase
	logger               *slog.Logger
}

// NewGroupHandler creates a new failure group handler.
func NewGroupHandler(
	failedMessageUseCase usecase.FailedMessageUseCase,
	archiveUseCase usecase.ArchiveUseCase,
	logger *slog.Logger,
) *GroupHandler {
	return &GroupHandler{
		failedMessageUseCase: failedMessageUseCase,
		archiveUseCase:       archiveUseCase,
		logger:               logger,
	}
}

// ListHandler lists the failure groups of one classifier.
// GET /api/v1/groups?classifier=Message%20Type
func (h *GroupHandler) ListHandler(c *gin.Context) {
	classifier := c.DefaultQuery("classifier", domain.ClassifierExceptionTypeAndStackTrace)

	groups, err := h.failedMessageUseCase.GetFailureGroupsByClassifier(c.Request.Context(), classifier)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapFailureGroupsToListResponse(groups))
}

// ArchiveHandler archives every Unresolved record of the group.
// POST /api/v1/groups/:id/archive
func (h *GroupHandler) ArchiveHandler(c *gin.Context) {
	groupID, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	result, err := h.archiveUseCase.ArchiveGroup(c.Request.Context(), groupID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapBulkResultToResponse(result))
}

// UnarchiveHandler moves every Archived record of the group back to Unresolved.
// POST /api/v1/groups/:id/unarchive
func (h *GroupHandler) UnarchiveHandler(c *gin.Context) {
	groupID, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	result, err := h.archiveUseCase.UnarchiveGroup(c.Request.Context(), groupID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapBulkResultToResponse(result))
}

// EditCommentHandler creates or replaces the comment of a group.
// PUT /api/v1/groups/:id/comment
func (h *GroupHandler) EditCommentHandler(c *gin.Context) {
	groupID, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if err := h.failedMessageUseCase.EditComment(c.Request.Context(), groupID, req.Comment); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Data(http.StatusNoContent, "application/json", nil)
}

// DeleteCommentHandler removes the comment of a group.
// DELETE /api/v1/groups/:id/comment
func (h *GroupHandler) DeleteCommentHandler(c *gin.Context) {
	groupID, err := parseID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := h.failedMessageUseCase.DeleteComment(c.Request.Context(), groupID); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Data(http.StatusNoContent, "application/json", nil)
}
