// Package http exposes tracked bulk operations read-only.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/recoverability/internal/operations"
)

// OperationLister lists tracked operations, newest first.
type OperationLister interface {
	List() []operations.Operation
}

// ListOperationsResponse lists tracked operations.
type ListOperationsResponse struct {
	Data []operations.Operation `json:"data"`
}

// OperationHandler handles HTTP requests for tracked operations.
type OperationHandler struct {
	operations OperationLister
}

// NewOperationHandler creates a new operation handler.
func NewOperationHandler(lister OperationLister) *OperationHandler {
	return &OperationHandler{operations: lister}
}

// ListHandler lists running and recently finished bulk operations.
// GET /api/v1/operations
func (h *OperationHandler) ListHandler(c *gin.Context) {
	data := h.operations.List()
	if data == nil {
		data = []operations.Operation{}
	}
	c.JSON(http.StatusOK, ListOperationsResponse{Data: data})
}
