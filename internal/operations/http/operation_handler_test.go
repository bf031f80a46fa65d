package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/recoverability/internal/operations"
)

func TestOperationHandler_ListHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	manager := operations.NewManager(operations.Config{}, nil)
	id := manager.Begin("archive_group", "group-1", 3)
	manager.Complete(id, 3)
	manager.Begin("retry_all", "all", 0)

	handler := NewOperationHandler(manager)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil)

	handler.ListHandler(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response ListOperationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Data, 2)

	states := map[string]operations.State{}
	for _, op := range response.Data {
		states[op.Type] = op.State
	}
	assert.Equal(t, operations.StateCompleted, states["archive_group"])
	assert.Equal(t, operations.StateRunning, states["retry_all"])
}

func TestOperationHandler_ListHandler_Empty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewOperationHandler(operations.NewManager(operations.Config{}, nil))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/operations", nil)

	handler.ListHandler(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}
