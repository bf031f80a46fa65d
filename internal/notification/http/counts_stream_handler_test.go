package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/recoverability/internal/notification"
)

// readEvent returns the data line of the next counts event.
func readEvent(t *testing.T, reader *bufio.Reader) CountsResponse {
	t.Helper()

	var event string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			require.Equal(t, CountsEvent, event)
			var counts CountsResponse
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &counts))
			return counts
		}
	}
}

func TestCountsStreamHandler_StreamsLatestAndChanges(t *testing.T) {
	gin.SetMode(gin.TestMode)

	broadcaster := notification.NewBroadcaster(nil)
	broadcaster.Notify(context.Background(), notification.Counts{Unresolved: 3, Archived: 1})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewCountsStreamHandler(broadcaster, logger)

	router := gin.New()
	router.GET("/api/v1/failures/counts/stream", handler.StreamHandler)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/failures/counts/stream", nil)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, resp.Body.Close())
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, CountsResponse{Unresolved: 3, Archived: 1}, readEvent(t, reader))

	broadcaster.Notify(context.Background(), notification.Counts{Unresolved: 2, Archived: 2})
	assert.Equal(t, CountsResponse{Unresolved: 2, Archived: 2}, readEvent(t, reader))

	cancel()
}
