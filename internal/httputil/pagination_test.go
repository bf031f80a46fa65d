package httputil_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/httputil"
)

func TestParsePagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		url            string
		expectedOffset int
		expectedLimit  int
		errorMsg       string
	}{
		{name: "defaults", url: "/", expectedLimit: httputil.DefaultPageLimit},
		{name: "empty values use defaults", url: "/?offset=&limit=", expectedLimit: httputil.DefaultPageLimit},
		{name: "custom window", url: "/?offset=40&limit=20", expectedOffset: 40, expectedLimit: 20},
		{name: "largest page", url: "/?limit=250", expectedLimit: httputil.MaxPageLimit},
		{name: "negative offset", url: "/?offset=-1", errorMsg: "invalid input: offset must be a non-negative integer"},
		{name: "offset not a number", url: "/?offset=abc", errorMsg: "invalid input: offset must be a non-negative integer"},
		{name: "zero limit", url: "/?limit=0", errorMsg: "invalid input: limit must be between 1 and 250"},
		{name: "limit above max", url: "/?limit=251", errorMsg: "invalid input: limit must be between 1 and 250"},
		{name: "limit not a number", url: "/?limit=xyz", errorMsg: "invalid input: limit must be between 1 and 250"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, tt.url, nil)

			offset, limit, err := httputil.ParsePagination(c)

			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
				assert.Equal(t, tt.errorMsg, err.Error())
				assert.Zero(t, offset)
				assert.Zero(t, limit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOffset, offset)
			assert.Equal(t, tt.expectedLimit, limit)
		})
	}
}
