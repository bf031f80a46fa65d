package httputil

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// ParseTimeQuery parses an optional RFC 3339 query parameter. A missing parameter yields the zero time.
func ParseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s parameter: must be an RFC 3339 timestamp", key)
	}
	return t.UTC(), nil
}
