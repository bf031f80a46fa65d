package httputil

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/recoverability/internal/errors"
)

// Listing windows for failure records and retry batches.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 250
)

// ParsePagination reads the offset and limit query parameters. A missing limit means
// DefaultPageLimit; anything above MaxPageLimit is rejected rather than clamped.
func ParsePagination(c *gin.Context) (offset, limit int, err error) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok || offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", apperrors.ErrInvalidInput)
	}

	limit, ok = queryInt(c, "limit", DefaultPageLimit)
	if !ok || limit < 1 || limit > MaxPageLimit {
		return 0, 0, fmt.Errorf("%w: limit must be between 1 and %d", apperrors.ErrInvalidInput, MaxPageLimit)
	}

	return offset, limit, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	return value, err == nil
}
