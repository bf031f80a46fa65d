package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// operatorCORS lets a browser operator console on another origin call the API and follow the
// counts stream. Returns nil when disabled or when no origin survives parsing.
func operatorCORS(enabled bool, allowOrigins string, logger *slog.Logger) gin.HandlerFunc {
	if !enabled {
		return nil
	}

	origins := splitOrigins(allowOrigins)
	if len(origins) == 0 {
		logger.Warn("CORS enabled without allowed origins, cross-origin requests stay blocked")
		return nil
	}
	logger.Info("CORS enabled for operator console", slog.Any("origins", origins))

	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		// Last-Event-ID lets an EventSource resume the counts stream.
		AllowHeaders:  []string{"Content-Type", "Last-Event-ID", APIKeyHeader},
		ExposeHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:        time.Hour,
	})
}

func splitOrigins(raw string) []string {
	var origins []string
	for part := range strings.SplitSeq(raw, ",") {
		if origin := strings.TrimRight(strings.TrimSpace(part), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
