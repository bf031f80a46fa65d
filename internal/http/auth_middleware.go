package http

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/allisson/go-pwdhash"
	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/httputil"
)

// APIKeyHeader carries the operator API key. A Bearer token in Authorization is accepted too.
const APIKeyHeader = "X-API-Key"

// apiKeyVerifier checks presented keys against the configured hash. Verifying an Argon2id
// hash is deliberately slow, so the last accepted key is remembered.
type apiKeyVerifier struct {
	hash     string
	hasher   *pwdhash.PasswordHasher
	mu       sync.RWMutex
	accepted string
}

func (v *apiKeyVerifier) verify(key string) bool {
	v.mu.RLock()
	known := v.accepted != "" && v.accepted == key
	v.mu.RUnlock()
	if known {
		return true
	}

	ok, err := v.hasher.Verify([]byte(key), v.hash)
	if err != nil || !ok {
		return false
	}

	v.mu.Lock()
	v.accepted = key
	v.mu.Unlock()
	return true
}

// APIKeyAuthMiddleware rejects requests that do not present the operator API key.
//
// Returns:
//   - 401 Unauthorized: Missing or wrong key
//   - Continues: Key matches OPERATOR_API_KEY_HASH
func APIKeyAuthMiddleware(hash string, logger *slog.Logger) gin.HandlerFunc {
	verifier := &apiKeyVerifier{hash: hash, hasher: NewAPIKeyHasher()}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			logger.Debug("authentication failed: missing api key")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		if !verifier.verify(key) {
			logger.Debug("authentication failed: invalid api key", slog.String("client_ip", c.ClientIP()))
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
		return key
	}

	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// NewAPIKeyHasher returns the hasher used for operator API keys.
func NewAPIKeyHasher() *pwdhash.PasswordHasher {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyModerate))
	if err != nil {
		// This should never happen with valid policy
		panic(err)
	}
	return hasher
}
