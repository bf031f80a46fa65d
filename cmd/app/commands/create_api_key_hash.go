package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Hasher hashes an operator API key for storage in configuration.
type Hasher interface {
	Hash(password []byte) (string, error)
}

// RunCreateAPIKeyHash prints the OPERATOR_API_KEY_HASH value for key. When key is empty a random
// 32-byte key is generated and printed once alongside its hash.
func RunCreateAPIKeyHash(hasher Hasher, writer io.Writer, key string) error {
	generated := false
	if strings.TrimSpace(key) == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("failed to generate api key: %w", err)
		}
		key = base64.RawURLEncoding.EncodeToString(raw)
		generated = true
	}

	hash, err := hasher.Hash([]byte(key))
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}

	if generated {
		_, _ = fmt.Fprintln(writer, "# Generated operator API key. Store it now, it is not shown again.")
		_, _ = fmt.Fprintf(writer, "OPERATOR_API_KEY=\"%s\"\n", key)
	}
	_, _ = fmt.Fprintf(writer, "OPERATOR_API_KEY_HASH='%s'\n", hash)
	return nil
}
