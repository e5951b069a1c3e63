package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills secrets that are missing from configuration and reports which
// keys were generated. A generated JWT secret only accepts tokens minted by this process.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)
	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}
	if cfg.Notifications.FeedLimit <= 0 {
		cfg.Notifications.FeedLimit = 50
		generated["notifications.feed_limit"] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
