package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	tokenService = "earshot"
	tokenAccount = "api_token"
)

// Keychain wraps the platform secret store.
type Keychain struct{}

func NewKeychain() Keychain {
	return Keychain{}
}

func (Keychain) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (Keychain) Set(service, account, value string) error {
	return keychainStore(service, account, value)
}

// GetAPIToken returns the bearer token protecting the management endpoints,
// generating and persisting one on first use. EARSHOT_API_TOKEN overrides
// the stored token on all platforms.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("EARSHOT_API_TOKEN"); tok != "" {
		return tok, nil
	}

	if tok, err := kc.Get(tokenService, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(tokenService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
