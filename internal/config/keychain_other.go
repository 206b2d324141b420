//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Without a system keychain, secrets are kept in a mode-0600 JSON file in
// the data directory, keyed service -> account -> value.

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "earshot", "secrets.json")
}

func readSecrets() (map[string]map[string]string, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func keychainExec(service, account string) ([]byte, error) {
	secrets, err := readSecrets()
	if err != nil {
		return nil, fmt.Errorf("keychain not available: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainStore(service, account, value string) error {
	secrets, err := readSecrets()
	if err != nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
