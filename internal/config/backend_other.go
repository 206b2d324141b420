//go:build !darwin

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// xdgDir resolves an XDG base directory, falling back to the conventional
// location under the home directory.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "earshot")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "earshot", "config.json")
}

func apiKeyHint() string {
	return ""
}

// fileBackend keeps all non-secret settings in one flat JSON object. The
// file is read lazily on first access; every write rewrites it whole.
type fileBackend struct {
	path string

	once sync.Once
	vals map[string]any
}

func newPlatformBackend() ConfigBackend {
	return &fileBackend{path: configFilePath()}
}

func (b *fileBackend) values() map[string]any {
	b.once.Do(func() {
		b.vals = make(map[string]any)
		data, err := os.ReadFile(b.path)
		if err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
			}
			return
		}
		// Decode with UseNumber so integer values survive without a
		// float64 round trip.
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&b.vals); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", b.path, err)
			b.vals = make(map[string]any)
		}
	})
	return b.vals
}

func (b *fileBackend) flush() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values()[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values()[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer", n, key)
		}
		return i, true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.values()[key] = val
	return b.flush()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values()[key] = val
	return b.flush()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.values(), key)
	return b.flush()
}
