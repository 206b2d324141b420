package config

import (
	"fmt"
	"strconv"
)

// KeyInfo is one settable key with its current value, as shown by the
// `config show` command.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ShowAll lists every non-secret key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	infos := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		infos = append(infos, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return infos
}

// SetKey persists one key to the platform backend. Secrets are rejected;
// they belong in the secret store or the environment, not the config
// backend.
func SetKey(key, value string) error {
	s, ok := findSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}

	b := newPlatformBackend()
	if s.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

// ValidKeys lists the non-secret key names accepted by SetKey.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
