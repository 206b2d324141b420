package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server     ServerConfig
	OpenAI     OpenAIConfig
	Summarizer SummarizerConfig
	Scheduler  SchedulerConfig
	Reflect    ReflectConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OpenAIConfig struct {
	APIKey         string
	SummaryModel   string
	FactCheckModel string
}

type SummarizerConfig struct {
	ChunkMinutes int
	MinTextLen   int
	MaxAttempts  int
}

type SchedulerConfig struct {
	SummarizeInterval string
	CleanupInterval   string
	LockTimeout       string
}

type ReflectConfig struct {
	GraphID     string
	AccessToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		OpenAI: OpenAIConfig{
			SummaryModel:   "gpt-4o",
			FactCheckModel: "gpt-4o",
		},
		Summarizer: SummarizerConfig{
			ChunkMinutes: 10,
			MinTextLen:   50,
			MaxAttempts:  3,
		},
		Scheduler: SchedulerConfig{
			SummarizeInterval: "5m",
			CleanupInterval:   "15m",
			LockTimeout:       "30m",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.earshot.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/earshot/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (EARSHOT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts platform secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for secrets still unset.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get("earshot", "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}
	if cfg.Reflect.AccessToken == "" {
		if key, err := kc.Get("earshot", "reflect_access_token"); err == nil && key != "" {
			cfg.Reflect.AccessToken = key
		}
	}

	if cfg.OpenAI.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable EARSHOT_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
