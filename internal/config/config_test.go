package config

import (
	"errors"
	"strings"
	"testing"
)

// fakeBackend is an in-memory ConfigBackend.
type fakeBackend struct {
	strings map[string]string
	ints    map[string]int
	err     error
}

func (f *fakeBackend) GetString(key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeBackend) GetInt(key string) (int, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	v, ok := f.ints[key]
	return v, ok, nil
}

func (f *fakeBackend) SetString(key, value string) error {
	if f.strings == nil {
		f.strings = map[string]string{}
	}
	f.strings[key] = value
	return nil
}

func (f *fakeBackend) SetInt(key string, value int) error {
	if f.ints == nil {
		f.ints = map[string]int{}
	}
	f.ints[key] = value
	return nil
}

func (f *fakeBackend) Delete(key string) error {
	delete(f.strings, key)
	delete(f.ints, key)
	return nil
}

// fakeKeychain serves secrets by account name.
type fakeKeychain struct {
	secrets map[string]string
}

func (f fakeKeychain) Get(service, account string) (string, error) {
	v, ok := f.secrets[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EARSHOT_OPENAI_API_KEY", "sk-test")

	cfg, err := loadWith(&fakeBackend{}, fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.OpenAI.SummaryModel != "gpt-4o" {
		t.Errorf("summary model = %q, want gpt-4o", cfg.OpenAI.SummaryModel)
	}
	if cfg.Summarizer.ChunkMinutes != 10 || cfg.Summarizer.MinTextLen != 50 || cfg.Summarizer.MaxAttempts != 3 {
		t.Errorf("summarizer defaults = %+v", cfg.Summarizer)
	}
	if cfg.Scheduler.SummarizeInterval != "5m" || cfg.Scheduler.CleanupInterval != "15m" || cfg.Scheduler.LockTimeout != "30m" {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadBackendOverridesDefaults(t *testing.T) {
	t.Setenv("EARSHOT_OPENAI_API_KEY", "sk-test")

	b := &fakeBackend{
		strings: map[string]string{
			"openai.summary_model":         "gpt-4o-mini",
			"scheduler.summarize_interval": "1m",
		},
		ints: map[string]int{
			"server.port":              5001,
			"summarizer.chunk_minutes": 5,
		},
	}
	cfg, err := loadWith(b, fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 5001 {
		t.Errorf("port = %d, want 5001", cfg.Server.Port)
	}
	if cfg.OpenAI.SummaryModel != "gpt-4o-mini" {
		t.Errorf("summary model = %q, want gpt-4o-mini", cfg.OpenAI.SummaryModel)
	}
	if cfg.Summarizer.ChunkMinutes != 5 {
		t.Errorf("chunk minutes = %d, want 5", cfg.Summarizer.ChunkMinutes)
	}
	if cfg.Scheduler.SummarizeInterval != "1m" {
		t.Errorf("summarize interval = %q, want 1m", cfg.Scheduler.SummarizeInterval)
	}
}

func TestLoadEnvOverridesBackend(t *testing.T) {
	t.Setenv("EARSHOT_OPENAI_API_KEY", "sk-test")
	t.Setenv("EARSHOT_SERVER_PORT", "6000")

	b := &fakeBackend{ints: map[string]int{"server.port": 5001}}
	cfg, err := loadWith(b, fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("port = %d, want env override 6000", cfg.Server.Port)
	}
}

func TestLoadSecretsFromKeychain(t *testing.T) {
	kc := fakeKeychain{secrets: map[string]string{
		"openai_api_key":       "sk-from-keychain",
		"reflect_access_token": "rt-from-keychain",
	}}
	cfg, err := loadWith(&fakeBackend{}, kc)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.OpenAI.APIKey != "sk-from-keychain" {
		t.Errorf("api key = %q, want keychain value", cfg.OpenAI.APIKey)
	}
	if cfg.Reflect.AccessToken != "rt-from-keychain" {
		t.Errorf("reflect token = %q, want keychain value", cfg.Reflect.AccessToken)
	}
}

func TestLoadEnvSecretWinsOverKeychain(t *testing.T) {
	t.Setenv("EARSHOT_OPENAI_API_KEY", "sk-from-env")

	kc := fakeKeychain{secrets: map[string]string{"openai_api_key": "sk-from-keychain"}}
	cfg, err := loadWith(&fakeBackend{}, kc)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env value", cfg.OpenAI.APIKey)
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	_, err := loadWith(&fakeBackend{}, fakeKeychain{})
	if err == nil {
		t.Fatal("expected error for missing OpenAI API key")
	}
	if !strings.Contains(err.Error(), "EARSHOT_OPENAI_API_KEY") {
		t.Errorf("error %q should name the env var", err)
	}
}

func TestLoadBackendError(t *testing.T) {
	t.Setenv("EARSHOT_OPENAI_API_KEY", "sk-test")

	_, err := loadWith(&fakeBackend{err: errors.New("defaults exploded")}, fakeKeychain{})
	if err == nil {
		t.Fatal("expected backend error to propagate")
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	t.Setenv("EARSHOT_OPENAI_API_KEY", "sk-test")
	t.Setenv("EARSHOT_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(&fakeBackend{}, fakeKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want default kept after bad env value", cfg.Server.Port)
	}
}

func TestShowAllExcludesSecrets(t *testing.T) {
	infos := ShowAll(defaults())

	for _, info := range infos {
		switch info.Key {
		case "server.api_token", "openai.api_key", "reflect.access_token":
			t.Errorf("secret %s exposed by ShowAll", info.Key)
		}
	}

	found := false
	for _, info := range infos {
		if info.Key == "server.port" && info.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("server.port missing from ShowAll output")
	}
}

func TestValidKeysExcludesSecrets(t *testing.T) {
	for _, key := range ValidKeys() {
		switch key {
		case "server.api_token", "openai.api_key", "reflect.access_token":
			t.Errorf("secret %s listed as settable", key)
		}
	}
}
