package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "EARSHOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "EARSHOT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "openai.api_key", typ: kString, env: "EARSHOT_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.summary_model", typ: kString, env: "EARSHOT_OPENAI_SUMMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.SummaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.SummaryModel },
	},
	{
		key: "openai.fact_check_model", typ: kString, env: "EARSHOT_OPENAI_FACT_CHECK_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.FactCheckModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.FactCheckModel },
	},
	{
		key: "summarizer.chunk_minutes", typ: kInt, env: "EARSHOT_SUMMARIZER_CHUNK_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.ChunkMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarizer.ChunkMinutes },
	},
	{
		key: "summarizer.min_text_len", typ: kInt, env: "EARSHOT_SUMMARIZER_MIN_TEXT_LEN",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.MinTextLen = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarizer.MinTextLen },
	},
	{
		key: "summarizer.max_attempts", typ: kInt, env: "EARSHOT_SUMMARIZER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarizer.MaxAttempts },
	},
	{
		key: "scheduler.summarize_interval", typ: kString, env: "EARSHOT_SCHEDULER_SUMMARIZE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.SummarizeInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.SummarizeInterval },
	},
	{
		key: "scheduler.cleanup_interval", typ: kString, env: "EARSHOT_SCHEDULER_CLEANUP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.CleanupInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.CleanupInterval },
	},
	{
		key: "scheduler.lock_timeout", typ: kString, env: "EARSHOT_SCHEDULER_LOCK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.LockTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.LockTimeout },
	},
	{
		key: "reflect.graph_id", typ: kString, env: "EARSHOT_REFLECT_GRAPH_ID",
		apply:   func(cfg *Config, v any) { cfg.Reflect.GraphID = v.(string) },
		extract: func(cfg Config) any { return cfg.Reflect.GraphID },
	},
	{
		key: "reflect.access_token", typ: kString, env: "EARSHOT_REFLECT_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Reflect.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Reflect.AccessToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EARSHOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "EARSHOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
