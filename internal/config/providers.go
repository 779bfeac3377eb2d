package config

import (
	"os"
	"strconv"

	"iris/internal/store"
	"iris/internal/types"
)

// providerEnvPrefixes mirrors spec §6's probe order: CLAUDE_*, OPENAI_*,
// GEMINI_*, DEEPSEEK_*.
//
// spec.md §9 flags two failing tests in the reference implementation
// (resolve_model_claude_priority, resolve_base_url_provider_fallback)
// suggesting ambiguity between CLAUDE_* and ANTHROPIC_* variable names.
// Decision (recorded per spec §9's instruction not to silently guess):
// CLAUDE_* takes precedence when both are set, matching the literal probe
// order in spec §6; ANTHROPIC_* is accepted as a fallback alias for
// operators migrating from the upstream Anthropic SDK's own env
// convention, but never overrides an explicitly-set CLAUDE_* value. See
// DESIGN.md for the full writeup.
var providerEnvPrefixes = []struct {
	name     string
	prefix   string
	aliasEnv string // secondary prefix checked only when prefix is unset
}{
	{"claude", "CLAUDE", "ANTHROPIC"},
	{"openai", "OPENAI", ""},
	{"gemini", "GEMINI", ""},
	{"deepseek", "DEEPSEEK", ""},
}

// SeedLLMProvidersFromEnv writes one llm_provider_config row per provider
// whose *_MODEL and *_API_KEY are set in the environment, but only when the
// table is empty (spec §3: "Seeded from environment on first boot when the
// table is empty").
func SeedLLMProvidersFromEnv(st *store.Store) error {
	existing, err := st.ListLLMProviders()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	priority := 0
	for _, p := range providerEnvPrefixes {
		model := envFirst(p.prefix, p.aliasEnv, "_MODEL")
		apiKey := envFirst(p.prefix, p.aliasEnv, "_API_KEY")
		if model == "" || apiKey == "" {
			continue
		}
		cfg := types.LLMProviderConfig{
			Name:     p.name,
			APIKey:   apiKey,
			BaseURL:  envFirst(p.prefix, p.aliasEnv, "_BASE_URL"),
			Model:    model,
			Priority: priority,
			Active:   true,
		}
		priority++
		if err := st.UpsertLLMProvider(cfg); err != nil {
			return err
		}
	}
	return nil
}

// envFirst returns the value of prefix+suffix if set, else aliasPrefix+suffix
// when aliasPrefix is non-empty, else "".
func envFirst(prefix, aliasPrefix, suffix string) string {
	if v := os.Getenv(prefix + suffix); v != "" {
		return v
	}
	if aliasPrefix == "" {
		return ""
	}
	return os.Getenv(aliasPrefix + suffix)
}

// LiteModelEnv returns the configured lite model for a provider's env
// prefix, or "" when unset (spec §4.5: "absence of a configured lite model
// causes silent fallback to the main model").
func LiteModelEnv(prefix string) string { return os.Getenv(prefix + "_LITE_MODEL") }

// LogFilterFromEnv reads the RUST_LOG-style filter (spec §6).
func LogFilterFromEnv() string { return os.Getenv("RUST_LOG") }

// ShutdownBudgetOverride lets tests shrink the 15s shutdown budget via env;
// returns ok=false when unset.
func ShutdownBudgetOverride() (DurationMS, bool) {
	v := os.Getenv("IRIS_SHUTDOWN_BUDGET_MS")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return DurationMS(n), true
}
