// Package config is the process-wide configuration store (spec §3 "Iris
// config"): a typed struct assembled once at boot from the persisted
// parameter table, with every field's default materialized back into the
// table on first boot. It follows the teacher's internal/config pattern
// (internal/config/config.go's per-domain structs) but backs the table with
// internal/store instead of a YAML file.
package config

import (
	"fmt"
	"strconv"
	"time"

	"iris/internal/store"
)

// DurationMS is a config-table duration stored as whole milliseconds.
type DurationMS int64

// Duration converts to a time.Duration for use by callers.
func (d DurationMS) Duration() time.Duration { return time.Duration(d) * time.Millisecond }

// Config is the full keyed parameter table, loaded once and shared
// read-only thereafter (spec §3).
type Config struct {
	// Tick intervals (spec §4.1).
	TickNormal DurationMS
	TickIdle   DurationMS
	TickRest   DurationMS

	// Sensory gate (spec §4.2).
	NoiseFloor        float64
	UrgentBypassFloor float64

	// Per-tick caps (spec §4.1, §4.7).
	MaxLLMCallsPerTick int
	MaxExternalRespMB  int
	ToolCallCapPerTick int

	// Capability lifecycle (spec §4.4).
	ConfirmAfterHealthy DurationMS
	QuarantineRetireAt  int

	// LLM router (spec §4.5).
	ProviderFailureThreshold int
	ProviderProbeInterval    DurationMS

	// Memory (spec §4.6).
	WorkingRingCapacity  int
	WorkingRingMaxTopics int
	WorkingRingTTL       DurationMS
	ConsolidationPeriod  DurationMS
	ReplaySalienceFloor  float64

	// Resource space (spec §4.7).
	ResourceReallocPeriod DurationMS
	ExternalResponseFloor int64
	LLMTokenBudgetWindow  DurationMS
	LLMTokenBudgetCap     int

	// Affect (spec §4.8).
	EnergyLLMCost      float64
	EnergyIdleGain     float64
	ValenceConfirmGain float64
	ValenceErrorLoss   float64
	ArousalCriticalGain float64
	ArousalDecay        float64

	// Boot guardian (spec §4.9).
	SafeModeLatchFailures int
	SafeModeRecoveryTicks int
	SafeModeCooldown      DurationMS

	// Shutdown (spec §4.1).
	ShutdownBudget DurationMS
}

// Default returns the documented default for every field (spec §3: "every
// parameter has a default").
func Default() Config {
	return Config{
		TickNormal: DurationMS(100),
		TickIdle:   DurationMS(500),
		TickRest:   DurationMS(2000),

		NoiseFloor:        0.20,
		UrgentBypassFloor: 0.82,

		MaxLLMCallsPerTick: 4,
		MaxExternalRespMB:  64,
		ToolCallCapPerTick: 4,

		ConfirmAfterHealthy: DurationMS(10 * 60 * 1000),
		QuarantineRetireAt:  3,

		ProviderFailureThreshold: 3,
		ProviderProbeInterval:    DurationMS(60 * 1000),

		WorkingRingCapacity:  32,
		WorkingRingMaxTopics: 8,
		// TTL is not literally specified; spec.md only gives the eviction
		// formula's shape (e = elapsed/TTL - 0.3*salience). Ten minutes
		// keeps entries alive across a normal back-and-forth without
		// letting the ring go stale across a whole idle period.
		WorkingRingTTL:      DurationMS(10 * 60 * 1000),
		ConsolidationPeriod: DurationMS(30 * 60 * 1000),
		ReplaySalienceFloor: 0.45,

		ResourceReallocPeriod: DurationMS(60 * 1000),
		ExternalResponseFloor: 64 * 1024 * 1024,
		LLMTokenBudgetWindow:  DurationMS(60 * 1000),
		LLMTokenBudgetCap:     10000,

		EnergyLLMCost:       0.03,
		EnergyIdleGain:      0.02,
		ValenceConfirmGain:  0.10,
		ValenceErrorLoss:    0.15,
		ArousalCriticalGain: 0.30,
		ArousalDecay:        0.95,

		SafeModeLatchFailures: 3,
		SafeModeRecoveryTicks: 5,
		SafeModeCooldown:      DurationMS(5 * 60 * 1000),

		ShutdownBudget: DurationMS(15 * 1000),
	}
}

// fields lists every (key, accessor) pair for materialization and reload.
// Using reflection would hide the spec-mandated default for each key from a
// reader; an explicit table keeps the mapping auditable.
func (c *Config) fields() []field {
	return []field{
		{"tick.normal_ms", &c.TickNormal},
		{"tick.idle_ms", &c.TickIdle},
		{"tick.rest_ms", &c.TickRest},
		{"gate.noise_floor", &c.NoiseFloor},
		{"gate.urgent_bypass_floor", &c.UrgentBypassFloor},
		{"tick.max_llm_calls", &c.MaxLLMCallsPerTick},
		{"tick.max_external_resp_mb", &c.MaxExternalRespMB},
		{"tick.tool_call_cap", &c.ToolCallCapPerTick},
		{"capability.confirm_after_healthy_ms", &c.ConfirmAfterHealthy},
		{"capability.quarantine_retire_at", &c.QuarantineRetireAt},
		{"llmrouter.failure_threshold", &c.ProviderFailureThreshold},
		{"llmrouter.probe_interval_ms", &c.ProviderProbeInterval},
		{"memory.ring_capacity", &c.WorkingRingCapacity},
		{"memory.ring_max_topics", &c.WorkingRingMaxTopics},
		{"memory.ring_ttl_ms", &c.WorkingRingTTL},
		{"memory.consolidation_period_ms", &c.ConsolidationPeriod},
		{"memory.replay_salience_floor", &c.ReplaySalienceFloor},
		{"resource.realloc_period_ms", &c.ResourceReallocPeriod},
		{"resource.external_response_floor_bytes", &c.ExternalResponseFloor},
		{"resource.llm_token_budget_window_ms", &c.LLMTokenBudgetWindow},
		{"resource.llm_token_budget_cap", &c.LLMTokenBudgetCap},
		{"affect.energy_llm_cost", &c.EnergyLLMCost},
		{"affect.energy_idle_gain", &c.EnergyIdleGain},
		{"affect.valence_confirm_gain", &c.ValenceConfirmGain},
		{"affect.valence_error_loss", &c.ValenceErrorLoss},
		{"affect.arousal_critical_gain", &c.ArousalCriticalGain},
		{"affect.arousal_decay", &c.ArousalDecay},
		{"boot.safe_mode_latch_failures", &c.SafeModeLatchFailures},
		{"boot.safe_mode_recovery_ticks", &c.SafeModeRecoveryTicks},
		{"boot.safe_mode_cooldown_ms", &c.SafeModeCooldown},
		{"shutdown.budget_ms", &c.ShutdownBudget},
	}
}

type field struct {
	key  string
	dest any
}

// Load materializes every default into st on first boot (spec §3) and
// returns the resolved Config, which may differ from Default() if an
// operator has previously persisted overrides (v2 reload is out of scope
// per spec §9; this is the read-once path).
func Load(st *store.Store) (Config, error) {
	c := Default()
	for _, f := range c.fields() {
		cur := scalarString(f.dest)
		if err := st.SetConfigIfAbsent(f.key, cur); err != nil {
			return Config{}, err
		}
		val, ok, err := st.GetConfig(f.key)
		if err != nil {
			return Config{}, err
		}
		if ok {
			if err := setScalar(f.dest, val); err != nil {
				return Config{}, fmt.Errorf("config key %s: %w", f.key, err)
			}
		}
	}
	return c, nil
}

func scalarString(dest any) string {
	switch v := dest.(type) {
	case *int:
		return strconv.Itoa(*v)
	case *int64:
		return strconv.FormatInt(*v, 10)
	case *float64:
		return strconv.FormatFloat(*v, 'g', -1, 64)
	case *DurationMS:
		return strconv.FormatInt(int64(*v), 10)
	default:
		return ""
	}
}

func setScalar(dest any, val string) error {
	switch v := dest.(type) {
	case *int:
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*v = n
	case *int64:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		*v = n
	case *float64:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		*v = n
	case *DurationMS:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		*v = DurationMS(n)
	default:
		return fmt.Errorf("unsupported scalar type %T", dest)
	}
	return nil
}
