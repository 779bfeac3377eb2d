// Package llmrouter resolves a provider name to a concrete types.LLMClient
// and tracks per-provider health (spec §4.5): three consecutive failures
// mark a provider unavailable, a periodic probe restores it once a minimal
// call succeeds. There is deliberately no cross-provider fallback here —
// that decision belongs to internal/cognition, which chooses which
// provider to address for a given turn.
package llmrouter

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/robfig/cron/v3"

	"iris/internal/config"
	"iris/internal/store"
	"iris/internal/types"
)

// entry is one configured provider and its live health state.
type entry struct {
	cfg       types.LLMProviderConfig
	client    types.LLMClient
	liteModel string

	mu                  sync.Mutex
	consecutiveFailures int
	available           bool
}

// Router owns every configured provider client and the cron job that
// probes unavailable ones back to health.
type Router struct {
	mu         sync.RWMutex
	byName     map[string]*entry
	byPriority []string

	failureThreshold int
	cronRunner       *cron.Cron
}

// New builds a Router from the providers persisted in st, seeding clients
// for each row's name prefix per spec §4.5's probe order.
func New(ctx context.Context, st *store.Store, cfg config.Config) (*Router, error) {
	rows, err := st.ListLLMProviders()
	if err != nil {
		return nil, err
	}

	r := &Router{
		byName:           make(map[string]*entry),
		failureThreshold: cfg.ProviderFailureThreshold,
	}
	if r.failureThreshold <= 0 {
		r.failureThreshold = 3
	}

	for _, row := range rows {
		if !row.Active {
			continue
		}
		client, liteModel, err := buildClient(ctx, row)
		if err != nil {
			return nil, types.Tag(types.KindFatal, "llmrouter.New", fmt.Errorf("provider %s: %w", row.Name, err))
		}
		r.byName[row.Name] = &entry{cfg: row, client: client, liteModel: liteModel, available: true}
		r.byPriority = append(r.byPriority, row.Name)
	}

	r.cronRunner = cron.New()
	spec := fmt.Sprintf("@every %s", cfg.ProviderProbeInterval.Duration())
	if _, err := r.cronRunner.AddFunc(spec, func() { r.probeUnavailable(context.Background()) }); err != nil {
		return nil, types.Tag(types.KindFatal, "llmrouter.New", err)
	}
	r.cronRunner.Start()

	return r, nil
}

// buildClient picks the transport for a provider row based on its name,
// mirroring spec §4.5's provider taxonomy (anthropic SDK, openai SDK,
// genai SDK, generic REST).
func buildClient(ctx context.Context, row types.LLMProviderConfig) (types.LLMClient, string, error) {
	switch row.Name {
	case "claude":
		return newAnthropicClient(row.APIKey, row.BaseURL), config.LiteModelEnv("CLAUDE"), nil
	case "openai":
		return newOpenAIClient(row.APIKey, row.BaseURL), config.LiteModelEnv("OPENAI"), nil
	case "gemini":
		c, err := newGeminiClient(ctx, row.APIKey)
		return c, config.LiteModelEnv("GEMINI"), err
	default:
		return newGenericRESTClient(row.APIKey, row.BaseURL), config.LiteModelEnv("DEEPSEEK"), nil
	}
}

// Stop halts the recovery-probe cron job. Call during graceful shutdown.
func (r *Router) Stop() { r.cronRunner.Stop() }

// Available reports whether provider name currently accepts calls.
func (r *Router) Available(name string) bool {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Providers lists configured provider names in priority order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byPriority))
	copy(out, r.byPriority)
	return out
}

// Complete runs one turn against the named provider's main model. Returns
// an error without attempting any other provider when name is unconfigured
// (Validation-tagged) or currently unavailable (CapabilityFault-tagged).
func (r *Router) Complete(ctx context.Context, name string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	e, err := r.lookup(name)
	if err != nil {
		return types.CompletionResult{}, err
	}
	return r.call(ctx, e, e.cfg.Model, messages, tools)
}

// CompleteLite runs one turn against the provider's configured lite model,
// silently falling back to the main model when no lite model is set (spec
// §4.5).
func (r *Router) CompleteLite(ctx context.Context, name string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	e, err := r.lookup(name)
	if err != nil {
		return types.CompletionResult{}, err
	}
	model := e.liteModel
	if model == "" {
		model = e.cfg.Model
	}
	return r.call(ctx, e, model, messages, tools)
}

func (r *Router) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Tag(types.KindValidation, "llmrouter.lookup", fmt.Errorf("unconfigured provider %q", name))
	}
	e.mu.Lock()
	available := e.available
	e.mu.Unlock()
	if !available {
		return nil, types.Tag(types.KindCapabilityFault, "llmrouter.lookup", fmt.Errorf("provider %q unavailable", name))
	}
	return e, nil
}

func (r *Router) call(ctx context.Context, e *entry, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	result, err := e.client.Complete(ctx, model, messages, tools)
	e.mu.Lock()
	if err != nil {
		e.consecutiveFailures++
		if e.consecutiveFailures >= r.failureThreshold {
			e.available = false
		}
	} else {
		e.consecutiveFailures = 0
	}
	e.mu.Unlock()
	return result, err
}

// probeUnavailable sends a minimal completion to every unavailable
// provider; a success restores it (spec §4.5's "60s recovery probe"). Each
// provider is probed concurrently so one slow-to-fail endpoint can't delay
// recovery of the others.
func (r *Router) probeUnavailable(ctx context.Context) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byName))
	for _, e := range r.byName {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	probe := []types.Message{{Role: "user", Content: "ping"}}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		e.mu.Lock()
		unavailable := !e.available
		e.mu.Unlock()
		if !unavailable {
			continue
		}
		g.Go(func() error {
			_, err := e.client.Complete(gctx, e.cfg.Model, probe, nil)
			e.mu.Lock()
			if err == nil {
				e.available = true
				e.consecutiveFailures = 0
			}
			e.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}
