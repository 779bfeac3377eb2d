// Command iris is the single-process cognitive runtime (spec §6): one
// binary, one interactive terminal UI, no subcommands and no flags beyond
// what the environment provides. Boot wiring follows the teacher's
// cmd/nerd/main.go pattern (a cobra root command with a RunE that
// initializes every backend component and hands off to the interactive
// program) but trimmed to the single command spec §6 calls for.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iris/internal/affect"
	"iris/internal/bootguardian"
	"iris/internal/capability"
	"iris/internal/cognition"
	"iris/internal/config"
	"iris/internal/embedding"
	"iris/internal/llmrouter"
	"iris/internal/logging"
	"iris/internal/memory"
	"iris/internal/resource"
	"iris/internal/scheduler"
	"iris/internal/sensorygate"
	"iris/internal/store"
	"iris/internal/types"
)

// defaultResourceBudgetBytes is the total pool the 60/20/20 reallocator
// split divides (spec §4.7). Not itself a spec-named constant; sized to
// comfortably exceed spec's 64MB external-response floor across all three
// classes on a typical operator machine.
const defaultResourceBudgetBytes = 1 << 30 // 1GiB

// replayScanChannelCapacity bounds the replay worker's spontaneous-thought
// buffer so a burst of pattern hits can never stall the tick loop.
const replayScanChannelCapacity = 16

var rootCmd = &cobra.Command{
	Use:   "iris",
	Short: "Iris cognitive runtime",
	Long: `Iris is a persistent cognitive runtime: a unified tick loop that
gates incoming perception, routes it through an LLM response pipeline, and
grows its own capabilities over time.

Run without arguments to start the interactive session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logging.Init(config.LogFilterFromEnv())
	log := logging.Logger(logging.CategoryBoot)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(os.Getenv("DATABASE_URL"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	cfg, err := config.Load(st)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if override, ok := config.ShutdownBudgetOverride(); ok {
		cfg.ShutdownBudget = override
	}
	if err := config.SeedLLMProvidersFromEnv(st); err != nil {
		return fmt.Errorf("seed llm providers: %w", err)
	}

	router, err := llmrouter.New(ctx, st, cfg)
	if err != nil {
		return fmt.Errorf("start llm router: %w", err)
	}
	defer router.Stop()

	gateProvider := ""
	if providers := router.Providers(); len(providers) > 0 {
		gateProvider = providers[0]
	}

	gate, err := sensorygate.New()
	if err != nil {
		return fmt.Errorf("start sensory gate: %w", err)
	}

	ring := memory.New(cfg.WorkingRingCapacity, cfg.WorkingRingMaxTopics, cfg.WorkingRingTTL.Duration())
	episodic := memory.NewEpisodicStore(st)
	semantic := memory.NewSemanticStore(st)

	var embedder *embedding.Engine
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		embedder, err = embedding.New(ctx, apiKey, os.Getenv("GEMINI_EMBEDDING_MODEL"))
		if err != nil {
			log.Warn("embedding engine unavailable, semantic recall disabled", zap.Error(err))
			embedder = nil
		}
	}

	registry, err := capability.New(st, os.Getenv("IRIS_CAPABILITY_STAGING_DIR"), cfg.ConfirmAfterHealthy.Duration(), cfg.QuarantineRetireAt)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	defer func() { _ = registry.Close() }()

	affectActor := affect.New(affect.Config{
		EnergyLLMCost:       cfg.EnergyLLMCost,
		EnergyIdleGain:      cfg.EnergyIdleGain,
		ValenceConfirmGain:  cfg.ValenceConfirmGain,
		ValenceErrorLoss:    cfg.ValenceErrorLoss,
		ArousalCriticalGain: cfg.ArousalCriticalGain,
		ArousalDecay:        cfg.ArousalDecay,
	})

	guardian := bootguardian.New(st, bootguardian.Config{
		LatchFailures: cfg.SafeModeLatchFailures,
		RecoveryTicks: cfg.SafeModeRecoveryTicks,
		Cooldown:      cfg.SafeModeCooldown.Duration(),
	})

	sampler := resource.NewHostSampler()
	reallocator := resource.NewReallocator(sampler, defaultResourceBudgetBytes)
	admission := resource.NewAdmissionGate(reallocator)
	tokens := resource.NewTokenBudget(cfg.LLMTokenBudgetWindow.Duration(), cfg.LLMTokenBudgetCap)

	backgroundCron := cron.New()
	if _, err := reallocator.Start(backgroundCron, cfg.ResourceReallocPeriod.Duration()); err != nil {
		return fmt.Errorf("start reallocator: %w", err)
	}
	var memoryEmbedder memory.Embedder
	var cognitionEmbedder cognition.Embedder
	if embedder != nil {
		memoryEmbedder = embedder
		cognitionEmbedder = embedder
	}

	var consolidation *memory.ConsolidationWorker
	if gateProvider != "" {
		consolidation = memory.NewConsolidationWorker(episodic, semantic, router, memoryEmbedder, gateProvider)
		if _, err := consolidation.Start(backgroundCron, cfg.ConsolidationPeriod.Duration()); err != nil {
			return fmt.Errorf("start consolidation worker: %w", err)
		}
	}
	replay := memory.NewReplayWorker(episodic, cfg.ReplaySalienceFloor, replayScanChannelCapacity)
	if _, err := backgroundCron.AddFunc(fmt.Sprintf("@every %s", cfg.ConsolidationPeriod.Duration()), func() {
		if err := replay.Scan(context.Background()); err != nil {
			log.Warn("replay scan failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("start replay worker: %w", err)
	}
	backgroundCron.Start()
	defer backgroundCron.Stop()

	var pipeline *cognition.Pipeline
	if gateProvider != "" {
		routingGate := cognition.NewToolRoutingGate(gateProvider)
		selfContext := func() string {
			snap := affectActor.Snapshot()
			return fmt.Sprintf("energy=%.2f valence=%.2f arousal=%.2f", snap.Energy, snap.Valence, snap.Arousal)
		}
		pipeline = cognition.New(ring, semantic, cognitionEmbedder, routingGate, router, gateProvider, registry, cfg.ToolCallCapPerTick, selfContext)
	} else {
		log.Warn("no LLM provider configured, running with placeholder responses")
	}

	if err := guardian.Boot(ctx, []bootguardian.Phase{
		{Name: types.PhaseCoreInit, Run: func(context.Context) error { return nil }},
		{Name: types.PhaseCapabilityLoad, Run: func(context.Context) error {
			if registry == nil {
				return fmt.Errorf("capability registry not initialized")
			}
			return nil
		}},
		{Name: types.PhaseEnvironmentSense, Run: func(context.Context) error {
			_, err := resource.Classify(sampler)
			return err
		}},
		{Name: types.PhaseReady, Run: func(context.Context) error { return nil }},
	}); err != nil {
		log.Warn("boot sequence failed, continuing in degraded mode", zap.Error(err))
	}

	sink := newOutputSink()

	sched := scheduler.New(scheduler.Deps{
		Config:      cfg,
		Store:       st,
		Gate:        gate,
		Pipeline:    pipeline,
		Ring:        ring,
		Episodic:    episodic,
		Affect:      affectActor,
		Guardian:    guardian,
		Registry:    registry,
		Reallocator: reallocator,
		Admission:   admission,
		Tokens:      tokens,
		Sink:        sink,
	})

	go func() {
		for thought := range replay.Thoughts() {
			sched.SubmitInternal(thought.Content)
		}
	}()

	go sched.Run(ctx)

	program := newProgram(sched, sink)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run interface: %w", err)
	}

	stop()
	<-time.After(50 * time.Millisecond) // let the scheduler's shutdown path settle
	return nil
}
