// Package scheduler owns the unified tick loop (spec §4.1): the
// Normal/Idle/Rest mode machine, the bounded event queue, and the eight
// ordered phases that turn a tick's queued sensory events into gated
// routing decisions, cognition pipeline runs, self-critic bookkeeping, and
// memory writes.
package scheduler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"iris/internal/affect"
	"iris/internal/bootguardian"
	"iris/internal/capability"
	"iris/internal/cognition"
	"iris/internal/config"
	"iris/internal/logging"
	"iris/internal/memory"
	"iris/internal/resource"
	"iris/internal/sensorygate"
	"iris/internal/store"
	"iris/internal/thalamic"
	"iris/internal/types"
)

// eventQueueCapacity is the bounded queue's fixed size (spec §5's
// back-pressure table).
const eventQueueCapacity = 256

// minAdmissionEstimateBytes floors a dialogue turn's resource-class
// reservation so very short utterances still draw a realistic slice of
// budget rather than effectively bypassing admission control.
const minAdmissionEstimateBytes = 64 * 1024

// dialogueTokenEstimate is the per-turn token reservation checked against
// the sliding-window LLM budget before a pipeline run, since
// types.CompletionResult carries no provider-reported token count to
// measure the true cost against.
const dialogueTokenEstimate = 600

// dialogueActiveWindow is how long after the last external utterance the
// mode machine still considers a dialogue "active" for Rest-mode gating
// (spec §4.1: "Normal/Idle → Rest only when ... no active dialogue").
const dialogueActiveWindow = 2 * time.Minute

// narrativeSignificanceFloor is the salience score above which a gated
// event is also recorded as an episode and a narrative event (spec §4.1
// phase 8, §4.6).
const narrativeSignificanceFloor = 0.6

// recentContentsWindow bounds how many recent event contents feed the
// sensory gate's novelty and task-relevance scoring.
const recentContentsWindow = 20

// OutputSink is where the scheduler writes dialogue responses and status
// notices. Implemented by the terminal UI.
type OutputSink interface {
	Send(text string)
}

// Deps bundles every subsystem the scheduler wires into its eight phases.
// Pipeline is nil when no LLM provider is configured; the
// scheduler then answers every dialogue turn with a fixed placeholder
// instead of failing the tick.
type Deps struct {
	Config      config.Config
	Store       *store.Store
	Gate        *sensorygate.Gate
	Pipeline    *cognition.Pipeline
	Ring        *memory.Ring
	Episodic    *memory.EpisodicStore
	Affect      *affect.Actor
	Guardian    *bootguardian.Guardian
	Registry    *capability.Registry
	Reallocator *resource.Reallocator
	Admission   *resource.AdmissionGate
	Tokens      *resource.TokenBudget
	Sink        OutputSink
}

// Scheduler runs the tick loop described in spec §4.1. Exactly one
// goroutine (Run's caller) ever drives a tick; every other interaction
// (SubmitExternal, SubmitInternal, SubmitSystem) only reaches the
// mutex-guarded event queue, never scheduler state directly.
type Scheduler struct {
	cfg config.Config
	log *zap.Logger

	queue *eventQueue
	mode  *modeMachine

	gate     *sensorygate.Gate
	router   *thalamic.Router
	pipeline *cognition.Pipeline
	ring     *memory.Ring
	episodic *memory.EpisodicStore
	affect   *affect.Actor
	guardian *bootguardian.Guardian
	registry *capability.Registry
	st       *store.Store

	reallocator *resource.Reallocator
	admission   *resource.AdmissionGate
	tokens      *resource.TokenBudget
	tickCaps    resource.TickCaps

	sink OutputSink

	recentContents []string
	lastExternalAt time.Time

	rootCtx        context.Context
	dialogueCtx    context.Context
	dialogueCancel context.CancelFunc
}

// New builds a Scheduler from d. It does not start the tick loop; call Run.
func New(d Deps) *Scheduler {
	s := &Scheduler{
		cfg:         d.Config,
		log:         logging.Logger(logging.CategoryScheduler),
		queue:       newEventQueue(eventQueueCapacity),
		mode:        newModeMachine(int64(d.Config.TickNormal), int64(d.Config.TickIdle), int64(d.Config.TickRest)),
		gate:        d.Gate,
		pipeline:    d.Pipeline,
		ring:        d.Ring,
		episodic:    d.Episodic,
		affect:      d.Affect,
		guardian:    d.Guardian,
		registry:    d.Registry,
		st:          d.Store,
		reallocator: d.Reallocator,
		admission:   d.Admission,
		tokens:      d.Tokens,
		tickCaps:    resource.TickCaps{MaxLLMCalls: d.Config.MaxLLMCallsPerTick, MaxToolCalls: d.Config.ToolCallCapPerTick},
		sink:        d.Sink,
	}
	s.router = thalamic.New(s.handleSystemEvent)
	return s
}

// SubmitExternal enqueues a user utterance.
func (s *Scheduler) SubmitExternal(content string) {
	s.queue.Push(newEvent(types.SourceExternal, content))
}

// SubmitInternal enqueues a self-generated signal (e.g. a replay worker's
// spontaneous thought).
func (s *Scheduler) SubmitInternal(content string) {
	s.queue.Push(newEvent(types.SourceInternal, content))
}

// SubmitSystem enqueues a system event (capability lifecycle transition,
// resource pressure change, boot guardian notice).
func (s *Scheduler) SubmitSystem(content string) {
	s.queue.Push(newEvent(types.SourceSystem, content))
}

func newEvent(source types.EventSource, content string) types.SensoryEvent {
	return types.SensoryEvent{
		Source:      source,
		Content:     content,
		UtteranceID: [16]byte(uuid.New()),
		Timestamp:   time.Now().UnixNano(),
	}
}

// Run drives the tick loop until ctx is cancelled, then shuts down: it
// cancels in-flight dialogue, closes the capability registry, and logs
// whether that finished within ShutdownBudget. It does not wait for other
// background tasks to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.rootCtx = ctx
	s.dialogueCtx, s.dialogueCancel = context.WithCancel(ctx)

	for {
		interval := time.Duration(s.mode.IntervalMS()) * time.Millisecond
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.shutdown()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) shutdown() {
	deadline := time.Now().Add(s.cfg.ShutdownBudget.Duration())
	if s.dialogueCancel != nil {
		s.dialogueCancel()
	}
	if s.registry != nil {
		if err := s.registry.Close(); err != nil {
			s.log.Warn("failed to close capability registry", zap.Error(err))
		}
	}
	if remaining := time.Until(deadline); remaining > 0 {
		s.log.Debug("shutdown completed within budget", zap.Duration("remaining", remaining))
	} else {
		s.log.Warn("shutdown exceeded budget", zap.Duration("over", -remaining))
	}
}

// tick runs the eight ordered phases for one cycle.
func (s *Scheduler) tick(ctx context.Context) {
	// Phase 1: drain inputs, bump context version on every new external
	// utterance so a still-running inference for a stale turn is cancelled.
	events := s.queue.DrainAll()

	hadExternal, hadInternal := false, false
	for _, ev := range events {
		switch ev.Source {
		case types.SourceExternal:
			hadExternal = true
			s.lastExternalAt = time.Now()
			s.bumpDialogueContext()
		case types.SourceInternal:
			hadInternal = true
		}
	}

	activeDialogue := time.Since(s.lastExternalAt) < dialogueActiveWindow
	s.mode.Advance(tickInput{
		hadExternalEvent:   hadExternal,
		hadPendingInternal: hadInternal,
		energy:             s.affect.Snapshot().Energy,
		activeDialogue:     activeDialogue,
	})

	// Phase 2: sensory gating.
	gated := s.gateEvents(events)

	// Phase 3: thalamic routing (system events are dispatched inside Route
	// via the onSystem handler; this returns dialogue+internal, ordered).
	routed := s.router.Route(gated)

	// Phases 4-6: unified response pipeline, one run per routed event,
	// respecting the per-tick LLM-call cap; toolCalls is counted but not
	// checked against a cap.
	llmCalls, toolCalls := 0, 0
	for _, g := range routed {
		if !s.tickCaps.AllowLLMCall(llmCalls) {
			s.sink.Send("[tick LLM call cap reached, deferring to next tick]")
			s.SubmitInternal(g.Event.Content)
			continue
		}

		outcome := s.runDialogue(ctx, g, &llmCalls, &toolCalls)
		if outcome.ResponseText != "" && g.Event.Source == types.SourceExternal {
			s.sink.Send(outcome.ResponseText)
		}

		// Phase 7: self-critic.
		s.recordSelfCritic(outcome)

		// Phase 8: memory write.
		s.writeMemory(g, outcome)
	}

	if s.registry != nil {
		for _, id := range s.registry.HealthCheck(ctx) {
			s.affect.ApplyCapabilityConfirmed()
			s.log.Info("capability confirmed", zap.String("id", id))
		}
	}

	if len(routed) == 0 && s.mode.current == types.ModeIdle {
		s.affect.ApplyIdleTick()
	}

	critical := s.reallocator != nil && s.reallocator.Level() == types.PressureCritical
	if critical {
		s.affect.ApplyCriticalPressure()
	}
	s.affect.DecayTick()

	if s.guardian != nil {
		if critical {
			s.guardian.ObserveUnhealthyTick()
		} else {
			s.guardian.ObserveHealthyTick()
		}
	}
}

// bumpDialogueContext cancels the previous dialogue-scoped context (aborting
// any inference still in flight for a stale utterance) and arms a new one.
func (s *Scheduler) bumpDialogueContext() {
	if s.dialogueCancel != nil {
		s.dialogueCancel()
	}
	s.dialogueCtx, s.dialogueCancel = context.WithCancel(s.rootCtx)
}

func (s *Scheduler) gateEvents(events []types.SensoryEvent) []thalamic.Gated {
	var out []thalamic.Gated
	for _, ev := range events {
		res, err := s.gate.Score(ev, s.recentContents, s.recentContents, s.cfg.NoiseFloor)
		if err != nil {
			s.log.Warn("sensory gate scoring failed, dropping event", zap.Error(err))
			continue
		}
		if res.Dropped {
			continue
		}
		out = append(out, thalamic.Gated{Event: ev, Result: res})
	}
	return out
}

// handleSystemEvent is the thalamic router's direct dispatch target for
// system-sourced events (spec §4.3: "system events skip the queue
// entirely"). It never touches the cognition pipeline.
func (s *Scheduler) handleSystemEvent(ev types.SensoryEvent, res sensorygate.Result) {
	s.log.Info("system event", zap.String("content", ev.Content), zap.Float64("salience", res.Salience.Score))
	if res.Salience.UrgentBypass {
		s.sink.Send("[system] " + ev.Content)
	}
}

func (s *Scheduler) runDialogue(ctx context.Context, g thalamic.Gated, llmCalls, toolCalls *int) cognition.Outcome {
	if s.pipeline == nil {
		return cognition.Outcome{ResponseText: "[no LLM configured]"}
	}

	class := types.ClassInternalGrowth
	if g.Event.Source == types.SourceExternal {
		class = types.ClassExternalResponse
	}
	estBytes := int64(len(g.Event.Content)) * 64
	if estBytes < minAdmissionEstimateBytes {
		estBytes = minAdmissionEstimateBytes
	}
	if s.admission != nil {
		if err := s.admission.Admit(class, estBytes); err != nil {
			s.log.Warn("admission rejected dialogue turn", zap.Error(err))
			return cognition.Outcome{Err: err}
		}
		defer s.admission.Release(class, estBytes)
	}

	if s.tokens != nil && !s.tokens.Allow(dialogueTokenEstimate) && !g.Result.Salience.UrgentBypass {
		return cognition.Outcome{ResponseText: "[token budget exhausted for this minute, deferring]"}
	}

	dctx := ctx
	if g.Event.Source == types.SourceExternal {
		dctx = s.dialogueCtx
	}

	outcome := s.pipeline.Run(dctx, g.Event.Content)
	*llmCalls++
	s.affect.ApplyLLMCall()
	if s.tokens != nil {
		s.tokens.Record(dialogueTokenEstimate)
	}
	if outcome.InvokedTool != "" {
		*toolCalls++
	}
	if outcome.Err != nil {
		s.affect.ApplyError()
	}
	return outcome
}

// recordSelfCritic updates a capability's usage/success/fail counters when
// the outcome invoked one (spec §4.1 phase 7). Error outcomes reach the
// affect actor in runDialogue, not here.
func (s *Scheduler) recordSelfCritic(outcome cognition.Outcome) {
	if outcome.InvokedTool == "" || s.registry == nil || s.st == nil {
		return
	}
	id, ok := s.registry.IDForName(outcome.InvokedTool)
	if !ok {
		return
	}
	if err := s.st.RecordOutcome(id, outcome.Err == nil); err != nil {
		s.log.Warn("failed to record capability outcome", zap.Error(err))
	}
}

// writeMemory upserts working memory and, for sufficiently salient events,
// records an episode and a narrative event (spec §4.1 phase 8, §4.6).
func (s *Scheduler) writeMemory(g thalamic.Gated, outcome cognition.Outcome) {
	topicID := topicKey(g.Event.Content)
	s.ring.Upsert(entryKey(g.Event.Content), topicID, nil, g.Result.Salience.Score)
	s.pushRecentContent(g.Event.Content)

	if g.Result.Salience.Score < narrativeSignificanceFloor {
		return
	}
	if s.episodic != nil {
		if _, err := s.episodic.Record(topicID, g.Event.Content, nil, g.Result.Salience.Score); err != nil {
			s.log.Warn("failed to record episode", zap.Error(err))
		}
	}
	if s.st != nil {
		description := g.Event.Content
		if outcome.ResponseText != "" {
			description = g.Event.Content + " -> " + outcome.ResponseText
		}
		if err := s.st.RecordNarrativeEvent(uuid.NewString(), description, time.Now()); err != nil {
			s.log.Warn("failed to record narrative event", zap.Error(err))
		}
	}
}

func (s *Scheduler) pushRecentContent(content string) {
	s.recentContents = append(s.recentContents, content)
	if len(s.recentContents) > recentContentsWindow {
		s.recentContents = s.recentContents[len(s.recentContents)-recentContentsWindow:]
	}
}

// entryKey identifies one working-memory row: the full content hash.
// Byte-identical content refreshes the same row; anything else is a new one.
func entryKey(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// topicKey groups working-memory entries into a coarse topic bucket: its
// leading alphanumeric tokens, lowercased. Without a dedicated topic model
// upstream, this is the cheap stand-in for "about the same thing" — content
// sharing an opening lets the ring's maxTopics bound (spec §4.6) actually
// group entries instead of treating every distinct utterance as its own
// topic.
func topicKey(content string) string {
	tokens := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) > topicKeyTokens {
		tokens = tokens[:topicKeyTokens]
	}
	sum := sha1.Sum([]byte(strings.Join(tokens, " ")))
	return hex.EncodeToString(sum[:])
}

const topicKeyTokens = 3
