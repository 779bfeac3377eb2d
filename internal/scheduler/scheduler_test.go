package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/affect"
	"iris/internal/cognition"
	"iris/internal/config"
	"iris/internal/memory"
	"iris/internal/resource"
	"iris/internal/sensorygate"
	"iris/internal/store"
	"iris/internal/types"
)

type fakeLLM struct{ reply string }

func (f *fakeLLM) Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	return types.CompletionResult{Text: f.reply}, nil
}

func (f *fakeLLM) CompleteLite(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	return types.CompletionResult{Text: `{"use_tool":false,"tool_name":null,"input":null,"confidence":0.1}`}, nil
}

type fakeSink struct{ sent []string }

func (f *fakeSink) Send(text string) { f.sent = append(f.sent, text) }

type fakeSampler struct{ ram, storage float64 }

func (f fakeSampler) Sample() (float64, float64, error) { return f.ram, f.storage, nil }

func testConfig() affect.Config {
	return affect.Config{
		EnergyLLMCost:       0.03,
		EnergyIdleGain:      0.02,
		ValenceConfirmGain:  0.10,
		ValenceErrorLoss:    0.15,
		ArousalCriticalGain: 0.30,
		ArousalDecay:        0.95,
	}
}

func newTestScheduler(t *testing.T, reply string) (*Scheduler, *fakeSink) {
	t.Helper()

	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gate, err := sensorygate.New()
	require.NoError(t, err)

	ring := memory.New(32, 8, time.Minute)
	episodic := memory.NewEpisodicStore(st)
	act := affect.New(testConfig())

	realloc := resource.NewReallocator(fakeSampler{ram: 10, storage: 10}, 1<<30)
	admission := resource.NewAdmissionGate(realloc)
	tokens := resource.NewTokenBudget(time.Minute, 10000)

	var pipeline *cognition.Pipeline
	if reply != "" {
		routingGate := cognition.NewToolRoutingGate("test")
		pipeline = cognition.New(ring, nil, nil, routingGate, &fakeLLM{reply: reply}, "test", nil, 4, nil)
	}

	sink := &fakeSink{}
	cfg := config.Default()

	sched := New(Deps{
		Config:      cfg,
		Store:       st,
		Gate:        gate,
		Pipeline:    pipeline,
		Ring:        ring,
		Episodic:    episodic,
		Affect:      act,
		Reallocator: realloc,
		Admission:   admission,
		Tokens:      tokens,
		Sink:        sink,
	})
	sched.rootCtx = context.Background()
	sched.dialogueCtx, sched.dialogueCancel = context.WithCancel(sched.rootCtx)
	return sched, sink
}

func TestScheduler_ExternalUtterance_ProducesResponseAndUpdatesMemory(t *testing.T) {
	sched, sink := newTestScheduler(t, "hello there")
	sched.SubmitExternal("what is the weather like today")
	sched.tick(context.Background())

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "hello there", sink.sent[0])
	assert.NotEmpty(t, sched.ring.Recent(1))
}

func TestScheduler_NoPipelineConfigured_SendsPlaceholder(t *testing.T) {
	sched, sink := newTestScheduler(t, "")
	sched.SubmitExternal("hello")
	sched.tick(context.Background())

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "[no LLM configured]", sink.sent[0])
}

func TestScheduler_LLMCallAppliesEnergyCost(t *testing.T) {
	sched, _ := newTestScheduler(t, "ok")
	before := sched.affect.Snapshot().Energy

	sched.SubmitExternal("tell me something interesting")
	sched.tick(context.Background())

	after := sched.affect.Snapshot().Energy
	assert.Less(t, after, before)
}

func TestScheduler_MultipleExternalEventsEachGetAResponse(t *testing.T) {
	sched, sink := newTestScheduler(t, "reply")
	sched.SubmitExternal("first question")
	sched.SubmitExternal("second question")
	sched.tick(context.Background())

	assert.Len(t, sink.sent, 2)
}

func TestScheduler_LLMCallCapDefersOverflowToNextTick(t *testing.T) {
	sched, sink := newTestScheduler(t, "reply")
	sched.tickCaps.MaxLLMCalls = 1

	sched.SubmitExternal("first question")
	sched.SubmitExternal("second question")
	sched.tick(context.Background())

	require.Len(t, sink.sent, 2) // one reply, one cap-reached notice
	assert.Equal(t, "reply", sink.sent[0])
	assert.Equal(t, 1, sched.queue.Len()) // deferred event requeued as internal
}

func TestScheduler_SubmitSystem_DispatchedDirectlyNotQueued(t *testing.T) {
	sched, _ := newTestScheduler(t, "reply")
	sched.SubmitSystem("resource pressure critical")
	sched.tick(context.Background())

	assert.Equal(t, 0, sched.queue.Len())
}

func TestScheduler_ModeTransitionsToIdleOnQuietTick(t *testing.T) {
	sched, _ := newTestScheduler(t, "reply")
	sched.tick(context.Background())
	assert.Equal(t, types.ModeIdle, sched.mode.current)
}

func TestScheduler_ModeStaysNormalOnExternalEvent(t *testing.T) {
	sched, _ := newTestScheduler(t, "reply")
	sched.SubmitExternal("hi")
	sched.tick(context.Background())
	assert.Equal(t, types.ModeNormal, sched.mode.current)
}
