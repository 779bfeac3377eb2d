package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/store"
	"iris/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := New(st, "", time.Minute, 3)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

const passingSelfTest = `package main

func SelfTest() error {
	return nil
}
`

const failingSelfTest = `package main

import "errors"

func SelfTest() error {
	return errors.New("boom")
}
`

func stageTestManifest(t *testing.T, reg *Registry, binaryPath string) string {
	rec := types.CapabilityRecord{
		ID:    "cap-1",
		State: types.StateStaged,
		Manifest: types.CapabilityManifest{
			Name:       "probe",
			BinaryPath: binaryPath,
			Keywords:   []string{"probe"},
		},
	}
	reg.byID[rec.ID] = &record{CapabilityRecord: rec}
	require.NoError(t, reg.st.UpsertCapability(rec))
	return rec.ID
}

func TestRegistry_ClosesWatcherGoroutine(t *testing.T) {
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	reg, err := New(st, dir, time.Minute, 3)
	require.NoError(t, err)
	require.NotNil(t, reg.watcher)

	require.NoError(t, reg.Close())
}

func TestRegistry_SelfTestFail_Quarantines(t *testing.T) {
	reg := newTestRegistry(t)
	id := stageTestManifest(t, reg, "/bin/does-not-matter")

	err := reg.PromoteFromStaged(context.Background(), id, failingSelfTest)
	require.NoError(t, err)

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateQuarantined, rec.State)
	assert.Equal(t, 1, rec.QuarantineCount)
}

func TestRegistry_SelfTestPass_SpawnFailure_Quarantines(t *testing.T) {
	reg := newTestRegistry(t)
	// A binary path that does not exist makes Spawn fail even though the
	// self-test (run in-process via yaegi) passes.
	id := stageTestManifest(t, reg, "/nonexistent/capability-binary")

	err := reg.PromoteFromStaged(context.Background(), id, passingSelfTest)
	require.NoError(t, err)

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateQuarantined, rec.State)
}

func TestRegistry_PromoteFromStaged_UnknownID(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.PromoteFromStaged(context.Background(), "missing", passingSelfTest)
	assert.Error(t, err)
}

func TestRegistry_PromoteFromStaged_WrongState(t *testing.T) {
	reg := newTestRegistry(t)
	id := stageTestManifest(t, reg, "/bin/true")
	reg.byID[id].State = types.StateConfirmed

	err := reg.PromoteFromStaged(context.Background(), id, passingSelfTest)
	assert.Error(t, err)
}

func TestRegistry_ObserveHealthy_ConfirmsAfterThreshold(t *testing.T) {
	reg := newTestRegistry(t)
	reg.confirmAfterHealthy = 10 * time.Millisecond

	id := "cap-2"
	reg.byID[id] = &record{
		CapabilityRecord: types.CapabilityRecord{
			ID:       id,
			State:    types.StateActiveCandidate,
			Manifest: types.CapabilityManifest{Name: "probe"},
		},
		lastHealthyAt: time.Now().Add(-time.Second),
	}

	require.NoError(t, reg.ObserveHealthy(id))

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateConfirmed, rec.State)
	assert.Equal(t, id, rec.LKGVersion)
}

func TestRegistry_ObserveHealthy_NotYetLongEnough(t *testing.T) {
	reg := newTestRegistry(t)
	reg.confirmAfterHealthy = time.Hour

	id := "cap-3"
	reg.byID[id] = &record{
		CapabilityRecord: types.CapabilityRecord{
			ID:       id,
			State:    types.StateActiveCandidate,
			Manifest: types.CapabilityManifest{Name: "probe"},
		},
		lastHealthyAt: time.Now(),
	}

	require.NoError(t, reg.ObserveHealthy(id))

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateActiveCandidate, rec.State)
}

func TestRegistry_OnRegressionFailure_QuarantinesConfirmed(t *testing.T) {
	reg := newTestRegistry(t)
	id := "cap-4"
	reg.byID[id] = &record{
		CapabilityRecord: types.CapabilityRecord{
			ID:         id,
			State:      types.StateConfirmed,
			LKGVersion: id,
			Manifest:   types.CapabilityManifest{Name: "probe"},
		},
	}

	require.NoError(t, reg.OnRegressionFailure(id))

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateQuarantined, rec.State)
	assert.Equal(t, 1, rec.QuarantineCount)
}

func TestRegistry_MaybeRetireFromQuarantine_ThresholdGate(t *testing.T) {
	reg := newTestRegistry(t)
	id := "cap-5"
	reg.byID[id] = &record{
		CapabilityRecord: types.CapabilityRecord{
			ID:              id,
			State:           types.StateQuarantined,
			QuarantineCount: 2,
			Manifest:        types.CapabilityManifest{Name: "probe"},
		},
	}

	eligible, err := reg.MaybeRetireFromQuarantine(id)
	require.NoError(t, err)
	assert.False(t, eligible)

	reg.byID[id].QuarantineCount = 3
	eligible, err = reg.MaybeRetireFromQuarantine(id)
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestRegistry_Retire_RemovesFromToolRouting(t *testing.T) {
	reg := newTestRegistry(t)
	id := "cap-6"
	reg.byID[id] = &record{
		CapabilityRecord: types.CapabilityRecord{
			ID:       id,
			State:    types.StateConfirmed,
			Manifest: types.CapabilityManifest{Name: "probe"},
		},
	}
	reg.byName["probe"] = id

	require.NoError(t, reg.Retire(id))

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateRetired, rec.State)
	_, stillRouted := reg.byName["probe"]
	assert.False(t, stillRouted)
}

func TestRegistry_Tools_OnlyListsRoutableStates(t *testing.T) {
	reg := newTestRegistry(t)
	reg.byID["a"] = &record{CapabilityRecord: types.CapabilityRecord{ID: "a", State: types.StateConfirmed, Manifest: types.CapabilityManifest{Name: "a"}}}
	reg.byID["b"] = &record{CapabilityRecord: types.CapabilityRecord{ID: "b", State: types.StateStaged, Manifest: types.CapabilityManifest{Name: "b"}}}
	reg.byID["c"] = &record{CapabilityRecord: types.CapabilityRecord{ID: "c", State: types.StateActiveCandidate, Manifest: types.CapabilityManifest{Name: "c"}}}

	names := make([]string, 0)
	for _, def := range reg.Tools() {
		names = append(names, def.Name)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, names)
}

func TestRegistry_Invoke_UnknownToolErrors(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Invoke(context.Background(), "nope", nil)
	assert.Error(t, err)
}
