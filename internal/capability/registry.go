package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"iris/internal/logging"
	"iris/internal/store"
	"iris/internal/types"
)

// record is the registry's live view of one capability: its persisted
// state plus (when spawned) its supervisor.
type record struct {
	types.CapabilityRecord
	supervisor    *Supervisor
	lastHealthyAt time.Time
	quarantinedAt time.Time
}

// Registry owns every capability's lifecycle transition, per the state
// table in spec §4.4: only one `confirmed` record per name; promotion to
// confirmed atomically updates LKG.
type Registry struct {
	st                  *store.Store
	selftest            *SelfTestRunner
	confirmAfterHealthy time.Duration
	quarantineRetireAt  int

	mu      sync.Mutex
	byID    map[string]*record
	byName  map[string]string // name -> id of the current confirmed/active record
	watcher *fsnotify.Watcher
}

// New loads every persisted capability and starts a watcher over
// stagingDir for "artifact landed" events (spec §4.4: "codegen artifact
// landed → staged").
func New(st *store.Store, stagingDir string, confirmAfterHealthy time.Duration, quarantineRetireAt int) (*Registry, error) {
	r := &Registry{
		st:                  st,
		selftest:            NewSelfTestRunner(),
		confirmAfterHealthy: confirmAfterHealthy,
		quarantineRetireAt:  quarantineRetireAt,
		byID:                make(map[string]*record),
		byName:              make(map[string]string),
	}

	existing, err := st.ListCapabilities()
	if err != nil {
		return nil, err
	}
	for _, rec := range existing {
		r.byID[rec.ID] = &record{CapabilityRecord: rec}
		if rec.State == types.StateConfirmed || rec.State == types.StateActiveCandidate {
			r.byName[rec.Manifest.Name] = rec.ID
		}
	}

	if stagingDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, types.Tag(types.KindFatal, "capability.New", err)
		}
		if err := w.Add(stagingDir); err != nil {
			return nil, types.Tag(types.KindFatal, "capability.New", err)
		}
		r.watcher = w
		go r.watchStaging()
	}

	return r, nil
}

func (r *Registry) watchStaging() {
	log := logging.Logger(logging.CategoryCapability)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(ev.Name, ".yaml") {
				continue
			}
			if err := r.OnArtifactLanded(ev.Name); err != nil {
				log.Warn("failed to stage landed artifact", zap.String("path", ev.Name), zap.Error(err))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("staging directory watch error", zap.Error(err))
		}
	}
}

// Close stops the staging directory watcher.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

// OnArtifactLanded records a new manifest as staged (spec §4.4's first
// row: "— → codegen artifact landed → staged → record manifest").
func (r *Registry) OnArtifactLanded(manifestPath string) error {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	rec := types.CapabilityRecord{
		ID:       uuid.NewString(),
		Manifest: manifest,
		State:    types.StateStaged,
	}
	if err := r.st.UpsertCapability(rec); err != nil {
		return err
	}

	r.mu.Lock()
	r.byID[rec.ID] = &record{CapabilityRecord: rec}
	r.mu.Unlock()
	return nil
}

// PromoteFromStaged runs the self-test script; on pass it spawns the child
// and transitions to active_candidate, on fail it quarantines (spec §4.4
// rows 2 and 3).
func (r *Registry) PromoteFromStaged(ctx context.Context, id, selfTestScript string) error {
	r.mu.Lock()
	rec, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return types.Tag(types.KindValidation, "capability.PromoteFromStaged", fmt.Errorf("unknown capability %s", id))
	}
	if rec.State != types.StateStaged {
		return types.Tag(types.KindValidation, "capability.PromoteFromStaged", fmt.Errorf("capability %s is not staged (state=%s)", id, rec.State))
	}

	if err := r.selftest.Run(ctx, selfTestScript); err != nil {
		return r.transitionTo(id, types.StateQuarantined, func(rec *record) {
			rec.QuarantineCount++
			rec.quarantinedAt = time.Now()
		})
	}

	sup := NewSupervisor(rec.Manifest)
	if err := sup.Spawn(ctx); err != nil {
		return r.transitionTo(id, types.StateQuarantined, func(rec *record) {
			rec.QuarantineCount++
			rec.quarantinedAt = time.Now()
		})
	}

	return r.transitionTo(id, types.StateActiveCandidate, func(rec *record) {
		rec.supervisor = sup
		rec.lastHealthyAt = time.Now()
		r.mu.Lock()
		r.byName[rec.Manifest.Name] = id
		r.mu.Unlock()
	})
}

// ObserveHealthy is called by the health monitor each time it finds an
// active_candidate's process alive; after confirmAfterHealthy continuous
// healthy time it confirms the capability and atomically updates LKG
// (spec §4.4 row 4).
func (r *Registry) ObserveHealthy(id string) error {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok || rec.State != types.StateActiveCandidate {
		r.mu.Unlock()
		return nil
	}
	healthyFor := time.Since(rec.lastHealthyAt)
	r.mu.Unlock()

	if healthyFor < r.confirmAfterHealthy {
		return nil
	}
	return r.transitionTo(id, types.StateConfirmed, func(rec *record) {
		rec.LKGVersion = rec.ID
	})
}

// OnCrash handles an unexpected exit: one restart is attempted; a second
// consecutive failure quarantines and rolls back to LKG (spec §4.4 row 5;
// row 6 for a confirmed capability's regression failure is the same
// transition, driven by OnRegressionFailure instead).
func (r *Registry) OnCrash(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.byID[id]
	r.mu.Unlock()
	if !ok || rec.supervisor == nil {
		return nil
	}

	if err := rec.supervisor.Restart(ctx); err == nil {
		r.mu.Lock()
		rec.lastHealthyAt = time.Now()
		r.mu.Unlock()
		return nil
	}

	return r.transitionTo(id, types.StateQuarantined, func(rec *record) {
		rec.QuarantineCount++
		rec.quarantinedAt = time.Now()
		rollBackToLKG(rec)
	})
}

// OnRegressionFailure quarantines a confirmed capability and rolls back to
// its prior LKG (spec §4.4 row 6).
func (r *Registry) OnRegressionFailure(id string) error {
	return r.transitionTo(id, types.StateQuarantined, func(rec *record) {
		rec.QuarantineCount++
		rec.quarantinedAt = time.Now()
		rollBackToLKG(rec)
	})
}

func rollBackToLKG(rec *record) {
	// The record's own LKGVersion already names the last confirmed
	// version; rolling back means the next promotion cycle must target
	// that version again rather than advancing, so nothing else to
	// mutate here beyond leaving LKGVersion untouched.
}

// Repair re-enters the pipeline from quarantined (spec §4.4 row 7).
func (r *Registry) Repair(newManifestPath string) error {
	manifest, err := LoadManifest(newManifestPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	id, ok := r.byName[manifest.Name]
	r.mu.Unlock()
	if !ok {
		return r.OnArtifactLanded(newManifestPath)
	}
	return r.transitionTo(id, types.StateStaged, func(rec *record) {
		rec.Manifest = manifest
	})
}

// MaybeRetireFromQuarantine reports whether a quarantined capability's
// quarantine count has reached the configured retirement threshold. It
// does not change the record's state: retirement still needs an explicit
// user confirmation (spec §4.4 row 8: "retired (needs user confirm)"), and
// archiving the binary and notifying the user are the scheduler's job.
func (r *Registry) MaybeRetireFromQuarantine(id string) (eligible bool, err error) {
	r.mu.Lock()
	rec, ok := r.byID[id]
	r.mu.Unlock()
	if !ok || rec.State != types.StateQuarantined {
		return false, nil
	}
	if rec.QuarantineCount < r.quarantineRetireAt {
		return false, nil
	}
	return true, nil
}

// Retire explicitly retires a capability, either after user confirmation
// of quarantine-count retirement eligibility or an explicit user retire of
// a confirmed capability (spec §4.4 row 9).
func (r *Registry) Retire(id string) error {
	return r.transitionTo(id, types.StateRetired, func(rec *record) {
		if rec.supervisor != nil {
			rec.supervisor.Stop(5 * time.Second)
		}
		r.mu.Lock()
		if r.byName[rec.Manifest.Name] == id {
			delete(r.byName, rec.Manifest.Name)
		}
		r.mu.Unlock()
	})
}

func (r *Registry) transitionTo(id string, next types.CapabilityState, mutate func(*record)) error {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return types.Tag(types.KindValidation, "capability.transitionTo", fmt.Errorf("unknown capability %s", id))
	}
	rec.State = next
	if mutate != nil {
		mutate(rec)
	}
	snapshot := rec.CapabilityRecord
	r.mu.Unlock()

	return r.st.UpsertCapability(snapshot)
}

// HealthCheck scans every active_candidate capability, confirming ones that
// have stayed healthy long enough and restarting/quarantining ones whose
// process has exited (spec §4.4 rows 4 and 5). It returns the IDs that
// transitioned to confirmed during this call, so callers can react (e.g.
// the affect actor's confirmation gain) without polling every record.
func (r *Registry) HealthCheck(ctx context.Context) []string {
	r.mu.Lock()
	var candidates []string
	for id, rec := range r.byID {
		if rec.State == types.StateActiveCandidate {
			candidates = append(candidates, id)
		}
	}
	r.mu.Unlock()

	log := logging.Logger(logging.CategoryCapability)
	var confirmed []string
	for _, id := range candidates {
		r.mu.Lock()
		rec := r.byID[id]
		healthy := rec != nil && rec.supervisor != nil && rec.supervisor.Healthy()
		r.mu.Unlock()

		if !healthy {
			if err := r.OnCrash(ctx, id); err != nil {
				log.Warn("failed to handle capability crash", zap.String("id", id), zap.Error(err))
			}
			continue
		}
		if err := r.ObserveHealthy(id); err != nil {
			log.Warn("failed to observe capability health", zap.String("id", id), zap.Error(err))
			continue
		}
		if rec, ok := r.Get(id); ok && rec.State == types.StateConfirmed {
			confirmed = append(confirmed, id)
		}
	}
	return confirmed
}

// IDForName resolves the id of the currently active_candidate or confirmed
// capability registered under name, for callers (the scheduler's
// self-critic phase) that only have the tool name a pipeline run invoked.
func (r *Registry) IDForName(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Get returns the current record for id.
func (r *Registry) Get(id string) (types.CapabilityRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return types.CapabilityRecord{}, false
	}
	return rec.CapabilityRecord, true
}

// Tools lists one types.ToolDefinition per capability currently eligible
// for invocation (active_candidate or confirmed), satisfying
// internal/cognition's ToolInvoker.Tools contract.
func (r *Registry) Tools() []types.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ToolDefinition
	for _, rec := range r.byID {
		if rec.State != types.StateActiveCandidate && rec.State != types.StateConfirmed {
			continue
		}
		out = append(out, types.ToolDefinition{
			Name:        rec.Manifest.Name,
			Description: strings.Join(rec.Manifest.Keywords, ", "),
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return out
}

// Invoke runs one tool call against a capability by name over its IPC
// channel, checking the manifest permission boundary on the response's
// declared side effects (spec §4.4: "side effects declared in the
// response must be a subset of the permissions in the manifest;
// violations quarantine the capability").
func (r *Registry) Invoke(ctx context.Context, toolName string, input map[string]any) (string, error) {
	r.mu.Lock()
	id, ok := r.byName[toolName]
	var sup *Supervisor
	var manifest types.CapabilityManifest
	if ok {
		rec := r.byID[id]
		sup = rec.supervisor
		manifest = rec.Manifest
	}
	r.mu.Unlock()
	if !ok || sup == nil {
		return "", types.Tag(types.KindValidation, "capability.Invoke", fmt.Errorf("no active capability named %s", toolName))
	}

	params, err := json.Marshal(input)
	if err != nil {
		return "", types.Tag(types.KindValidation, "capability.Invoke", err)
	}

	resp, err := sup.Call(ctx, "invoke", params, uuid.NewString())
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", types.Tag(types.KindCapabilityFault, "capability.Invoke", errors.New(resp.Error))
	}

	for _, effect := range resp.SideEffects {
		if !manifest.HasPermission(effect) {
			_ = r.transitionTo(id, types.StateQuarantined, func(rec *record) {
				rec.QuarantineCount++
				rec.quarantinedAt = time.Now()
			})
			return "", types.Tag(types.KindCapabilityFault, "capability.Invoke", fmt.Errorf("capability %s declared undeclared side effect %s", toolName, effect))
		}
	}

	return string(resp.Result), nil
}

