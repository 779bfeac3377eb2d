// Package store is the persistence layer the core calls through (spec §1
// treats storage schema as an opaque external collaborator; this package
// is the concrete implementation that satisfies it). It follows the
// teacher's internal/store pattern (internal/store/local_core.go): a
// single *sql.DB behind a mutex, WAL journal mode, and one method set per
// table.
//
// spec.md names DATABASE_URL as a PostgreSQL DSN. No Postgres driver is
// present anywhere in the reference corpus; the teacher's own persistence
// is SQLite (mattn/go-sqlite3 + asg017/sqlite-vec-go-bindings). Storage
// schema is explicitly out of scope and opaque to the core (spec §1), so
// this package maps DATABASE_URL onto a SQLite file path (or ":memory:"
// for ephemeral mode when unset) rather than fabricating a Postgres
// driver dependency the corpus never demonstrates. See DESIGN.md.
package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"iris/internal/logging"
	"iris/internal/types"
)

// Store wraps the SQLite connection backing every persisted table in spec §6.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	ephemeral bool
}

// Open opens (and migrates) the store at dsn. An empty dsn runs in
// ephemeral, in-process mode: nothing survives process exit (spec §6,
// "if absent the system runs in ephemeral mode").
func Open(dsn string) (*Store, error) {
	log := logging.Logger(logging.CategoryStore)
	ephemeral := dsn == ""
	path := dsn
	if ephemeral {
		path = "file::memory:?cache=shared"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, types.Tag(types.KindFatal, "store.Open", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.Tag(types.KindFatal, "store.Open", err)
	}
	if ephemeral {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Sugar().Warnf("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &Store{db: db, ephemeral: ephemeral}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	log.Sugar().Infow("store opened", "ephemeral", ephemeral)
	return s, nil
}

// Ephemeral reports whether this store discards data on close (spec §6).
func (s *Store) Ephemeral() bool { return s.ephemeral }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS config_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS llm_provider_config (
			name TEXT PRIMARY KEY,
			api_key TEXT,
			base_url TEXT,
			model TEXT,
			priority INTEGER,
			active INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS capability (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			manifest TEXT NOT NULL,
			state TEXT NOT NULL,
			lkg_version TEXT,
			quarantine_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS capability_score (
			capability_id TEXT PRIMARY KEY,
			usage_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			fail_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS episode (
			id TEXT PRIMARY KEY,
			topic_id TEXT,
			content TEXT,
			embedding BLOB,
			salience REAL,
			consolidated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge (
			id TEXT PRIMARY KEY,
			summary TEXT,
			embedding BLOB,
			source_episode_ids TEXT,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS iris_identity (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS self_model (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS narrative_event (
			id TEXT PRIMARY KEY,
			description TEXT,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS codegen_history (
			id TEXT PRIMARY KEY,
			capability_name TEXT,
			outcome TEXT,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS approved_crate (
			name TEXT PRIMARY KEY,
			version TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS user_preference (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS boot_health_record (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phase TEXT,
			success INTEGER,
			duration_ms INTEGER,
			at INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return types.Tag(types.KindFatal, "store.migrate", err)
		}
	}
	return nil
}

// --- config_kv ---

// GetConfig fetches one keyed parameter. ok is false when absent.
func (s *Store) GetConfig(key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT value FROM config_kv WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, types.Tag(types.KindTransient, "store.GetConfig", err)
	}
	return value, true, nil
}

// SetConfigIfAbsent writes the default for key only if it is not already
// present, matching spec §3's "every parameter has a default and is
// materialized into the table on first boot if missing".
func (s *Store) SetConfigIfAbsent(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO config_kv(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO NOTHING`, key, value)
	return types.Tag(types.KindTransient, "store.SetConfigIfAbsent", err)
}

// --- llm_provider_config ---

func (s *Store) ListLLMProviders() ([]types.LLMProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT name, api_key, base_url, model, priority, active FROM llm_provider_config`)
	if err != nil {
		return nil, types.Tag(types.KindTransient, "store.ListLLMProviders", err)
	}
	defer rows.Close()
	var out []types.LLMProviderConfig
	for rows.Next() {
		var p types.LLMProviderConfig
		var active int
		if err := rows.Scan(&p.Name, &p.APIKey, &p.BaseURL, &p.Model, &p.Priority, &active); err != nil {
			return nil, types.Tag(types.KindTransient, "store.ListLLMProviders", err)
		}
		p.Active = active != 0
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpsertLLMProvider(p types.LLMProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	if p.Active {
		active = 1
	}
	_, err := s.db.Exec(`INSERT INTO llm_provider_config(name, api_key, base_url, model, priority, active)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET api_key=excluded.api_key, base_url=excluded.base_url,
			model=excluded.model, priority=excluded.priority, active=excluded.active`,
		p.Name, p.APIKey, p.BaseURL, p.Model, p.Priority, active)
	return types.Tag(types.KindTransient, "store.UpsertLLMProvider", err)
}

// --- capability ---

func (s *Store) UpsertCapability(rec types.CapabilityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	manifestJSON, err := json.Marshal(rec.Manifest)
	if err != nil {
		return types.Tag(types.KindValidation, "store.UpsertCapability", err)
	}
	_, err = s.db.Exec(`INSERT INTO capability(id, name, manifest, state, lkg_version, quarantine_count)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET manifest=excluded.manifest, state=excluded.state,
			lkg_version=excluded.lkg_version, quarantine_count=excluded.quarantine_count`,
		rec.ID, rec.Manifest.Name, string(manifestJSON), rec.State.String(), rec.LKGVersion, rec.QuarantineCount)
	return types.Tag(types.KindTransient, "store.UpsertCapability", err)
}

func (s *Store) GetCapability(id string) (types.CapabilityRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT id, manifest, state, lkg_version, quarantine_count FROM capability WHERE id=?`, id)
	var rec types.CapabilityRecord
	var manifestJSON, state string
	if err := row.Scan(&rec.ID, &manifestJSON, &state, &rec.LKGVersion, &rec.QuarantineCount); err != nil {
		if err == sql.ErrNoRows {
			return types.CapabilityRecord{}, false, nil
		}
		return types.CapabilityRecord{}, false, types.Tag(types.KindTransient, "store.GetCapability", err)
	}
	if err := json.Unmarshal([]byte(manifestJSON), &rec.Manifest); err != nil {
		return types.CapabilityRecord{}, false, types.Tag(types.KindValidation, "store.GetCapability", err)
	}
	rec.State = parseState(state)
	return rec, true, nil
}

// ListCapabilities returns every persisted capability record, for the
// registry's boot-time reload.
func (s *Store) ListCapabilities() ([]types.CapabilityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, manifest, state, lkg_version, quarantine_count FROM capability`)
	if err != nil {
		return nil, types.Tag(types.KindTransient, "store.ListCapabilities", err)
	}
	defer rows.Close()

	var out []types.CapabilityRecord
	for rows.Next() {
		var rec types.CapabilityRecord
		var manifestJSON, state string
		if err := rows.Scan(&rec.ID, &manifestJSON, &state, &rec.LKGVersion, &rec.QuarantineCount); err != nil {
			return nil, types.Tag(types.KindTransient, "store.ListCapabilities", err)
		}
		if err := json.Unmarshal([]byte(manifestJSON), &rec.Manifest); err != nil {
			return nil, types.Tag(types.KindValidation, "store.ListCapabilities", err)
		}
		rec.State = parseState(state)
		out = append(out, rec)
	}
	return out, nil
}

func parseState(s string) types.CapabilityState {
	switch s {
	case "staged":
		return types.StateStaged
	case "active_candidate":
		return types.StateActiveCandidate
	case "confirmed":
		return types.StateConfirmed
	case "quarantined":
		return types.StateQuarantined
	case "retired":
		return types.StateRetired
	default:
		return types.StateStaged
	}
}

// --- capability_score ---

// RecordOutcome updates usage/success/fail counters for self-critic updates
// (spec §4.1 phase 7).
func (s *Store) RecordOutcome(capabilityID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	succ, fail := 0, 0
	if success {
		succ = 1
	} else {
		fail = 1
	}
	_, err := s.db.Exec(`INSERT INTO capability_score(capability_id, usage_count, success_count, fail_count)
		VALUES(?, 1, ?, ?)
		ON CONFLICT(capability_id) DO UPDATE SET
			usage_count = usage_count + 1,
			success_count = success_count + excluded.success_count,
			fail_count = fail_count + excluded.fail_count`,
		capabilityID, succ, fail)
	return types.Tag(types.KindTransient, "store.RecordOutcome", err)
}

// --- episode ---

func (s *Store) InsertEpisode(ep types.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob := encodeEmbedding(ep.Embedding)
	consolidated := 0
	if ep.Consolidated {
		consolidated = 1
	}
	_, err := s.db.Exec(`INSERT INTO episode(id, topic_id, content, embedding, salience, consolidated, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		ep.ID, ep.TopicID, ep.Content, blob, ep.Salience, consolidated, ep.CreatedAt.UnixNano())
	return types.Tag(types.KindTransient, "store.InsertEpisode", err)
}

func (s *Store) MarkEpisodeConsolidated(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE episode SET consolidated = 1 WHERE id = ?`, id)
	return types.Tag(types.KindTransient, "store.MarkEpisodeConsolidated", err)
}

func (s *Store) UnconsolidatedEpisodes(limit int) ([]types.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, topic_id, content, embedding, salience, created_at
		FROM episode WHERE consolidated = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, types.Tag(types.KindTransient, "store.UnconsolidatedEpisodes", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func (s *Store) EpisodesAboveSalience(threshold float64) ([]types.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, topic_id, content, embedding, salience, created_at
		FROM episode WHERE salience > ? ORDER BY created_at DESC`, threshold)
	if err != nil {
		return nil, types.Tag(types.KindTransient, "store.EpisodesAboveSalience", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func scanEpisodes(rows *sql.Rows) ([]types.Episode, error) {
	var out []types.Episode
	for rows.Next() {
		var ep types.Episode
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&ep.ID, &ep.TopicID, &ep.Content, &blob, &ep.Salience, &createdAt); err != nil {
			return nil, types.Tag(types.KindTransient, "store.scanEpisodes", err)
		}
		ep.Embedding = decodeEmbedding(blob)
		ep.CreatedAt = time.Unix(0, createdAt)
		out = append(out, ep)
	}
	return out, nil
}

// --- knowledge ---

func (s *Store) InsertKnowledge(k types.Knowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := json.Marshal(k.SourceEpisodeIDs)
	if err != nil {
		return types.Tag(types.KindValidation, "store.InsertKnowledge", err)
	}
	_, err = s.db.Exec(`INSERT INTO knowledge(id, summary, embedding, source_episode_ids, created_at)
		VALUES(?,?,?,?,?)`,
		k.ID, k.Summary, encodeEmbedding(k.Embedding), string(ids), k.CreatedAt.UnixNano())
	return types.Tag(types.KindTransient, "store.InsertKnowledge", err)
}

// TopKnowledgeBySimilarity returns the top-n knowledge rows by cosine
// similarity to query, restricted to those above minSim (spec §4.1:
// "semantic recall (top 3 by cosine similarity > 0.6)"). Similarity is
// always computed in Go, whether or not the sqlite-vec extension is
// registered; see internal/store/vector.go.
func (s *Store) TopKnowledgeBySimilarity(query []float32, n int, minSim float64) ([]types.Knowledge, error) {
	s.mu.RLock()
	rows, err := s.db.Query(`SELECT id, summary, embedding, source_episode_ids, created_at FROM knowledge`)
	s.mu.RUnlock()
	if err != nil {
		return nil, types.Tag(types.KindTransient, "store.TopKnowledgeBySimilarity", err)
	}
	defer rows.Close()

	type scored struct {
		k   types.Knowledge
		sim float64
	}
	var all []scored
	for rows.Next() {
		var k types.Knowledge
		var blob []byte
		var idsJSON string
		var createdAt int64
		if err := rows.Scan(&k.ID, &k.Summary, &blob, &idsJSON, &createdAt); err != nil {
			return nil, types.Tag(types.KindTransient, "store.TopKnowledgeBySimilarity", err)
		}
		k.Embedding = decodeEmbedding(blob)
		_ = json.Unmarshal([]byte(idsJSON), &k.SourceEpisodeIDs)
		k.CreatedAt = time.Unix(0, createdAt)
		sim := CosineSimilarity(query, k.Embedding)
		if sim > minSim {
			all = append(all, scored{k, sim})
		}
	}
	// simple top-n selection; table sizes in this runtime's working set are small
	for i := 0; i < len(all) && i < n; i++ {
		best := i
		for j := i + 1; j < len(all); j++ {
			if all[j].sim > all[best].sim {
				best = j
			}
		}
		all[i], all[best] = all[best], all[i]
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]types.Knowledge, len(all))
	for i, sc := range all {
		out[i] = sc.k
	}
	return out, nil
}

// --- narrative_event ---

func (s *Store) RecordNarrativeEvent(id, description string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO narrative_event(id, description, created_at) VALUES(?,?,?)`,
		id, description, at.UnixNano())
	return types.Tag(types.KindTransient, "store.RecordNarrativeEvent", err)
}

// --- boot_health_record ---

// RecordBootHealth appends a boot record and prunes to the last 50 (SPEC_FULL
// §3, "boot-health record retention").
func (s *Store) RecordBootHealth(rec types.BootHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	success := 0
	if rec.Success {
		success = 1
	}
	if _, err := s.db.Exec(`INSERT INTO boot_health_record(phase, success, duration_ms, at) VALUES(?,?,?,?)`,
		rec.Phase.String(), success, rec.Duration.Milliseconds(), rec.At.UnixNano()); err != nil {
		return types.Tag(types.KindTransient, "store.RecordBootHealth", err)
	}
	_, err := s.db.Exec(`DELETE FROM boot_health_record WHERE id NOT IN (
		SELECT id FROM boot_health_record ORDER BY id DESC LIMIT 50)`)
	return types.Tag(types.KindTransient, "store.RecordBootHealth", err)
}

// --- user_preference ---

func (s *Store) SetUserPreference(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO user_preference(key, value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return types.Tag(types.KindTransient, "store.SetUserPreference", err)
}

func (s *Store) GetUserPreference(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT value FROM user_preference WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, types.Tag(types.KindTransient, "store.GetUserPreference", err)
	}
	return v, true, nil
}

// --- codegen_history ---

func (s *Store) RecordCodegenOutcome(id, capabilityName, outcome string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO codegen_history(id, capability_name, outcome, created_at) VALUES(?,?,?,?)`,
		id, capabilityName, outcome, at.UnixNano())
	return types.Tag(types.KindTransient, "store.RecordCodegenOutcome", err)
}

