// Package store persists the core's owner-partitioned state in SQLite:
// memory records, access history, patterns, open loops, pressure vectors,
// and notification receipts. Every query is scoped by owner id; a lookup
// under the wrong owner behaves exactly like a missing row.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// Store is the durable SQLite-backed store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the database at the given path, creating directories
// and schema as needed.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("busy_timeout pragma: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("journal_mode pragma: %v", err)
	}
	// NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("synchronous pragma: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("store opened at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			ingested_at   INTEGER NOT NULL,
			event_time    INTEGER NOT NULL,
			content       BLOB,
			privacy       INTEGER NOT NULL DEFAULT 0,
			device_id     TEXT,
			device_type   TEXT,
			tags          TEXT,
			features      TEXT,
			base_salience REAL NOT NULL DEFAULT 0,
			state         INTEGER NOT NULL DEFAULT 0,
			forget_at     INTEGER,
			deleted_at    INTEGER,
			updated_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_time ON memories(owner_id, event_time)`,

		`CREATE TABLE IF NOT EXISTS access_history (
			memory_id TEXT NOT NULL,
			owner_id  TEXT NOT NULL,
			ts        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_memory ON access_history(owner_id, memory_id, ts)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			owner_id  TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			pattern   TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (owner_id, entity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS open_loops (
			id               TEXT PRIMARY KEY,
			owner_id         TEXT NOT NULL,
			source_memory_id TEXT NOT NULL,
			direction        TEXT NOT NULL,
			counterparty     TEXT,
			description      TEXT,
			due_at           INTEGER,
			status           TEXT NOT NULL,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_loops_owner ON open_loops(owner_id, status)`,

		`CREATE TABLE IF NOT EXISTS pressure_vectors (
			owner_id   TEXT NOT NULL,
			from_id    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			magnitude  REAL NOT NULL,
			valence    REAL NOT NULL,
			decay_rate REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (owner_id, from_id, to_id)
		)`,

		`CREATE TABLE IF NOT EXISTS receipts (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			action     TEXT NOT NULL,
			payload    TEXT,
			delivered_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// MEMORIES
// =============================================================================

// Put inserts or replaces a memory record.
func (s *Store) Put(m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, _ := json.Marshal(m.Tags)
	features, _ := json.Marshal(m.Features)

	var forgetAt, deletedAt interface{}
	if m.ForgetAt != nil {
		forgetAt = m.ForgetAt.UnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO memories
		   (id, owner_id, ingested_at, event_time, content, privacy, device_id,
		    device_type, tags, features, base_salience, state, forget_at, deleted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   content = excluded.content,
		   tags = excluded.tags,
		   features = excluded.features,
		   state = excluded.state,
		   forget_at = excluded.forget_at,
		   updated_at = excluded.updated_at`,
		m.ID, m.OwnerID, m.IngestedAt.UnixMilli(), m.EventTime.UnixMilli(),
		m.Content, int(m.Privacy), m.DeviceID, string(m.DeviceType),
		string(tags), string(features), m.BaseSalience, int(m.State),
		forgetAt, deletedAt, time.Now().UnixMilli(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("put %s failed: %v", m.ID, err)
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads a memory by id under one owner. A row belonging to another
// owner is indistinguishable from a missing one.
func (s *Store) Get(ownerID, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ownerID, id)
}

func (s *Store) getLocked(ownerID, id string) (*memory.Memory, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, ingested_at, event_time, content, privacy,
		        device_id, device_type, tags, features, base_salience, state, forget_at
		 FROM memories WHERE id = ? AND owner_id = ?`, id, ownerID)
	m, err := scanMemory(row)
	if err != nil {
		return nil, err
	}
	// The record carries its bounded access sequence so callers see a real
	// access count after a restart.
	times, herr := s.accessTimesLocked(ownerID, id)
	if herr != nil {
		logging.StoreDebug("access history load for %s: %v", id, herr)
	}
	m.AccessTimes = times
	return m, nil
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var (
		m                    memory.Memory
		ingestedAt, eventAt  int64
		privacy, state       int
		deviceType           string
		tags, features       sql.NullString
		forgetAt             sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.OwnerID, &ingestedAt, &eventAt, &m.Content,
		&privacy, &m.DeviceID, &deviceType, &tags, &features,
		&m.BaseSalience, &state, &forgetAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}

	m.IngestedAt = time.UnixMilli(ingestedAt)
	m.EventTime = time.UnixMilli(eventAt)
	m.Privacy = memory.PrivacyTier(privacy)
	m.DeviceType = memory.DeviceType(deviceType)
	m.State = memory.State(state)
	if tags.Valid && tags.String != "" {
		json.Unmarshal([]byte(tags.String), &m.Tags)
	}
	if features.Valid && features.String != "" {
		json.Unmarshal([]byte(features.String), &m.Features)
	}
	if forgetAt.Valid {
		t := time.UnixMilli(forgetAt.Int64)
		m.ForgetAt = &t
	}
	return &m, nil
}

// ListFilters narrows a List call.
type ListFilters struct {
	From, To time.Time
	Tags     []string
	States   []memory.State
	Limit    int
}

// List returns an owner's memories matching the filters, newest first.
// Tag filtering happens in Go: tag sets are small and JSON-encoded.
func (s *Store) List(ownerID string, f ListFilters) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, owner_id, ingested_at, event_time, content, privacy,
	                 device_id, device_type, tags, features, base_salience, state, forget_at
	          FROM memories WHERE owner_id = ?`
	args := []interface{}{ownerID}

	if !f.From.IsZero() {
		query += ` AND event_time >= ?`
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		query += ` AND event_time <= ?`
		args = append(args, f.To.UnixMilli())
	}
	if len(f.States) > 0 {
		query += ` AND state IN (`
		for i, st := range f.States {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, int(st))
		}
		query += `)`
	} else {
		query += ` AND state != ?`
		args = append(args, int(memory.StateDeleted))
	}
	query += ` ORDER BY event_time DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit*4) // headroom for tag filtering
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if len(f.Tags) > 0 && !hasAnyTag(m, f.Tags) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

func hasAnyTag(m *memory.Memory, tags []string) bool {
	for _, t := range tags {
		if m.HasTag(t) {
			return true
		}
	}
	return false
}

// MarkState updates a memory's lifecycle state.
func (s *Store) MarkState(ownerID, id string, state memory.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markStateLocked(ownerID, id, state)
}

func (s *Store) markStateLocked(ownerID, id string, state memory.State) error {
	res, err := s.db.Exec(
		`UPDATE memories SET state = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		int(state), time.Now().UnixMilli(), id, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// =============================================================================
// ACCESS HISTORY
// =============================================================================

// AppendAccess records an access timestamp, pruning beyond the cap.
func (s *Store) AppendAccess(ownerID, memoryID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO access_history (memory_id, owner_id, ts) VALUES (?, ?, ?)`,
		memoryID, ownerID, t.UnixMilli()); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	_, err := s.db.Exec(
		`DELETE FROM access_history WHERE owner_id = ? AND memory_id = ? AND ts NOT IN (
		   SELECT ts FROM access_history WHERE owner_id = ? AND memory_id = ?
		   ORDER BY ts DESC LIMIT ?)`,
		ownerID, memoryID, ownerID, memoryID, memory.AccessHistoryCap)
	if err != nil {
		logging.StoreDebug("access prune failed for %s: %v", memoryID, err)
	}
	return nil
}

// AccessHistory loads the bounded access sequence, oldest first.
func (s *Store) AccessHistory(ownerID, memoryID string) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessTimesLocked(ownerID, memoryID)
}

func (s *Store) accessTimesLocked(ownerID, memoryID string) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT ts FROM access_history WHERE owner_id = ? AND memory_id = ? ORDER BY ts ASC`,
		ownerID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ts))
	}
	return out, rows.Err()
}

// OwnerAccesses loads every recorded access for an owner keyed by memory
// id, oldest first. Feeds pattern detector rehydration after a restart.
func (s *Store) OwnerAccesses(ownerID string) (map[string][]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT memory_id, ts FROM access_history WHERE owner_id = ? ORDER BY ts ASC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string][]time.Time)
	for rows.Next() {
		var (
			id string
			ts int64
		)
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = append(out[id], time.UnixMilli(ts))
	}
	return out, rows.Err()
}
