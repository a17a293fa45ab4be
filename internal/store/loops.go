package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// =============================================================================
// OPEN LOOPS
// =============================================================================

// SaveLoop inserts or updates an open loop.
func (s *Store) SaveLoop(l *memory.OpenLoop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dueAt interface{}
	if l.DueAt != nil {
		dueAt = l.DueAt.UnixMilli()
	}
	_, err := s.db.Exec(
		`INSERT INTO open_loops
		   (id, owner_id, source_memory_id, direction, counterparty, description,
		    due_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   due_at = excluded.due_at,
		   description = excluded.description,
		   updated_at = excluded.updated_at`,
		l.ID, l.OwnerID, l.SourceMemoryID, string(l.Direction), l.Counterparty,
		l.Description, dueAt, string(l.Status),
		l.CreatedAt.UnixMilli(), l.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// Loops returns an owner's loops, optionally restricted to one status.
// An empty status returns everything except cancelled.
func (s *Store) Loops(ownerID string, status memory.LoopStatus) ([]*memory.OpenLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, owner_id, source_memory_id, direction, counterparty,
	                 description, due_at, status, created_at, updated_at
	          FROM open_loops WHERE owner_id = ?`
	args := []interface{}{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	} else {
		query += ` AND status != ?`
		args = append(args, string(memory.LoopCancelled))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*memory.OpenLoop
	for rows.Next() {
		var (
			l                    memory.OpenLoop
			direction, st        string
			dueAt                sql.NullInt64
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.SourceMemoryID, &direction,
			&l.Counterparty, &l.Description, &dueAt, &st, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		l.Direction = memory.LoopDirection(direction)
		l.Status = memory.LoopStatus(st)
		if dueAt.Valid {
			t := time.UnixMilli(dueAt.Int64)
			l.DueAt = &t
		}
		l.CreatedAt = time.UnixMilli(createdAt)
		l.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// CloseLoop transitions a loop to closed or cancelled.
func (s *Store) CloseLoop(ownerID, loopID string, status memory.LoopStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE open_loops SET status = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		string(status), now.UnixMilli(), loopID, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// =============================================================================
// PRESSURE VECTORS
// =============================================================================

// UpsertPressure writes a pressure vector for an owner's entity pair.
func (s *Store) UpsertPressure(ownerID string, v memory.PressureVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO pressure_vectors
		   (owner_id, from_id, to_id, magnitude, valence, decay_rate, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, from_id, to_id) DO UPDATE SET
		   magnitude = excluded.magnitude,
		   valence = excluded.valence,
		   decay_rate = excluded.decay_rate,
		   updated_at = excluded.updated_at`,
		ownerID, v.From, v.To, v.Magnitude, v.Valence, v.DecayRate,
		v.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// Pressure loads the vector for one directed pair.
func (s *Store) Pressure(ownerID, from, to string) (memory.PressureVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		v         memory.PressureVector
		updatedAt int64
	)
	err := s.db.QueryRow(
		`SELECT from_id, to_id, magnitude, valence, decay_rate, updated_at
		 FROM pressure_vectors WHERE owner_id = ? AND from_id = ? AND to_id = ?`,
		ownerID, from, to).
		Scan(&v.From, &v.To, &v.Magnitude, &v.Valence, &v.DecayRate, &updatedAt)
	if err == sql.ErrNoRows {
		return memory.PressureVector{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.PressureVector{}, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	v.UpdatedAt = time.UnixMilli(updatedAt)
	return v, nil
}

// PressuresFrom returns every vector originating at one entity.
func (s *Store) PressuresFrom(ownerID, from string) ([]memory.PressureVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT from_id, to_id, magnitude, valence, decay_rate, updated_at
		 FROM pressure_vectors WHERE owner_id = ? AND from_id = ?`, ownerID, from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []memory.PressureVector
	for rows.Next() {
		var (
			v         memory.PressureVector
			updatedAt int64
		)
		if err := rows.Scan(&v.From, &v.To, &v.Magnitude, &v.Valence, &v.DecayRate, &updatedAt); err != nil {
			return nil, err
		}
		v.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// PATTERNS
// =============================================================================

// SavePattern persists a detected pattern snapshot for warm restarts.
func (s *Store) SavePattern(ownerID string, p *memory.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO patterns (owner_id, entity_id, pattern, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, entity_id) DO UPDATE SET
		   pattern = excluded.pattern, updated_at = excluded.updated_at`,
		ownerID, p.EntityID, string(blob), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// Patterns loads every persisted pattern for an owner.
func (s *Store) Patterns(ownerID string) ([]*memory.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT pattern FROM patterns WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*memory.Pattern
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var p memory.Pattern
		if err := json.Unmarshal([]byte(blob), &p); err != nil {
			continue // a corrupt snapshot is re-derivable, skip it
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =============================================================================
// DELIVERY RECEIPTS
// =============================================================================

// Receipt records that an action was delivered to a consumer surface.
type Receipt struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	DeliveredAt time.Time       `json:"delivered_at"`
}

// SaveReceipt persists a delivery receipt.
func (s *Store) SaveReceipt(r Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO receipts (id, owner_id, action, payload, delivered_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Action, string(r.Payload), r.DeliveredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// Receipts returns an owner's receipts since a cutoff, newest first.
func (s *Store) Receipts(ownerID string, since time.Time) ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, owner_id, action, payload, delivered_at
		 FROM receipts WHERE owner_id = ? AND delivered_at >= ?
		 ORDER BY delivered_at DESC`, ownerID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var (
			r           Receipt
			payload     sql.NullString
			deliveredAt int64
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Action, &payload, &deliveredAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			r.Payload = json.RawMessage(payload.String)
		}
		r.DeliveredAt = time.UnixMilli(deliveredAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
