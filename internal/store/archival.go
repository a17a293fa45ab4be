package store

import (
	"fmt"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// TombstoneGrace is how long a forgotten memory stays recoverable before
// its row is purged for good.
const TombstoneGrace = 30 * 24 * time.Hour

// Forget tombstones a memory: the record stays in place, marked deleted,
// and becomes invisible to List/Get until restored or purged.
func (s *Store) Forget(ownerID, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE memories SET state = ?, deleted_at = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ? AND state != ?`,
		int(memory.StateDeleted), now.UnixMilli(), now.UnixMilli(),
		id, ownerID, int(memory.StateDeleted))
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}

	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditMemoryForgotten,
		OwnerID:   ownerID,
		MemoryID:  id,
		Success:   true,
	})
	return nil
}

// Restore un-deletes a tombstoned memory inside the grace window.
func (s *Store) Restore(ownerID, id string, now time.Time) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deletedAt int64
	err := s.db.QueryRow(
		`SELECT deleted_at FROM memories
		 WHERE id = ? AND owner_id = ? AND state = ? AND deleted_at IS NOT NULL`,
		id, ownerID, int(memory.StateDeleted)).Scan(&deletedAt)
	if err != nil {
		return nil, memory.ErrNotFound
	}
	if now.Sub(time.UnixMilli(deletedAt)) > TombstoneGrace {
		return nil, memory.ErrNotFound
	}

	if _, err := s.db.Exec(
		`UPDATE memories SET state = ?, deleted_at = NULL, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		int(memory.StateActive), now.UnixMilli(), id, ownerID); err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}

	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditMemoryRestored,
		OwnerID:   ownerID,
		MemoryID:  id,
		Success:   true,
	})
	return s.getLocked(ownerID, id)
}

// PurgeExpired removes tombstoned rows past the grace window and any
// memory whose scheduled-forget deadline has passed. Returns how many
// rows were purged.
func (s *Store) PurgeExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-TombstoneGrace).UnixMilli()
	res, err := s.db.Exec(
		`DELETE FROM memories WHERE
		   (state = ? AND deleted_at IS NOT NULL AND deleted_at < ?)
		 OR (forget_at IS NOT NULL AND forget_at < ? AND state = ?)`,
		int(memory.StateDeleted), cutoff, now.UnixMilli(), int(memory.StateDeleted))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()

	// Scheduled forgets that reached their deadline become tombstones
	// first; the row itself outlives the deadline by the grace window.
	if _, err := s.db.Exec(
		`UPDATE memories SET state = ?, deleted_at = ?, updated_at = ?
		 WHERE forget_at IS NOT NULL AND forget_at < ? AND state != ?`,
		int(memory.StateDeleted), now.UnixMilli(), now.UnixMilli(),
		now.UnixMilli(), int(memory.StateDeleted)); err != nil {
		logging.StoreDebug("scheduled forget sweep: %v", err)
	}

	// Orphaned access history goes with the rows.
	if _, err := s.db.Exec(
		`DELETE FROM access_history WHERE memory_id NOT IN (SELECT id FROM memories)`); err != nil {
		logging.StoreDebug("access history sweep: %v", err)
	}

	if n > 0 {
		logging.Store("purged %d expired tombstones", n)
	}
	return int(n), nil
}
