package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT TRAIL
// =============================================================================
// The audit trail records policy-relevant events: every outbound call to an
// external provider (keyed by memory id), every gate removal, and every
// notification delivery. Unlike category logs it is always on — the Vault
// no-egress invariant is checked against it, in production and in tests.

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// External provider egress.
	AuditProviderCall  AuditEventType = "provider_call"
	AuditProviderError AuditEventType = "provider_error"

	// Gate decisions.
	AuditGateRemoval  AuditEventType = "gate_removal"
	AuditGateDegraded AuditEventType = "gate_degraded"

	// Policy denials.
	AuditPolicyDenied AuditEventType = "policy_denied"

	// Notification deliveries.
	AuditActionDelivered AuditEventType = "action_delivered"

	// Memory lifecycle.
	AuditMemoryForgotten AuditEventType = "memory_forgotten"
	AuditMemoryRestored  AuditEventType = "memory_restored"
)

// AuditEvent is one structured audit entry.
type AuditEvent struct {
	Timestamp int64          `json:"ts"` // unix milliseconds
	EventType AuditEventType `json:"event"`
	OwnerID   string         `json:"owner"`
	MemoryID  string         `json:"memory,omitempty"`
	Target    string         `json:"target,omitempty"` // provider name, stage, recipient
	Reason    string         `json:"reason,omitempty"`
	Success   bool           `json:"success"`
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
	auditPath string

	// In-memory tail kept for invariant checks without re-reading the file.
	auditTail []AuditEvent
)

const auditTailCap = 4096

func initAudit(stateDir string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	auditPath = filepath.Join(stateDir, "audit.log")
	f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditFile = f
	return nil
}

func closeAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit records one audit event.
func Audit(ev AuditEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	auditTail = append(auditTail, ev)
	if len(auditTail) > auditTailCap {
		auditTail = auditTail[len(auditTail)-auditTailCap:]
	}

	if auditFile == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintln(auditFile, string(data))
}

// AuditProviderEgress records an outbound provider call for a memory.
func AuditProviderEgress(ownerID, memoryID, provider string, ok bool) {
	ev := AuditEvent{EventType: AuditProviderCall, OwnerID: ownerID, MemoryID: memoryID, Target: provider, Success: ok}
	if !ok {
		ev.EventType = AuditProviderError
	}
	Audit(ev)
}

// ProviderCallsFor returns the recorded provider calls touching a memory
// id. Backs the Vault no-egress invariant.
func ProviderCallsFor(memoryID string) []AuditEvent {
	auditMu.Lock()
	defer auditMu.Unlock()

	var out []AuditEvent
	for _, ev := range auditTail {
		if ev.MemoryID != memoryID {
			continue
		}
		if ev.EventType == AuditProviderCall || ev.EventType == AuditProviderError {
			out = append(out, ev)
		}
	}
	return out
}

// ResetAuditTail clears the in-memory tail. Test helper; the on-disk log
// is untouched.
func ResetAuditTail() {
	auditMu.Lock()
	defer auditMu.Unlock()
	auditTail = nil
}
