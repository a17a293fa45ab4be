package engine

import (
	"fmt"

	"github.com/alanchelmickjr/memoRable-sub004/internal/attention"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
	"github.com/alanchelmickjr/memoRable-sub004/internal/salience"
)

// =============================================================================
// CONTEXT FRAMES
// =============================================================================

// SetContext applies a per-device frame delta, re-fuses the owner view,
// and refreshes the attention window under the new context. Applying the
// same delta twice fuses to the same frame; the refresh is idempotent.
func (e *Engine) SetContext(delta memory.FrameDelta) (memory.ContextFrame, error) {
	if delta.OwnerID == "" || delta.DeviceID == "" {
		return memory.ContextFrame{}, fmt.Errorf("%w: owner_id and device_id required", memory.ErrInvalidFrame)
	}
	if delta.Activity != nil && *delta.Activity != "" && !salience.RecognizedTag(*delta.Activity) {
		return memory.ContextFrame{}, fmt.Errorf("%w: %q", memory.ErrUnknownContextTag, *delta.Activity)
	}
	if delta.Timestamp.IsZero() {
		delta.Timestamp = e.clock()
	}

	unlock := e.lockOwner(delta.OwnerID)
	defer unlock()

	e.mu.Lock()
	devices := e.frames[delta.OwnerID]
	if devices == nil {
		devices = make(map[string]memory.ContextFrame)
		e.frames[delta.OwnerID] = devices
	}
	devices[delta.DeviceID] = delta.Apply(devices[delta.DeviceID])

	all := make([]memory.ContextFrame, 0, len(devices))
	for _, f := range devices {
		all = append(all, f)
	}
	fused := memory.FuseFrames(e.clock(), all...)
	fused.OwnerID = delta.OwnerID
	e.fused[delta.OwnerID] = fused
	e.mu.Unlock()

	e.refreshAttention(delta.OwnerID)
	logging.Engine("owner=%s context set device=%s activity=%q location=%q",
		delta.OwnerID, delta.DeviceID, fused.Activity, fused.Location)
	return fused, nil
}

// ClearContext drops one device's frame, or every frame when deviceID is
// empty, and re-fuses.
func (e *Engine) ClearContext(ownerID, deviceID string) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	e.mu.Lock()
	if deviceID == "" {
		delete(e.frames, ownerID)
		delete(e.fused, ownerID)
	} else if devices := e.frames[ownerID]; devices != nil {
		delete(devices, deviceID)
		all := make([]memory.ContextFrame, 0, len(devices))
		for _, f := range devices {
			all = append(all, f)
		}
		fused := memory.FuseFrames(e.clock(), all...)
		fused.OwnerID = ownerID
		e.fused[ownerID] = fused
	}
	e.mu.Unlock()

	e.refreshAttention(ownerID)
}

// CurrentFrame returns the fused owner view. Expired frames fuse to
// nothing, so a stale view degrades to an empty frame on its own.
func (e *Engine) CurrentFrame(ownerID string) memory.ContextFrame {
	unlock := e.lockOwner(ownerID)
	defer unlock()
	return e.currentFrameLocked(ownerID)
}

// currentFrameLocked assumes the owner lock is held.
func (e *Engine) currentFrameLocked(ownerID string) memory.ContextFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.fused[ownerID]
	f.OwnerID = ownerID
	return f
}

// refreshAttention rescores the window after a context change: decay and
// boost are recomputed at now, entries below the bar drop out.
func (e *Engine) refreshAttention(ownerID string) {
	cfg := e.cfgp.Current().Attention
	now := e.clock()
	e.attention.RefreshForContext(ownerID, func(entry attention.Entry) float64 {
		return attention.Effective(cfg, entry, now)
	})
}
