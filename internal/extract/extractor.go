// Package extract turns raw observation content into typed feature
// bundles. Two paths exist: an external extractor (provider-backed,
// deadline-bounded, Personal/General tiers only) and the heuristic
// extractor used for Vault content and as the degraded fallback.
package extract

import (
	"context"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// Extractor produces a feature bundle from raw content.
type Extractor interface {
	Extract(ctx context.Context, ownerID string, content []byte, frame memory.ContextFrame) (memory.FeatureBundle, error)
}

// Pipeline routes extraction between the external provider and the
// heuristic path, enforcing the privacy boundary: Vault content never
// reaches the external extractor, and every external call is audited.
type Pipeline struct {
	external Extractor // may be nil: heuristic-only deployment
	fallback *Heuristic
	timeout  time.Duration
	provider string // provider name for the audit trail
}

// NewPipeline builds the extraction pipeline. external may be nil.
func NewPipeline(external Extractor, providerName string, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Pipeline{
		external: external,
		fallback: NewHeuristic(),
		timeout:  timeout,
		provider: providerName,
	}
}

// Extract returns the feature bundle for a memory-to-be. The bundle's
// Degraded flag is set whenever the heuristic fallback substituted for a
// failing or timed-out external call.
func (p *Pipeline) Extract(ctx context.Context, ownerID, memoryID string, content []byte, privacy memory.PrivacyTier, frame memory.ContextFrame) memory.FeatureBundle {
	timer := logging.StartTimer(logging.CategoryExtract, "Extract")
	defer timer.Stop()

	// Vault content takes the heuristic path unconditionally.
	if privacy == memory.TierVault || p.external == nil {
		bundle, _ := p.fallback.Extract(ctx, ownerID, content, frame)
		return bundle
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	bundle, err := p.external.Extract(callCtx, ownerID, content, frame)
	logging.AuditProviderEgress(ownerID, memoryID, p.provider, err == nil)
	if err != nil {
		logging.Get(logging.CategoryExtract).Warn("external extractor failed for owner=%s: %v, using heuristic", ownerID, err)
		bundle, _ = p.fallback.Extract(ctx, ownerID, content, frame)
		bundle.Degraded = true
		return bundle
	}
	return bundle
}
