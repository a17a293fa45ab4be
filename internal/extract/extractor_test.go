package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// recordingExtractor counts calls and returns a fixed bundle or error.
type recordingExtractor struct {
	calls  int
	bundle memory.FeatureBundle
	err    error
}

func (r *recordingExtractor) Extract(_ context.Context, _ string, _ []byte, _ memory.ContextFrame) (memory.FeatureBundle, error) {
	r.calls++
	return r.bundle, r.err
}

func TestVaultNeverReachesExternal(t *testing.T) {
	logging.ResetAuditTail()
	ext := &recordingExtractor{bundle: memory.FeatureBundle{DetectedEmotion: "joy"}}
	p := NewPipeline(ext, "acme-nlp", time.Second)

	bundle := p.Extract(context.Background(), "o1", "mem-vault", []byte("my safe combination is 7-21-9"), memory.TierVault, memory.ContextFrame{})

	assert.Equal(t, 0, ext.calls, "vault content must not touch the provider")
	assert.Empty(t, logging.ProviderCallsFor("mem-vault"))
	assert.False(t, bundle.Degraded, "heuristic path for vault is first choice, not a fallback")
}

func TestExternalPathAudited(t *testing.T) {
	logging.ResetAuditTail()
	ext := &recordingExtractor{bundle: memory.FeatureBundle{DetectedEmotion: "joy"}}
	p := NewPipeline(ext, "acme-nlp", time.Second)

	bundle := p.Extract(context.Background(), "o1", "mem-1", []byte("hello"), memory.TierGeneral, memory.ContextFrame{})

	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, "joy", bundle.DetectedEmotion)
	calls := logging.ProviderCallsFor("mem-1")
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Success)
}

func TestExternalFailureFallsBackDegraded(t *testing.T) {
	logging.ResetAuditTail()
	ext := &recordingExtractor{err: errors.New("provider down")}
	p := NewPipeline(ext, "acme-nlp", time.Second)

	bundle := p.Extract(context.Background(), "o1", "mem-2", []byte("I am furious about the deadline"), memory.TierGeneral, memory.ContextFrame{})

	assert.True(t, bundle.Degraded)
	// The heuristic still produced something usable.
	assert.NotEmpty(t, bundle.EmotionKeywords)
	calls := logging.ProviderCallsFor("mem-2")
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
}

func TestNilExternalUsesHeuristic(t *testing.T) {
	p := NewPipeline(nil, "", time.Second)
	bundle := p.Extract(context.Background(), "o1", "mem-3", []byte("we agreed I will send the report by Friday"), memory.TierGeneral, memory.ContextFrame{})
	assert.False(t, bundle.Degraded)
	assert.NotZero(t, bundle.Consequential.Commitments+bundle.Consequential.ActionItems)
}

// =============================================================================
// HEURISTIC
// =============================================================================

func TestHeuristicSentiment(t *testing.T) {
	h := NewHeuristic()

	pos, err := h.Extract(context.Background(), "o1", []byte("what a wonderful amazing day, I love it"), memory.ContextFrame{})
	require.NoError(t, err)
	assert.Greater(t, pos.SentimentIntensity, 0.0)

	neg, err := h.Extract(context.Background(), "o1", []byte("terrible awful news, I hate this"), memory.ContextFrame{})
	require.NoError(t, err)
	assert.Less(t, neg.SentimentIntensity, 0.0)
}

func TestHeuristicConsequentialSignals(t *testing.T) {
	h := NewHeuristic()
	b, err := h.Extract(context.Background(), "o1",
		[]byte("I will pay the $400 invoice by tomorrow, and we decided to move the launch"),
		memory.ContextFrame{})
	require.NoError(t, err)

	assert.True(t, b.Consequential.MoneyMentioned)
	assert.NotZero(t, b.Consequential.Deadlines)
	assert.NotZero(t, b.Consequential.Decisions)
}

func TestHeuristicParticipantsFromFrame(t *testing.T) {
	h := NewHeuristic()
	frame := memory.ContextFrame{Participants: []string{"dana"}}
	b, err := h.Extract(context.Background(), "o1", []byte("dana showed me the new garden"), frame)
	require.NoError(t, err)
	assert.Contains(t, b.PeopleMentioned, "dana")
}

func TestHeuristicNeverFails(t *testing.T) {
	h := NewHeuristic()
	_, err := h.Extract(context.Background(), "o1", nil, memory.ContextFrame{})
	assert.NoError(t, err)
}
