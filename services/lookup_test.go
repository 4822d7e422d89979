package services

import (
	"context"
	"errors"
	"testing"

	"labscope/models"
	"labscope/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func usable(source string) *models.KBEntry {
	return &models.KBEntry{TestName: "x", Source: source, Ranges: []models.RangeRule{{Low: f(1), High: f(2)}}}
}

func TestLookupChainFirstHitWins(t *testing.T) {
	kbTier := &stubProvider{name: "kb", entry: usable(models.SourceKB)}
	ragTier := &stubProvider{name: "rag", entry: usable(models.SourceRAG)}
	chain := NewLookupChain(zap.NewNop(), kbTier, ragTier)

	res := chain.Lookup(context.Background(), providers.Query{Key: "x"})
	require.NotNil(t, res.Entry)
	assert.Equal(t, models.SourceKB, res.Entry.Source)
	assert.Equal(t, 0, ragTier.calls)
	assert.Equal(t, []string{"kb", "rag"}, chain.Tiers())
	assert.True(t, res.Answered("kb"))
	assert.False(t, res.Answered("rag"))
}

func TestLookupChainFallsThrough(t *testing.T) {
	kbTier := &stubProvider{name: "kb", err: providers.ErrNotFound}
	ragTier := &stubProvider{name: "rag", err: providers.ErrUnavailable}
	genTier := &stubProvider{name: "generative", entry: usable(models.SourceGenerative)}
	res := NewLookupChain(zap.NewNop(), kbTier, ragTier, genTier).Lookup(context.Background(), providers.Query{Name: "x"})

	require.NotNil(t, res.Entry)
	assert.Equal(t, models.SourceGenerative, res.Entry.Source)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, OutcomeMiss, res.Outcomes[0].Kind)
	assert.Equal(t, OutcomeUnavailable, res.Outcomes[1].Kind)
	assert.Equal(t, OutcomeHit, res.Outcomes[2].Kind)
	assert.True(t, res.Answered("generative"))
}

func TestLookupChainKeepsFirstPartialEntry(t *testing.T) {
	partial := &models.KBEntry{TestName: "mcv", Unit: "fL", Source: models.SourceKB}
	kbTier := &stubProvider{name: "kb", entry: partial, err: providers.ErrNoRanges}
	ragTier := &stubProvider{name: "rag", err: providers.ErrNotFound}
	res := NewLookupChain(zap.NewNop(), kbTier, ragTier).Lookup(context.Background(), providers.Query{Key: "mcv"})

	assert.Same(t, partial, res.Entry)
	assert.Equal(t, 1, ragTier.calls)
	assert.True(t, res.Answered("kb"))
}

type panicProvider struct{}

func (panicProvider) Name() string { return "boom" }

func (panicProvider) Lookup(context.Context, providers.Query) (*models.KBEntry, error) {
	panic("bad tier")
}

func TestLookupChainRecoversFailures(t *testing.T) {
	failing := &stubProvider{name: "rag", err: errors.New("disk on fire")}
	last := &stubProvider{name: "kb", entry: usable(models.SourceKB)}
	res := NewLookupChain(zap.NewNop(), panicProvider{}, failing, last).Lookup(context.Background(), providers.Query{Key: "x"})

	require.NotNil(t, res.Entry)
	assert.Equal(t, OutcomeFailed, res.Outcomes[0].Kind)
	assert.Contains(t, res.Outcomes[0].Err.Error(), "bad tier")
	assert.Equal(t, OutcomeFailed, res.Outcomes[1].Kind)
}

func TestLookupChainNothingFound(t *testing.T) {
	res := NewLookupChain(zap.NewNop(), &stubProvider{name: "kb", err: providers.ErrNotFound}).Lookup(context.Background(), providers.Query{Name: "zz"})
	assert.Nil(t, res.Entry)
	assert.False(t, res.Answered("kb"))
}
