package services

import (
	"context"
	"testing"

	"labscope/llm"
	"labscope/models"
	"labscope/providers"
	"labscope/providers/kb"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	// genai zieht opencensus nach, dessen Worker beim Laden startet
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func defaultKB(t *testing.T) *kb.KB {
	t.Helper()
	k, err := kb.Default()
	require.NoError(t, err)
	return k
}

// stubProvider liefert einen festen Eintrag und zählt die Aufrufe.
type stubProvider struct {
	name  string
	entry *models.KBEntry
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Lookup(_ context.Context, _ providers.Query) (*models.KBEntry, error) {
	s.calls++
	return s.entry, s.err
}

// fakeLLM liefert eine vorgegebene Antwort.
type fakeLLM struct {
	answer string
	err    error
	last   llm.Request
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) CompleteJSON(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.answer, f.err
}

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	k := defaultKB(t)
	logger := zap.NewNop()
	chain := NewLookupChain(logger, kb.NewProvider(k))
	a := NewAnalyzer(NewExtractor(nil, logger), NewNameResolver(k), chain, Classifier{}, logger)
	return a
}

func f(v float64) *float64 { return &v }
