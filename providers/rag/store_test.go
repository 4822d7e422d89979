package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"labscope/models"
	"labscope/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func f(v float64) *float64 { return &v }

type failingBackend struct {
	docs  []models.RangeDoc
	saves int
}

func (b *failingBackend) Load(context.Context) ([]models.RangeDoc, error) { return b.docs, nil }

func (b *failingBackend) Save(context.Context, []models.RangeDoc, []models.RangeDoc) error {
	b.saves++
	return errors.New("read-only")
}

func TestNewStoreSeedsAndPersists(t *testing.T) {
	ctx := context.Background()
	backend := FileBackend{Dir: t.TempDir()}
	s, err := NewStore(ctx, backend, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 11, s.Len())
	_, ok := s.Get("seed_crp")
	assert.True(t, ok)

	require.NoError(t, s.Add(ctx, models.RangeDoc{ID: "lab_na", TestName: "Sodium", Unit: "mmol/L", Ranges: []models.RangeRule{{Low: f(135), High: f(145)}}}))

	reopened, err := NewStore(ctx, backend, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 12, reopened.Len())
	doc, ok := reopened.Get("lab_na")
	require.True(t, ok)
	assert.Equal(t, "Sodium", doc.TestName)
}

func TestStoreAddReplacesByID(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, FileBackend{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, models.RangeDoc{ID: "seed_crp", TestName: "CRP", Unit: "mg/dL"}))
	assert.Equal(t, 11, s.Len())
	doc, _ := s.Get("seed_crp")
	assert.Equal(t, "mg/dL", doc.Unit)
}

func TestStoreKeepsDocsWhenPersistFails(t *testing.T) {
	backend := &failingBackend{docs: []models.RangeDoc{{ID: "a", TestName: "Alpha"}}}
	s, err := NewStore(context.Background(), backend, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, backend.saves)

	err = s.Add(context.Background(), models.RangeDoc{ID: "b", TestName: "Beta"})
	assert.Error(t, err)
	assert.Equal(t, 2, s.Len())
}

// countingBackend ist nicht synchronisiert; der Store muss Save serialisieren.
type countingBackend struct {
	saves int
	last  []models.RangeDoc
}

func (b *countingBackend) Load(context.Context) ([]models.RangeDoc, error) {
	return []models.RangeDoc{{ID: "seed", TestName: "Seed"}}, nil
}

func (b *countingBackend) Save(_ context.Context, all, _ []models.RangeDoc) error {
	b.saves++
	b.last = all
	return nil
}

func TestStoreConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{}
	s, err := NewStore(ctx, backend, zap.NewNop())
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Add(ctx,
				models.RangeDoc{ID: fmt.Sprintf("doc_%d", i), TestName: fmt.Sprintf("Test %d", i)},
				models.RangeDoc{ID: "generative_lipase", TestName: "Lipase"},
			))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers+2, s.Len())
	assert.Equal(t, workers, backend.saves)
	require.Len(t, backend.last, workers+2)
	ids := map[string]bool{}
	for _, d := range backend.last {
		ids[d.ID] = true
	}
	for i := 0; i < workers; i++ {
		assert.True(t, ids[fmt.Sprintf("doc_%d", i)], i)
	}
	assert.True(t, ids["generative_lipase"])
	assert.True(t, ids["seed"])
}

func TestStoreQueryPasses(t *testing.T) {
	backend := &failingBackend{docs: []models.RangeDoc{
		{ID: "1", TestName: "Free T3 (FT3)", Synonyms: []string{"ft3"}},
		{ID: "2", TestName: "FT3"},
		{ID: "3", TestName: "Total T3", Synonyms: []string{"t3"}},
	}}
	s, err := NewStore(context.Background(), backend, zap.NewNop())
	require.NoError(t, err)

	got := s.Query(" FT3 ", 5)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)

	assert.Len(t, s.Query("t3", 5), 1)
	assert.Len(t, s.Query("ft3", 1), 1)
	assert.Empty(t, s.Query("", 3))
	assert.Empty(t, s.Query("zz", 3))
}

func TestProviderLookup(t *testing.T) {
	backend := &failingBackend{docs: []models.RangeDoc{
		{ID: "crp", TestName: "CRP", Unit: "mg/L", Ranges: []models.RangeRule{{Low: f(0), High: f(10)}}, Synonyms: []string{"c reactive protein"}},
		{ID: "note", TestName: "Lipase", Unit: "U/L"},
	}}
	s, err := NewStore(context.Background(), backend, zap.NewNop())
	require.NoError(t, err)
	p := NewProvider(s)
	assert.Equal(t, "rag", p.Name())

	e, err := p.Lookup(context.Background(), providers.Query{Name: "c reactive protein"})
	require.NoError(t, err)
	assert.Equal(t, models.SourceRAG, e.Source)
	assert.Equal(t, "mg/L", e.Unit)

	e, err = p.Lookup(context.Background(), providers.Query{Key: "lipase"})
	assert.ErrorIs(t, err, providers.ErrNoRanges)
	require.NotNil(t, e)
	assert.Equal(t, "U/L", e.TargetUnit())

	_, err = p.Lookup(context.Background(), providers.Query{Name: "ferritin"})
	assert.ErrorIs(t, err, providers.ErrNotFound)
}

func TestProviderSkipsDocsWithoutRanges(t *testing.T) {
	backend := &failingBackend{docs: []models.RangeDoc{
		{ID: "note_ferritin", TestName: "Ferritin", Unit: "ng/mL"},
		{ID: "generative_ferritin", TestName: "Ferritin", Unit: "ng/mL", Ranges: []models.RangeRule{{Low: f(30), High: f(400)}}},
	}}
	s, err := NewStore(context.Background(), backend, zap.NewNop())
	require.NoError(t, err)

	e, err := NewProvider(s).Lookup(context.Background(), providers.Query{Name: "Ferritin"})
	require.NoError(t, err)
	require.Len(t, e.Ranges, 1)
	assert.Equal(t, 400.0, *e.Ranges[0].High)
}
