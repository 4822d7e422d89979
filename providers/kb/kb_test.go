package kb

import (
	"context"
	"os"
	"path/filepath"
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

func TestDefaultKB(t *testing.T) {
	k, err := Default()
	require.NoError(t, err)
	assert.Greater(t, k.Len(), 20)
	assert.Equal(t, "white blood cell (wbc)", k.Keys()[0])

	for alias, want := range map[string]string{
		"hb":          "hemoglobin",
		"hgb":         "hemoglobin",
		"fbs":         "glucose (fasting)",
		"glucose":     "glucose (fasting)",
		"mcv":         "mean corpuscular volume (mcv)",
		"cholesterol": "total cholesterol",
	} {
		assert.True(t, k.Has(alias), alias)
		assert.Equal(t, want, k.Canonical(alias), alias)
	}
	assert.Equal(t, "unknown", k.Canonical("unknown"))
}

func TestNewDerivesKeysAndKeepsFirstDeclared(t *testing.T) {
	k := New([]models.KBEntry{
		{TestName: "Vitamin D (25-OH)", Unit: "ng/mL"},
		{TestName: "Hemoglobin", Aliases: []string{"hb"}},
		{TestName: "Hb", Unit: "mmol/L"},
	})
	for _, key := range []string{"vitamin d", "25-oh", "vitamin d (25 oh)"} {
		assert.Equal(t, "vitamin d (25-oh)", k.Canonical(key), key)
	}
	// Namen gehen vor Aliassen
	e, ok := k.Get("hb")
	require.True(t, ok)
	assert.Equal(t, "Hb", e.TestName)
	assert.Equal(t, models.SourceKB, e.Source)
}

func TestNewAddsPlaceholders(t *testing.T) {
	k := New([]models.KBEntry{{TestName: "Hemoglobin", Ranges: []models.RangeRule{{Low: f(12), High: f(16)}}}})
	assert.Equal(t, []string{
		"hemoglobin",
		"mean cell volume (mcv)",
		"mean cell hemoglobin (mch)",
		"mean cell hb conc (mchc)",
		"red cell dist width (rdw)",
	}, k.Keys())

	entry, err := NewProvider(k).Lookup(context.Background(), providers.Query{Name: "mcv"})
	assert.ErrorIs(t, err, providers.ErrNoRanges)
	require.NotNil(t, entry)
	assert.Equal(t, "fL", entry.TargetUnit())
}

func TestGetReturnsCopy(t *testing.T) {
	k := New([]models.KBEntry{{TestName: "TSH", Unit: "uIU/mL"}})
	e, _ := k.Get(" TSH ")
	e.Unit = "changed"
	again, _ := k.Get("tsh")
	assert.Equal(t, "uIU/mL", again.Unit)
}

func TestLoadYAMLMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sodium:
  unit: mmol/L
  aliases: [na]
  ranges:
    - low: 135
      high: 145
potassium:
  unit: mmol/L
  ranges:
    - low: 3.5
      high: 5.1
`), 0o644))

	k, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "potassium", k.Keys()[0])
	e, ok := k.Get("na")
	require.True(t, ok)
	assert.Equal(t, "sodium", e.TestName)
	require.Len(t, e.Ranges, 1)
	assert.Equal(t, 135.0, *e.Ranges[0].Low)
}

func TestLoadJSONListAndErrors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"test_name": "TSH", "unit": "uIU/mL", "ranges": [{"low": 0.4, "high": 4.0}]}]`), 0o644))
	k, err := Load(good, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, k.Has("tsh"))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"tsh": [`), 0o644))
	_, err = Load(bad, zap.NewNop())
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.json"), zap.NewNop())
	assert.Error(t, err)

	k, err = Load("", zap.NewNop())
	require.NoError(t, err)
	assert.True(t, k.Has("hemoglobin"))
}

func TestProviderLookup(t *testing.T) {
	k, err := Default()
	require.NoError(t, err)
	p := NewProvider(k)
	assert.Equal(t, "kb", p.Name())

	e, err := p.Lookup(context.Background(), providers.Query{Key: "hemoglobin"})
	require.NoError(t, err)
	assert.Equal(t, "g/dL", e.Unit)

	e, err = p.Lookup(context.Background(), providers.Query{Name: "hgb"})
	require.NoError(t, err)
	assert.Equal(t, "Hemoglobin", e.TestName)

	_, err = p.Lookup(context.Background(), providers.Query{Name: "unobtainium"})
	assert.ErrorIs(t, err, providers.ErrNotFound)
}
