package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalUnit(t *testing.T) {
	cases := map[string]string{
		"g/dl":       "g/dL",
		"µL":         "/uL",
		"x10³/µL":    "K/uL",
		"10^9/L":     "K/uL",
		"million/ul": "M/uL",
		"mg/ dL":     "mg/dL",
		"furlongs":   "furlongs",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalUnit(in), in)
	}
}

func TestKnownUnit(t *testing.T) {
	u, ok := KnownUnit("(mg/dL)")
	assert.True(t, ok)
	assert.Equal(t, "mg/dL", u)

	_, ok = KnownUnit("Hemoglobin")
	assert.False(t, ok)
}

func TestNormalizeUnitAnalyteSpecific(t *testing.T) {
	v, unit := NormalizeUnit("glucose (fasting)", f(5.5), "mmol/L", "mg/dL")
	require.NotNil(t, v)
	assert.Equal(t, "mg/dL", unit)
	assert.InDelta(t, 99.0, *v, 1e-6)

	v, unit = NormalizeUnit("creatinine", f(88.4), "umol/L", "mg/dL")
	require.NotNil(t, v)
	assert.Equal(t, "mg/dL", unit)
	assert.InDelta(t, 1.0, *v, 1e-6)

	v, unit = NormalizeUnit("vitamin d (25-oh)", f(75), "nmol/L", "ng/mL")
	require.NotNil(t, v)
	assert.InDelta(t, 30.0, *v, 1e-6)
	assert.Equal(t, "ng/mL", unit)
}

func TestNormalizeUnitNeedsFamilyForMolar(t *testing.T) {
	v, unit := NormalizeUnit("sodium", f(140), "mmol/L", "mg/dL")
	assert.Nil(t, v)
	assert.Equal(t, "mmol/L", unit)

	// ohne Umrechnung bleibt die Einheit so, wie sie im Befund stand
	v, unit = NormalizeUnit("sodium", f(140), " µmol/l", "mg/dL")
	assert.Nil(t, v)
	assert.Equal(t, "µmol/l", unit)
}

func TestNormalizeUnitGeneric(t *testing.T) {
	v, unit := NormalizeUnit("hemoglobin", f(135), "g/L", "g/dL")
	require.NotNil(t, v)
	assert.InDelta(t, 13.5, *v, 1e-9)
	assert.Equal(t, "g/dL", unit)
}

func TestNormalizeUnitBlankMeansTarget(t *testing.T) {
	v, unit := NormalizeUnit("hemoglobin", f(13.5), "", "g/dL")
	require.NotNil(t, v)
	assert.Equal(t, 13.5, *v)
	assert.Equal(t, "g/dL", unit)
}

func TestNormalizeUnitNilValue(t *testing.T) {
	v, unit := NormalizeUnit("hemoglobin", nil, "", "g/dL")
	assert.Nil(t, v)
	assert.Equal(t, "g/dL", unit)
}

func TestNormalizeUnitCounts(t *testing.T) {
	// ohne Einheit entscheidet die Größenordnung
	v, unit := NormalizeUnit("wbc", f(7.2), "", "K/uL")
	require.NotNil(t, v)
	assert.Equal(t, 7.2, *v)
	assert.Equal(t, "K/uL", unit)

	v, unit = NormalizeUnit("wbc", f(7200), "", "K/uL")
	require.NotNil(t, v)
	assert.InDelta(t, 7.2, *v, 1e-9)
	assert.Equal(t, "K/uL", unit)

	v, unit = NormalizeUnit("platelet count", f(250000), "/cumm", "K/uL")
	require.NotNil(t, v)
	assert.InDelta(t, 250.0, *v, 1e-9)
	assert.Equal(t, "K/uL", unit)

	v, unit = NormalizeUnit("absolute neutrophils", f(4.1), "10^9/L", "K/uL")
	require.NotNil(t, v)
	assert.Equal(t, 4.1, *v)
	assert.Equal(t, "K/uL", unit)
}

func TestNormalizeUnitUnknownConversion(t *testing.T) {
	v, unit := NormalizeUnit("tsh", f(2), "furlongs", "uIU/mL")
	assert.Nil(t, v)
	assert.Equal(t, "furlongs", unit)
}

func TestRegisteredConversionsAreSymmetric(t *testing.T) {
	all := RegisteredConversions()
	require.NotEmpty(t, all)
	for _, c := range all {
		back, ok := lookupFactor(c.To, c.From, analyteFamily(c.Family))
		require.True(t, ok, "%s -> %s (%s)", c.To, c.From, c.Family)
		assert.InDelta(t, 1.0, c.Factor*back, 1e-9)
	}
}
