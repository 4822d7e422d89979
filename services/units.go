package services

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// unitSynonyms bildet kleingeschriebene, leerzeichenfreie Schreibweisen auf die kanonische Einheit ab.
// Mikro-Zeichen sind zu diesem Zeitpunkt bereits zu "u" gefaltet.
var unitSynonyms = map[string]string{
	"ul": "/uL", "/ul": "/uL", "perul": "/uL", "/cumm": "/uL", "cells/ul": "/uL",
	"cells/cumm": "/uL", "/mm3": "/uL", "cells/mm3": "/uL",

	"k/ul": "K/uL", "x10^3/ul": "K/uL", "10^3/ul": "K/uL", "x10e3/ul": "K/uL", "10*3/ul": "K/uL",
	"thou/ul": "K/uL", "thou/cumm": "K/uL", "10^3/cumm": "K/uL", "x10^3/cumm": "K/uL",
	"k/cumm": "K/uL", "k/mm3": "K/uL", "10^9/l": "K/uL", "x10^9/l": "K/uL",

	"m/ul": "M/uL", "x10^6/ul": "M/uL", "10^6/ul": "M/uL", "x10e6/ul": "M/uL", "10*6/ul": "M/uL",
	"million/ul": "M/uL", "millions/ul": "M/uL", "mill/ul": "M/uL", "mil/ul": "M/uL",
	"million/cumm": "M/uL", "10^6/cumm": "M/uL", "x10^6/cumm": "M/uL", "m/mm3": "M/uL",
	"10^12/l": "M/uL", "x10^12/l": "M/uL",

	"fl": "fL", "pg": "pg", "%": "%",
	"g/dl": "g/dL", "gm/dl": "g/dL", "gms/dl": "g/dL", "g/l": "g/L",
	"mg/dl": "mg/dL", "mg/l": "mg/L",
	"mmol/l": "mmol/L", "umol/l": "umol/L", "nmol/l": "nmol/L", "pmol/l": "pmol/L",
	"meq/l": "mEq/L",
	"uiu/ml": "uIU/mL", "miu/l": "mIU/L", "iu/l": "IU/L", "iu/ml": "IU/mL", "u/l": "U/L",
	"ng/ml": "ng/mL", "ng/dl": "ng/dL", "ng/l": "ng/L", "pg/ml": "pg/mL",
	"ug/l": "ug/L", "mcg/l": "ug/L", "ug/ml": "ug/mL", "mcg/ml": "ug/mL", "ug/dl": "ug/dL", "mcg/dl": "ug/dL",
	"mm/hr": "mm/hr", "mm/h": "mm/hr", "mm/1sthr": "mm/hr", "mm/1sthour": "mm/hr",
	"u": "U", "iu": "IU",
}

func init() {
	// Kanonische Formen müssen auf sich selbst abbilden
	for _, canonical := range unitSynonyms {
		key := strings.ToLower(canonical)
		if _, ok := unitSynonyms[key]; !ok {
			unitSynonyms[key] = canonical
		}
	}
}

var superscriptReplacer = strings.NewReplacer(
	"¹²", "^12", "³", "^3", "⁶", "^6", "⁹", "^9", "×", "x",
)

var microReplacer = strings.NewReplacer("µ", "u", "μ", "u")

// CanonicalUnit faltet Unicode-Varianten und bekannte Synonyme auf eine Schreibweise.
// Unbekannte Einheiten werden nur gefaltet, nicht verworfen.
func CanonicalUnit(unit string) string {
	s := strings.TrimSpace(unit)
	if s == "" {
		return ""
	}
	s = superscriptReplacer.Replace(s)
	s, _, _ = transform.String(norm.NFKC, s)
	s = microReplacer.Replace(s)
	s = strings.Join(strings.Fields(s), "")
	if canonical, ok := unitSynonyms[strings.ToLower(s)]; ok {
		return canonical
	}
	return s
}

type analyteFamily string

const (
	familyAny           analyteFamily = ""
	familyGlucose       analyteFamily = "glucose"
	familyCholesterol   analyteFamily = "cholesterol"
	familyTriglycerides analyteFamily = "triglycerides"
	familyUrea          analyteFamily = "urea"
	familyBUN           analyteFamily = "bun"
	familyUricAcid      analyteFamily = "uric_acid"
	familyCreatinine    analyteFamily = "creatinine"
	familyBilirubin     analyteFamily = "bilirubin"
	familyVitaminD      analyteFamily = "vitamin_d"
	familyCalcium       analyteFamily = "calcium"
)

var (
	reBUN      = regexp.MustCompile(`\bbun\b|blood urea nitrogen`)
	reVitaminD = regexp.MustCompile(`vitamin[\s\-]*d|25[\s\-]*\(?oh\)?|calcidiol`)
)

// familyOf ordnet einen Testnamen einer Analytgruppe zu. Die Reihenfolge ist relevant:
// "uric acid" vor "urea", BUN vor Harnstoff.
func familyOf(testKey string) analyteFamily {
	k := strings.ToLower(testKey)
	switch {
	case strings.Contains(k, "triglycer"):
		return familyTriglycerides
	case strings.Contains(k, "cholesterol"), strings.Contains(k, "hdl"), strings.Contains(k, "ldl"):
		return familyCholesterol
	case strings.Contains(k, "glucose"), strings.Contains(k, "sugar"):
		return familyGlucose
	case strings.Contains(k, "uric"):
		return familyUricAcid
	case reBUN.MatchString(k):
		return familyBUN
	case strings.Contains(k, "urea"):
		return familyUrea
	case strings.Contains(k, "creatinine"):
		return familyCreatinine
	case strings.Contains(k, "bilirubin"):
		return familyBilirubin
	case reVitaminD.MatchString(k):
		return familyVitaminD
	case strings.Contains(k, "calcium"):
		return familyCalcium
	}
	return familyAny
}

type conversionKey struct {
	from, to string
	family   analyteFamily
}

// Conversion ist ein registrierter Umrechnungsfaktor: to = from * Factor.
type Conversion struct {
	From, To string
	Family   string
	Factor   float64
}

var conversions = map[conversionKey]float64{}

func registerConversion(from, to string, family analyteFamily, factor float64) {
	conversions[conversionKey{from, to, family}] = factor
	conversions[conversionKey{to, from, family}] = 1 / factor
}

func init() {
	// analytspezifisch, mmol/L und umol/L sind ohne Analyt nicht eindeutig
	registerConversion("mg/dL", "mmol/L", familyGlucose, 1/18.0)
	registerConversion("mg/dL", "mmol/L", familyCholesterol, 1/38.67)
	registerConversion("mg/dL", "mmol/L", familyTriglycerides, 1/88.57)
	registerConversion("mg/dL", "mmol/L", familyUrea, 1/6.0)
	registerConversion("mg/dL", "mmol/L", familyBUN, 1/2.8)
	registerConversion("mg/dL", "mmol/L", familyCalcium, 0.2495)
	registerConversion("mg/dL", "umol/L", familyUricAcid, 59.48)
	registerConversion("mg/dL", "umol/L", familyCreatinine, 88.4)
	registerConversion("mg/dL", "umol/L", familyBilirubin, 17.104)
	registerConversion("ng/mL", "nmol/L", familyVitaminD, 2.5)

	// analytunabhängig
	registerConversion("g/dL", "g/L", familyAny, 10)
	registerConversion("g/dL", "mg/dL", familyAny, 1000)
	registerConversion("mg/L", "mg/dL", familyAny, 0.1)
	registerConversion("ng/mL", "ug/L", familyAny, 1)
	registerConversion("ug/mL", "mg/L", familyAny, 1)
	registerConversion("pg/mL", "ng/L", familyAny, 1)
	registerConversion("uIU/mL", "mIU/L", familyAny, 1)
	registerConversion("U/L", "IU/L", familyAny, 1)
}

// RegisteredConversions liefert alle bekannten Faktoren, beide Richtungen.
func RegisteredConversions() []Conversion {
	out := make([]Conversion, 0, len(conversions))
	for k, f := range conversions {
		out = append(out, Conversion{From: k.from, To: k.to, Family: string(k.family), Factor: f})
	}
	return out
}

func lookupFactor(from, to string, family analyteFamily) (float64, bool) {
	if f, ok := conversions[conversionKey{from, to, family}]; ok {
		return f, true
	}
	f, ok := conversions[conversionKey{from, to, familyAny}]
	return f, ok
}

var countTestKeys = map[string]bool{
	"wbc": true, "wbc count": true, "total wbc count": true, "white blood cell": true,
	"white blood cells": true, "white blood cell count": true, "white blood cell (wbc)": true,
	"white blood cell (wbc) count": true, "total leucocyte count": true, "total leukocyte count": true,
	"tlc": true, "leukocytes": true,
	"rbc": true, "rbc count": true, "total rbc count": true, "red blood cell": true,
	"red blood cells": true, "red blood cell count": true, "red blood cell (rbc)": true,
	"red blood cell (rbc) count": true, "erythrocytes": true, "erythrocyte count": true,
	"platelet count": true, "platelets": true, "platelet": true, "plt": true,
	"platelet count (plt)": true,
}

var reAbsoluteCount = regexp.MustCompile(`^(absolute|abs\.?)\s+\w+|^\w+,?\s+(absolute|abs\.?)(\s+count)?$`)

type countKind int

const (
	notCount countKind = iota
	countWBC
	countRBC
	countPlatelet
	countAbsolute
)

func countKindOf(testKey string) countKind {
	k := strings.ToLower(strings.TrimSpace(testKey))
	if reAbsoluteCount.MatchString(k) {
		return countAbsolute
	}
	if !countTestKeys[k] {
		return notCount
	}
	switch {
	case strings.Contains(k, "platelet") || k == "plt":
		return countPlatelet
	case strings.Contains(k, "rbc") || strings.Contains(k, "red blood") || strings.Contains(k, "erythro"):
		return countRBC
	}
	return countWBC
}

// inferCountUnit schließt bei fehlender Einheit aus der Größenordnung auf die Skala.
func inferCountUnit(kind countKind, v float64) string {
	switch kind {
	case countWBC:
		if v >= 0.1 && v <= 30 {
			return "K/uL"
		}
	case countRBC:
		if v >= 0.1 && v <= 10 {
			return "M/uL"
		}
	case countAbsolute:
		if v >= 0.05 && v <= 30 {
			return "K/uL"
		}
	case countPlatelet:
		if v >= 10 && v <= 1000 {
			return "K/uL"
		}
	}
	return "/uL"
}

var perMicroliterScale = map[string]float64{"/uL": 1, "K/uL": 1e3, "M/uL": 1e6}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// NormalizeUnit rechnet value von unitIn in targetUnit um. Ist keine sichere Umrechnung
// bekannt, kommt (nil, unitIn) zurück. Eine fehlende Eingangseinheit gilt als Zieleinheit,
// außer bei Zellzählungen, dort entscheidet die Größenordnung.
func NormalizeUnit(testKey string, value *float64, unitIn, targetUnit string) (*float64, string) {
	in := CanonicalUnit(unitIn)
	target := CanonicalUnit(targetUnit)
	if value == nil {
		if in != "" {
			return nil, in
		}
		return nil, target
	}
	if kind := countKindOf(testKey); kind != notCount {
		if v, unit := normalizeCount(kind, *value, in, target); v != nil {
			return v, unit
		}
		return nil, strings.TrimSpace(unitIn)
	}
	if target == "" {
		return value, in
	}
	if in == "" || in == target {
		return value, target
	}
	if f, ok := lookupFactor(in, target, familyOf(testKey)); ok {
		v := roundTo(*value*f, 6)
		return &v, target
	}
	return nil, strings.TrimSpace(unitIn)
}

func normalizeCount(kind countKind, v float64, in, target string) (*float64, string) {
	if in == "" {
		in = inferCountUnit(kind, v)
	}
	if in == target {
		return &v, target
	}
	scale, ok := perMicroliterScale[in]
	if !ok {
		return nil, in
	}
	base := v * scale
	if target == "" {
		b := roundTo(base, 6)
		return &b, "/uL"
	}
	targetScale, ok := perMicroliterScale[target]
	if !ok {
		return nil, in
	}
	out := roundTo(base/targetScale, 6)
	return &out, target
}

// KnownUnit meldet, ob token eine bekannte Einheit ist, und liefert deren kanonische Form.
func KnownUnit(token string) (string, bool) {
	t := strings.Trim(token, "()[],;")
	if t == "" {
		return "", false
	}
	c := CanonicalUnit(t)
	if _, ok := unitSynonyms[strings.ToLower(c)]; ok {
		return c, true
	}
	return "", false
}
