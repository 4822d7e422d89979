package services

import (
	"regexp"
	"strconv"
	"strings"

	"labscope/models"
)

// nonResultKeywords markieren Zeilen, die keine Messwerte sind: Kopfzeilen, Methodik, Patientendaten.
var nonResultKeywords = []string{
	"interpretation", "homeostasis", "the formation of", "used in diagnosis", "please correlate clinically",
	"test performed by", "method", "reference", "consultant", "specimen", "investigation", "reporting date",
	"sample collection", "patient name", "patient id", "op id", "lab id", "age/gender", "clinical biochemistry",
	"haematology", "lipid profile", "renal function test", "thyroid profile", "liver function test",
	"differential leukocyte count", "notes --", "end of report", "address:",
}

func isNonResultLine(line string) bool {
	lc := strings.ToLower(line)
	for _, kw := range nonResultKeywords {
		if strings.Contains(lc, kw) {
			return true
		}
	}
	return false
}

var (
	reRange      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*([A-Za-z/%µμ^0-9]*)`)
	reSingleSide = regexp.MustCompile(`([<>≤≥])\s*=?\s*(\d+(?:\.\d+)?)\s*([A-Za-z/%µμ^0-9]*)`)
	reBand       = regexp.MustCompile(`(?i)\b(desirable|borderline(?:\s+high|\s+low)?|undesirable|near\s+optimal|optimal|sufficient|insufficient|deficient|toxic|high|low|normal)\s*(?:level\s*:?|:)\s*([<>≤≥]=?)?\s*(\d+(?:\.\d+)?)\s*(?:-\s*(\d+(?:\.\d+)?))?\s*([A-Za-z/%µμ]+)?`)
	reFlag       = regexp.MustCompile(`(?i)\b(low|high|normal)\b`)
	reBandOnly   = regexp.MustCompile(`(?i)^(sufficient|deficient|insufficient|normal|low|high)[\s\d\-]+$`)
	reNumber     = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)
	reVitaminDNm = regexp.MustCompile(`(?i)vitamin[\s\-]*d|25[\s\-]*\(?oh\)?`)
)

// parseNumber liest eine Zahl mit optionalen Tausendertrennzeichen.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// labRange ist ein im Befund gedruckter Bereich samt optionaler Einheit.
type labRange struct {
	low, high *float64
	unit      string
}

// findRange sucht "low - high [unit]" in s.
func findRange(s string) (labRange, bool) {
	m := reRange.FindStringSubmatch(s)
	if m == nil {
		return labRange{}, false
	}
	lo, ok1 := parseNumber(m[1])
	hi, ok2 := parseNumber(m[2])
	if !ok1 || !ok2 || lo > hi {
		return labRange{}, false
	}
	r := labRange{low: &lo, high: &hi}
	if u, ok := KnownUnit(m[3]); ok {
		r.unit = u
	}
	return r, true
}

// findSingleSided liest "< x" bzw. "> x"; < und ≤ setzen die Obergrenze, > und ≥ die Untergrenze.
func findSingleSided(s string) (labRange, bool) {
	m := reSingleSide.FindStringSubmatch(s)
	if m == nil {
		return labRange{}, false
	}
	v, ok := parseNumber(m[2])
	if !ok {
		return labRange{}, false
	}
	var r labRange
	switch m[1] {
	case "<", "≤":
		r.high = &v
	default:
		r.low = &v
	}
	if u, ok := KnownUnit(m[3]); ok {
		r.unit = u
	}
	return r, true
}

// findBand liest eine Bandzeile wie "Desirable Level : < 200 mg/dL".
func findBand(s string) (models.Band, bool) {
	m := reBand.FindStringSubmatch(s)
	if m == nil {
		return models.Band{}, false
	}
	b := models.Band{Label: titleWord(strings.Join(strings.Fields(m[1]), " "))}
	first, ok := parseNumber(m[3])
	if !ok {
		return models.Band{}, false
	}
	switch {
	case m[4] != "":
		second, ok := parseNumber(m[4])
		if !ok {
			return models.Band{}, false
		}
		b.Min, b.Max = &first, &second
	case strings.HasPrefix(m[2], "<") || strings.HasPrefix(m[2], "≤"):
		b.Max = &first
	default:
		b.Min = &first
	}
	if u, ok := KnownUnit(m[5]); ok {
		b.Unit = u
	}
	return b, true
}

func explicitFlag(s string) string {
	if m := reFlag.FindStringSubmatch(s); m != nil {
		return titleWord(m[1])
	}
	return ""
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

// inferUnitFromName ergänzt eine fehlende Einheit für Tests, deren Einheit aus Name und Wert folgt.
func inferUnitFromName(name string, v float64) string {
	switch lc := strings.ToLower(strings.TrimSpace(name)); lc {
	case "hemoglobin", "haemoglobin", "hb", "hgb", "hemoglobin (hgb)", "hemoglobin (hb/hgb)":
		return "g/dL"
	case "red blood cell", "rbc", "red blood cell (rbc)", "red blood cell count":
		return "M/uL"
	default:
		if reVitaminDNm.MatchString(lc) {
			return vitaminDUnit(v)
		}
	}
	return ""
}

// vitaminDUnit schließt aus der Größenordnung auf ng/mL oder nmol/L.
func vitaminDUnit(v float64) string {
	switch {
	case v >= 5 && v <= 150:
		return "ng/mL"
	case v >= 12 && v <= 375:
		return "nmol/L"
	}
	return ""
}

func applyRange(row *models.RawRow, r labRange) {
	row.Low, row.High = r.low, r.high
	if row.Unit == "" && r.unit != "" {
		row.Unit = r.unit
	}
}
