package services

import (
	"regexp"
	"strings"

	"labscope/models"
)

var (
	reValueToken  = regexp.MustCompile(`^([<>≤≥])?(-?\d[\d,]*(?:\.\d+)?)([A-Za-z/%µμ^][A-Za-z0-9/%µμ^.]*)?$`)
	reVitaminD3   = regexp.MustCompile(`(?i)(vitamin[\s\-]*d3?)[^\d]*(\d+\.?\d*)\s*(ng/ml|nmol/l)`)
	reVitaminDTok = regexp.MustCompile(`(?i)25[\s\-]*\(?oh\)?`)
	reColon       = regexp.MustCompile(`:(\S)`)
	reTailStart   = regexp.MustCompile(`(?i)^(?:[\d<>≤≥(\[*]|(?:low|high|normal|abnormal|h|l)\b|(?:desirable|borderline|undesirable|optimal|near|sufficient|insufficient|deficient|toxic)\b)`)
)

// ExtractLineRows wendet die Zeilengrammatik "Name [:] Wert [Einheit] [Rest]" auf den Text an.
// Bereiche stehen in derselben oder der folgenden Zeile, Bandzeilen werden gierig eingesammelt.
func ExtractLineRows(text string) []models.RawRow {
	lines := splitLines(text)
	var rows []models.RawRow
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if len(line) < 3 || isNonResultLine(line) {
			continue
		}
		if m := reVitaminD3.FindStringSubmatch(line); m != nil {
			if v, ok := parseNumber(m[2]); ok {
				rows = append(rows, models.RawRow{TestNameRaw: "Vitamin D3", Value: &v, Unit: CanonicalUnit(m[3])})
				continue
			}
		}
		if reBandOnly.MatchString(line) {
			continue
		}
		row, tail, ok := parseResultLine(line)
		if !ok {
			if reVitaminDNm.MatchString(line) {
				if row, ok := bareVitaminD(line); ok {
					rows = append(rows, row)
				}
			}
			continue
		}
		row.ExplicitFlag = explicitFlag(tail)

		var bands []models.Band
		if b, ok := findBand(tail); ok {
			bands = append(bands, b)
		} else if r, ok := findRange(tail); ok {
			applyRange(&row, r)
		} else if r, ok := findSingleSided(tail); ok {
			applyRange(&row, r)
		} else if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if _, _, isRow := parseResultLine(next); !isRow && !reBand.MatchString(next) {
				if r, ok := findRange(next); ok {
					applyRange(&row, r)
					i++
				} else if r, ok := findSingleSided(next); ok {
					applyRange(&row, r)
					i++
				}
			}
		}
		for i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			// Zwischenüberschrift wie "Reference Interval" vor den Bändern
			if isNonResultLine(next) && i+2 < len(lines) {
				if _, ok := findBand(strings.TrimSpace(lines[i+2])); ok {
					i++
					continue
				}
			}
			b, ok := findBand(next)
			if !ok {
				break
			}
			bands = append(bands, b)
			i++
		}
		row.Bands = bands
		if row.Unit == "" && row.Value != nil {
			row.Unit = inferUnitFromName(row.TestNameRaw, *row.Value)
		}
		rows = append(rows, row)
	}
	return rows
}

// parseResultLine sucht das erste Zahlentoken hinter einem Namen, dem optional eine Einheit
// und ein plausibler Rest folgen. Liefert die Zeile und den Rest nach Wert und Einheit.
// Bandzeilen und Werte mit Vergleichsoperator sind Referenzangaben, keine Messwerte.
func parseResultLine(line string) (models.RawRow, string, bool) {
	if loc := reBand.FindStringIndex(line); loc != nil && loc[0] == 0 {
		return models.RawRow{}, "", false
	}
	tokens := strings.Fields(reColon.ReplaceAllString(line, ": $1"))
	for i := 1; i < len(tokens); i++ {
		m := reValueToken.FindStringSubmatch(tokens[i])
		if m == nil {
			continue
		}
		if m[1] != "" {
			return models.RawRow{}, "", false
		}
		name := strings.TrimSpace(strings.TrimRight(strings.Join(tokens[:i], " "), ":"))
		if !validResultName(name) {
			continue
		}
		value, ok := parseNumber(m[2])
		if !ok {
			continue
		}
		rest := tokens[i+1:]
		unit := ""
		if m[3] != "" {
			u, ok := KnownUnit(m[3])
			if !ok {
				continue
			}
			unit = u
		} else if len(rest) > 0 {
			if u, ok := KnownUnit(rest[0]); ok {
				unit, rest = u, rest[1:]
			} else if len(rest) > 1 {
				if u, ok := KnownUnit(rest[0] + rest[1]); ok {
					unit, rest = u, rest[2:]
				}
			}
		}
		tail := strings.Join(rest, " ")
		if tail != "" && !reTailStart.MatchString(tail) {
			continue
		}
		return models.RawRow{TestNameRaw: name, Value: &value, Unit: unit}, tail, true
	}
	return models.RawRow{}, "", false
}

// identityFields sind Kopfzeilenfelder mit Zahlen, die keine Messwerte sind.
var identityFields = map[string]bool{
	"age": true, "sex": true, "gender": true, "date": true, "page": true, "id": true, "phone": true,
	"mobile": true, "bed": true, "ward": true, "uhid": true, "mrn": true, "sample no": true, "report no": true,
}

// identityPrefixes schließen auch Zeilen wie "Page 1 of 2" oder "Date 12 03 2024" aus.
var identityPrefixes = map[string]bool{
	"age": true, "date": true, "page": true, "id": true, "phone": true, "mobile": true, "bed": true, "ward": true,
}

func validResultName(name string) bool {
	if name == "" || !startsWithLetter(name) || len(name) > 80 || strings.ContainsAny(name, "<>≤≥") {
		return false
	}
	first := strings.ToLower(strings.TrimRight(strings.Fields(name)[0], ":"))
	if identityFields[strings.ToLower(name)] || identityPrefixes[first] {
		return false
	}
	return !isNonResultLine(name)
}

// bareVitaminD nimmt die erste Zahl einer Vitamin-D-Zeile, nachdem das "25-OH" entfernt wurde.
func bareVitaminD(line string) (models.RawRow, bool) {
	stripped := reVitaminDTok.ReplaceAllString(line, " ")
	m := reNumber.FindString(stripped)
	if m == "" {
		return models.RawRow{}, false
	}
	v, ok := parseNumber(m)
	if !ok {
		return models.RawRow{}, false
	}
	return models.RawRow{TestNameRaw: "Vitamin D", Value: &v, Unit: vitaminDUnit(v)}, true
}
