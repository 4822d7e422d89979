package services

import (
	"regexp"
	"strings"

	"labscope/models"
)

var reValueCell = regexp.MustCompile(`^([<>≤≥])?\s*(-?\d[\d,]*(?:\.\d+)?)(.*)$`)

// ExtractTableRows liest tabellarische Befunde: Zeilen mit mindestens drei Zellen, in denen
// nach dem Namen eine Zahl steht. Weniger als zwei solcher Zeilen gelten nicht als Tabelle.
func ExtractTableRows(lines []Line) []models.RawRow {
	var rows []models.RawRow
	tabular := 0
	for _, l := range lines {
		if len(l.Cells) >= 3 {
			tabular++
		}
	}
	if tabular < 2 {
		return nil
	}
	for _, l := range lines {
		if len(l.Cells) < 3 {
			continue
		}
		if row, ok := tableRow(l.Cells); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func tableRow(cells []Cell) (models.RawRow, bool) {
	valIdx := -1
	var m []string
	for i := 1; i < len(cells); i++ {
		m = reValueCell.FindStringSubmatch(cells[i].Text)
		if m == nil {
			continue
		}
		// "25-OH" ist Teil des Namens, "13.5g/dL" ein Wert mit Einheit
		if tail := m[3]; tail == "" || strings.HasPrefix(tail, " ") || isUnitToken(tail) {
			valIdx = i
			break
		}
	}
	if valIdx < 0 {
		return models.RawRow{}, false
	}
	names := make([]string, 0, valIdx)
	for _, c := range cells[:valIdx] {
		names = append(names, c.Text)
	}
	name := strings.TrimSpace(strings.TrimRight(strings.Join(names, " "), ":"))
	if name == "" || !startsWithLetter(name) || isNonResultLine(name) {
		return models.RawRow{}, false
	}
	value, ok := parseNumber(m[2])
	if !ok {
		return models.RawRow{}, false
	}
	row := models.RawRow{TestNameRaw: name, Value: &value}

	restParts := []string{strings.TrimSpace(m[3])}
	for _, c := range cells[valIdx+1:] {
		restParts = append(restParts, c.Text)
	}
	rest := strings.TrimSpace(strings.Join(restParts, " "))
	for _, tok := range strings.Fields(rest) {
		if u, ok := KnownUnit(tok); ok {
			row.Unit = u
			break
		}
	}
	if r, ok := findRange(rest); ok {
		applyRange(&row, r)
	} else if r, ok := findSingleSided(rest); ok {
		applyRange(&row, r)
	}
	row.ExplicitFlag = tableFlag(rest)
	if row.Unit == "" {
		row.Unit = inferUnitFromName(name, value)
	}
	return row, true
}

// tableFlag erkennt ausgeschriebene Flags und die einbuchstabigen Markierungen H/L.
func tableFlag(rest string) string {
	for _, tok := range strings.Fields(rest) {
		switch strings.Trim(tok, "*()") {
		case "H":
			return "High"
		case "L":
			return "Low"
		}
	}
	return explicitFlag(rest)
}

func isUnitToken(s string) bool {
	_, ok := KnownUnit(s)
	return ok
}

func startsWithLetter(s string) bool {
	for _, r := range s {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}
	return false
}
