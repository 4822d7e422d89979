package services

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanOptions steuern die Bereinigung des extrahierten Befundtexts.
type CleanOptions struct {
	// Anteil der Seiten, auf denen eine Kopf-/Fußzeile vorkommen muss, um entfernt zu werden.
	HeaderFooterThreshold float64
	// Zeilen mit weniger sichtbaren Zeichen gelten als Artefakt.
	MinArtifactLineLen int
}

// CleanStats enthält Kennzahlen zur Bereinigung.
type CleanStats struct {
	Pages          int `json:"pages"`
	HeadersRemoved int `json:"headers_removed"`
	FootersRemoved int `json:"footers_removed"`
	DroppedLines   int `json:"dropped_lines"`
}

var ligatureReplacer = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
	"\u00a0", " ",
	"–", "-",
	"—", "-",
)

var (
	rePageNumber = regexp.MustCompile(`^(?:[Pp]age\s*)?\d+(?:\s*(?:/|of)\s*\d+)?$`)
	reSpaceRuns  = regexp.MustCompile(`[\t\f\v ]{2,}`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

// CleanPages normalisiert jede Seite und entfernt wiederholte Kopf- und Fußzeilen.
// Mehrseitige Befunde wiederholen oft Patientenkopf und Laborfuß auf jeder Seite.
func CleanPages(pages []string, opts CleanOptions) ([]string, CleanStats) {
	if opts.HeaderFooterThreshold <= 0 {
		opts.HeaderFooterThreshold = 0.6
	}
	stats := CleanStats{Pages: len(pages)}
	headerCounts, footerCounts := detectHeaderFooterLines(pages)
	thresholdCount := int(math.Ceil(opts.HeaderFooterThreshold * float64(len(pages))))
	if thresholdCount < 2 {
		thresholdCount = 2
	}

	out := make([]string, 0, len(pages))
	for _, raw := range pages {
		lines := splitLines(normalizeUnicode(raw))
		header := map[string]bool{}
		footer := map[string]bool{}
		for _, l := range firstNNonEmpty(lines, 3) {
			if t := strings.TrimSpace(l); headerCounts[t] >= thresholdCount || isLikelyPageNumber(t) {
				header[t] = true
			}
		}
		for _, l := range lastNNonEmpty(lines, 3) {
			if t := strings.TrimSpace(l); footerCounts[t] >= thresholdCount || isLikelyPageNumber(t) {
				footer[t] = true
			}
		}
		kept := make([]string, 0, len(lines))
		for _, l := range lines {
			t := strings.TrimSpace(l)
			switch {
			case header[t]:
				stats.HeadersRemoved++
			case footer[t]:
				stats.FootersRemoved++
			case t != "" && countVisibleRunes(t) < opts.MinArtifactLineLen:
				stats.DroppedLines++
			default:
				kept = append(kept, l)
			}
		}
		out = append(out, collapseWhitespace(strings.Join(kept, "\n")))
	}
	return out, stats
}

// normalizeUnicode ersetzt Ligaturen und typografische Striche und führt NFC-Normalisierung durch.
func normalizeUnicode(s string) string {
	s = ligatureReplacer.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// detectHeaderFooterLines zählt die obersten und untersten Zeilen über alle Seiten.
func detectHeaderFooterLines(pages []string) (map[string]int, map[string]int) {
	headerCounts := map[string]int{}
	footerCounts := map[string]int{}
	for _, text := range pages {
		lines := splitLines(normalizeUnicode(text))
		for _, l := range firstNNonEmpty(lines, 3) {
			headerCounts[strings.TrimSpace(l)]++
		}
		for _, l := range lastNNonEmpty(lines, 3) {
			footerCounts[strings.TrimSpace(l)]++
		}
	}
	return headerCounts, footerCounts
}

func collapseWhitespace(s string) string {
	s = reSpaceRuns.ReplaceAllString(s, " ")
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	lines := splitLines(s)
	for i := range lines {
		lines[i] = strings.TrimRightFunc(lines[i], unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func countVisibleRunes(s string) int {
	count := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}

func isLikelyPageNumber(s string) bool {
	return rePageNumber.MatchString(strings.TrimSpace(s))
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func firstNNonEmpty(lines []string, n int) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
		if len(out) == n {
			break
		}
	}
	return out
}

func lastNNonEmpty(lines []string, n int) []string {
	var out []string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		out = append(out, lines[i])
		if len(out) == n {
			break
		}
	}
	return out
}
