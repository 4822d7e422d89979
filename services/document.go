package services

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Cell ist ein zusammenhängender Textblock innerhalb einer Zeile.
type Cell struct {
	X    float64
	Text string
}

// Line ist eine Textzeile einer Seite, zerlegt in Zellen entlang großer horizontaler Lücken.
type Line struct {
	Page  int
	Y     float64
	Cells []Cell
}

// Text verbindet die Zellen mit einem Leerzeichen.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Cells))
	for _, c := range l.Cells {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}

// Document ist der aus einem PDF gelesene Inhalt.
type Document struct {
	Lines []Line
	// PageTexts enthält den Text je Seite, eine Zeile pro Line.
	PageTexts []string
	// Warnings sammelt Seiten, die nicht gelesen werden konnten.
	Warnings []string
}

// Text liefert den gesamten Text aller Seiten.
func (d *Document) Text() string {
	if d == nil {
		return ""
	}
	return strings.Join(d.PageTexts, "\n")
}

// NewTextDocument baut ein Dokument aus reinem Text, etwa aus OCR. Zellen entstehen an
// Läufen von mindestens zwei Leerzeichen oder Tabs.
func NewTextDocument(pages ...string) *Document {
	doc := &Document{}
	for i, page := range pages {
		var lines []string
		for _, raw := range splitLines(page) {
			cells := splitCells(raw)
			if len(cells) == 0 {
				continue
			}
			line := Line{Page: i + 1, Cells: cells}
			doc.Lines = append(doc.Lines, line)
			lines = append(lines, line.Text())
		}
		doc.PageTexts = append(doc.PageTexts, strings.Join(lines, "\n"))
	}
	return doc
}

func splitCells(raw string) []Cell {
	var cells []Cell
	col := 0
	for _, part := range reCellGap.Split(raw, -1) {
		if t := strings.TrimSpace(part); t != "" {
			cells = append(cells, Cell{X: float64(col), Text: t})
			col++
		}
	}
	return cells
}

// ErrNoText wird geliefert, wenn das PDF lesbar ist, aber keinen Text enthält (z.B. Scan).
var ErrNoText = errors.New("pdf contains no extractable text")

// LoadDocument liest ein PDF aus dem Speicher. Panics des PDF-Readers bei beschädigten
// Dateien werden in Fehler umgewandelt; einzelne defekte Seiten werden übersprungen.
func LoadDocument(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	doc = &Document{}
	for i := 1; i <= reader.NumPage(); i++ {
		lines, perr := readPage(reader, i)
		if perr != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("page %d: %v", i, perr))
			continue
		}
		texts := make([]string, 0, len(lines))
		for _, l := range lines {
			texts = append(texts, l.Text())
		}
		doc.Lines = append(doc.Lines, lines...)
		doc.PageTexts = append(doc.PageTexts, strings.Join(texts, "\n"))
	}
	if len(doc.Lines) == 0 {
		return doc, ErrNoText
	}
	return doc, nil
}

func readPage(reader *pdf.Reader, n int) (lines []Line, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	p := reader.Page(n)
	if p.V.IsNull() {
		return nil, nil
	}
	return groupTextsIntoLines(p.Content().Text, n), nil
}

const rowTolerance = 2.0

// groupTextsIntoLines ordnet Textfragmente nach Y-Position zu Zeilen (oben nach unten)
// und trennt innerhalb einer Zeile Zellen an Lücken größer als die Schriftgröße.
func groupTextsIntoLines(texts []pdf.Text, page int) []Line {
	type row struct {
		y     float64
		texts []pdf.Text
	}
	var rows []*row
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		var target *row
		for _, r := range rows {
			if abs(r.y-t.Y) < rowTolerance {
				target = r
				break
			}
		}
		if target == nil {
			target = &row{y: t.Y}
			rows = append(rows, target)
		}
		target.texts = append(target.texts, t)
	}
	// PDF-Koordinaten wachsen nach oben
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].y > rows[j].y })

	lines := make([]Line, 0, len(rows))
	for _, r := range rows {
		sort.SliceStable(r.texts, func(i, j int) bool { return r.texts[i].X < r.texts[j].X })
		if cells := buildCells(r.texts); len(cells) > 0 {
			lines = append(lines, Line{Page: page, Y: r.y, Cells: cells})
		}
	}
	return lines
}

func buildCells(texts []pdf.Text) []Cell {
	var cells []Cell
	var cur strings.Builder
	var curX, prevEnd float64
	pendingSpace := false
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			cells = append(cells, Cell{X: curX, Text: t})
		}
		cur.Reset()
	}
	for i, t := range texts {
		if strings.TrimSpace(t.S) == "" {
			pendingSpace = true
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		gap := t.X - prevEnd
		switch {
		case i == 0 || cur.Len() == 0:
			flush()
			curX = t.X
		case gap > 1.5*size:
			flush()
			curX = t.X
		case pendingSpace || gap > 0.2*size:
			cur.WriteByte(' ')
		}
		cur.WriteString(t.S)
		pendingSpace = false
		prevEnd = t.X + t.W
	}
	flush()
	return cells
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
