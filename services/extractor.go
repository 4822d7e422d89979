package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"labscope/models"
	"labscope/ocr"

	"go.uber.org/zap"
)

var reCellGap = regexp.MustCompile(`\t+|\s{2,}`)

// minTextLen: darunter gilt ein PDF als Scan und wird, falls möglich, per OCR gelesen.
const minTextLen = 50

// Source ist die Eingabe einer Extraktionsstrategie.
type Source struct {
	Lines []Line
	// Text ist der bereinigte Volltext.
	Text string
}

// Strategy ist eine Stufe der Extraktion. Run ist eine reine Funktion.
type Strategy struct {
	Name       string
	Confidence float64
	Run        func(Source) []models.RawRow
}

// DefaultStrategies in Prüfreihenfolge; die erste nicht leere gewinnt.
var DefaultStrategies = []Strategy{
	{Name: "table", Confidence: 0.97, Run: func(s Source) []models.RawRow { return ExtractTableRows(s.Lines) }},
	{Name: "line", Confidence: 0.92, Run: func(s Source) []models.RawRow { return ExtractLineRows(s.Text) }},
	{Name: "fallback", Confidence: 0.0, Run: func(s Source) []models.RawRow { return ExtractFallbackRows(s.Text) }},
}

// Extraction ist das Ergebnis eines Extraktionslaufs. Err ist gesetzt, wenn das PDF nicht
// lesbar war; Rows ist dann leer. Ein leeres Ergebnis ohne Err heißt: lesbar, aber nichts erkannt.
type Extraction struct {
	Rows       []models.RawRow
	Confidence float64
	Strategy   string
	OCRUsed    bool
	Clean      CleanStats
	Warnings   []string
	Err        error
}

// Extractor liest Rohzeilen aus Befund-PDFs.
type Extractor struct {
	OCR        ocr.Engine
	Strategies []Strategy
	Clean      CleanOptions
	logger     *zap.Logger
}

// NewExtractor erstellt eine neue Instanz des Extractors. engine darf nil sein.
func NewExtractor(engine ocr.Engine, logger *zap.Logger) *Extractor {
	return &Extractor{OCR: engine, Strategies: DefaultStrategies, logger: logger}
}

// Extract läuft durch die Strategien und gibt nie einen Fehler nach außen, sondern setzt Extraction.Err.
func (e *Extractor) Extract(ctx context.Context, data []byte) (res Extraction) {
	defer func() {
		if r := recover(); r != nil {
			res = Extraction{Err: fmt.Errorf("extractor panic: %v", r)}
		}
	}()
	doc, err := LoadDocument(data)
	if err != nil && !errors.Is(err, ErrNoText) {
		res.Err = err
	}
	if doc != nil {
		res.Warnings = doc.Warnings
	}
	if len(strings.TrimSpace(doc.Text())) < minTextLen && e.OCR != nil {
		pages, oerr := e.OCR.Recognize(ctx, data)
		switch {
		case oerr != nil:
			e.logger.Warn("OCR failed", zap.String("engine", e.OCR.Name()), zap.Error(oerr))
			if res.Err == nil && doc == nil {
				res.Err = oerr
			}
		default:
			doc = NewTextDocument(pages...)
			res.OCRUsed = true
			res.Err = nil
		}
	}
	if doc == nil {
		return res
	}

	pages, stats := CleanPages(doc.PageTexts, e.Clean)
	res.Clean = stats
	src := Source{Lines: doc.Lines, Text: strings.Join(pages, "\n")}
	for _, s := range e.Strategies {
		rows := s.Run(src)
		if len(rows) == 0 {
			continue
		}
		res.Rows, res.Confidence, res.Strategy = rows, s.Confidence, s.Name
		break
	}
	if res.Strategy != "" {
		extractionsTotal.WithLabelValues(res.Strategy).Inc()
	} else {
		extractionsTotal.WithLabelValues("none").Inc()
	}
	return res
}
