package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"labscope/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOCR struct {
	pages []string
	err   error
	calls int
}

func (f *fakeOCR) Name() string { return "fake" }

func (f *fakeOCR) Recognize(_ context.Context, _ []byte) ([]string, error) {
	f.calls++
	return f.pages, f.err
}

func TestExtractCorruptPDFWithoutOCR(t *testing.T) {
	ex := NewExtractor(nil, zap.NewNop()).Extract(context.Background(), []byte("definitely not a pdf"))
	require.Error(t, ex.Err)
	assert.Empty(t, ex.Rows)
	assert.False(t, ex.OCRUsed)
}

func TestExtractFallsBackToOCRTable(t *testing.T) {
	engine := &fakeOCR{pages: []string{
		"Hemoglobin    10.5    g/dL    12.0 - 15.5\nHematocrit    41    %    36 - 46",
	}}
	ex := NewExtractor(engine, zap.NewNop()).Extract(context.Background(), []byte("%PDF-scan"))
	require.NoError(t, ex.Err)
	assert.True(t, ex.OCRUsed)
	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, "table", ex.Strategy)
	assert.Equal(t, 0.97, ex.Confidence)
	require.Len(t, ex.Rows, 2)
	assert.Equal(t, "Hemoglobin", ex.Rows[0].TestNameRaw)
}

func TestExtractLineStrategyAfterOCR(t *testing.T) {
	engine := &fakeOCR{pages: []string{"Hemoglobin 10.5 g/dL 12.0 - 15.5\nTSH 2.5 uIU/mL 0.4 - 4.0"}}
	ex := NewExtractor(engine, zap.NewNop()).Extract(context.Background(), nil)
	require.NoError(t, ex.Err)
	assert.Equal(t, "line", ex.Strategy)
	assert.Equal(t, 0.92, ex.Confidence)
	assert.Len(t, ex.Rows, 2)
}

func TestExtractOCRFailureKeepsParseError(t *testing.T) {
	engine := &fakeOCR{err: errors.New("tesseract missing")}
	ex := NewExtractor(engine, zap.NewNop()).Extract(context.Background(), []byte("garbage"))
	require.Error(t, ex.Err)
	assert.False(t, ex.OCRUsed)
}

func TestExtractCustomStrategiesFirstNonEmptyWins(t *testing.T) {
	engine := &fakeOCR{pages: []string{"Hemoglobin 10.5 g/dL"}}
	e := NewExtractor(engine, zap.NewNop())
	e.Strategies = []Strategy{
		{Name: "empty", Confidence: 1, Run: func(Source) []models.RawRow { return nil }},
		DefaultStrategies[1],
	}
	ex := e.Extract(context.Background(), nil)
	assert.Equal(t, "line", ex.Strategy)
}

func TestNewTextDocumentSplitsCells(t *testing.T) {
	doc := NewTextDocument("A  B\tC\n\nD", "E")
	require.Len(t, doc.Lines, 3)
	assert.Len(t, doc.Lines[0].Cells, 3)
	assert.Equal(t, "A B C", doc.Lines[0].Text())
	assert.Equal(t, 2, doc.Lines[2].Page)
	assert.Equal(t, "A B C\nD\nE", doc.Text())

	var nilDoc *Document
	assert.Equal(t, "", nilDoc.Text())
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestLoadDocumentGroupsCells(t *testing.T) {
	doc, err := LoadDocument(readFixture(t, "lab_table.pdf"))
	require.NoError(t, err)
	assert.Empty(t, doc.Warnings)
	require.Len(t, doc.Lines, 4)

	hb := doc.Lines[1]
	assert.Equal(t, 1, hb.Page)
	assert.Equal(t, 740.0, hb.Y)
	require.Len(t, hb.Cells, 4)
	assert.Equal(t, "Hemoglobin", hb.Cells[0].Text)
	assert.Equal(t, 200.0, hb.Cells[1].X)
	assert.Equal(t, "13.0 - 17.0", hb.Cells[3].Text)

	// kleine Lücke: Leerzeichen in derselben Zelle
	assert.Equal(t, "Fasting Glucose", doc.Lines[2].Cells[0].Text)
	require.Len(t, doc.Lines[3].Cells, 1)
	assert.Equal(t, "Comments: sample received in good condition", doc.Lines[3].Cells[0].Text)
	assert.Contains(t, doc.Text(), "Test Result Unit Reference\nHemoglobin 13.5 g/dL 13.0 - 17.0")
}

func TestExtractTextPDFUsesTable(t *testing.T) {
	engine := &fakeOCR{}
	ex := NewExtractor(engine, zap.NewNop()).Extract(context.Background(), readFixture(t, "lab_table.pdf"))
	require.NoError(t, ex.Err)
	assert.False(t, ex.OCRUsed)
	assert.Zero(t, engine.calls)
	assert.Equal(t, "table", ex.Strategy)
	assert.Equal(t, 0.97, ex.Confidence)
	require.Len(t, ex.Rows, 2)

	hb := rowByName(t, ex.Rows, "Hemoglobin")
	assert.Equal(t, 13.5, *hb.Value)
	assert.Equal(t, "g/dL", hb.Unit)
	assert.Equal(t, 13.0, *hb.Low)
	assert.Equal(t, 17.0, *hb.High)

	glu := rowByName(t, ex.Rows, "Fasting Glucose")
	assert.Equal(t, 92.0, *glu.Value)
	assert.Equal(t, "mg/dL", glu.Unit)
	assert.Equal(t, 99.0, *glu.High)
}

func TestLoadDocumentRejectsGarbage(t *testing.T) {
	doc, err := LoadDocument([]byte("nope"))
	assert.Nil(t, doc)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoText)
}
