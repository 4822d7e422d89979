// Package ocr kapselt externe Texterkennung für gescannte Befunde.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrNoText wird geliefert, wenn die Erkennung auf keiner Seite Text gefunden hat.
var ErrNoText = errors.New("ocr produced no text")

// Engine wandelt PDF-Bytes in Text je Seite um.
type Engine interface {
	Recognize(ctx context.Context, pdf []byte) ([]string, error)
	Name() string
}

// New liefert die konfigurierte Engine oder nil für "none".
func New(name string, logger *zap.Logger) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "tesseract":
		return NewTesseractEngine(logger), nil
	}
	return nil, fmt.Errorf("unknown ocr engine %q", name)
}

// TesseractEngine rendert Seiten mit pdftoppm und liest sie mit tesseract.
type TesseractEngine struct {
	Language string
	DPI      int
	logger   *zap.Logger
}

// NewTesseractEngine erstellt eine neue Instanz der TesseractEngine.
func NewTesseractEngine(logger *zap.Logger) *TesseractEngine {
	return &TesseractEngine{Language: "eng", DPI: 300, logger: logger}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

var rePageImage = regexp.MustCompile(`-(\d+)\.png$`)

// Recognize schreibt das PDF in ein temporäres Verzeichnis, rendert jede Seite als PNG
// und erkennt sie einzeln. Fehlgeschlagene Seiten werden übersprungen.
func (t *TesseractEngine) Recognize(ctx context.Context, pdf []byte) ([]string, error) {
	for _, bin := range []string{"pdftoppm", "tesseract"} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("%s not installed: %w", bin, err)
		}
	}
	tmpDir, err := os.MkdirTemp("", "labscope-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	prefix := filepath.Join(tmpDir, "page")
	render := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", strconv.Itoa(t.DPI), pdfPath, prefix)
	if out, err := render.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	images, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(images) == 0 {
		return nil, fmt.Errorf("no page images rendered")
	}
	sortByPage(images)

	pages := make([]string, 0, len(images))
	found := false
	for i, img := range images {
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, "tesseract", img, "stdout", "-l", t.Language, "--psm", "6")
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Warn("Tesseract failed on page", zap.Int("page", i+1), zap.Error(err))
			pages = append(pages, "")
			continue
		}
		text := strings.TrimSpace(out.String())
		found = found || text != ""
		pages = append(pages, text)
	}
	if !found {
		return nil, ErrNoText
	}
	return pages, nil
}

func sortByPage(files []string) {
	num := func(p string) int {
		if m := rePageImage.FindStringSubmatch(p); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
		return 0
	}
	sort.SliceStable(files, func(i, j int) bool { return num(files[i]) < num(files[j]) })
}
