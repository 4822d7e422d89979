package kb

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"labscope/models"
	"labscope/providers"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed default_kb.json
var defaultKB []byte

var (
	reParenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	reParenContent  = regexp.MustCompile(`\(([^)]+)\)`)
)

// placeholders werden ergänzt, wenn die Quelle die Erythrozyten-Indizes nicht kennt.
// Ohne Bereiche sorgen sie nur dafür, dass die Namen auflösbar bleiben.
var placeholders = []models.KBEntry{
	{TestName: "Mean Cell Volume (MCV)", Aliases: []string{"mcv", "mean cell volume"}, CanonicalUnit: "fL"},
	{TestName: "Mean Cell Hemoglobin (MCH)", Aliases: []string{"mch", "mean cell hemoglobin"}, CanonicalUnit: "pg"},
	{TestName: "Mean Cell Hb Conc (MCHC)", Aliases: []string{"mchc", "mean cell hb conc"}, CanonicalUnit: "g/dL"},
	{TestName: "Red Cell Dist Width (RDW)", Aliases: []string{"rdw", "red cell dist width"}, CanonicalUnit: "%"},
}

// KB ist die statische Wissensbasis. Jeder Eintrag ist unter seinem Namen,
// dem Namen ohne Klammerzusatz, den Kürzeln in Klammern und allen Aliassen erreichbar.
type KB struct {
	entries   map[string]*models.KBEntry
	canonical map[string]string
	order     []string
}

// Load liest die Wissensbasis aus path (.json, .yaml, .yml). Ein leerer Pfad lädt die eingebettete Standard-KB.
func Load(path string, logger *zap.Logger) (*KB, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kb %s: %w", path, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	k, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse kb %s: %w", path, err)
	}
	logger.Info("Knowledge base loaded", zap.String("path", path), zap.Int("entries", len(k.order)), zap.Int("keys", len(k.entries)))
	return k, nil
}

// Default lädt die eingebettete Standard-KB.
func Default() (*KB, error) {
	return Parse(defaultKB, "json")
}

// Parse akzeptiert eine Liste von Einträgen oder ein Objekt Name → Eintrag.
func Parse(data []byte, format string) (*KB, error) {
	entries, err := decodeEntries(data, format)
	if err != nil {
		return nil, err
	}
	return New(entries), nil
}

func decodeEntries(data []byte, format string) ([]models.KBEntry, error) {
	var list []models.KBEntry
	var dict map[string]models.KBEntry
	switch format {
	case "yaml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if len(node.Content) == 0 {
			return nil, nil
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			err := node.Content[0].Decode(&list)
			return list, err
		}
		if err := node.Content[0].Decode(&dict); err != nil {
			return nil, err
		}
	default:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err := json.Unmarshal(trimmed, &list)
			return list, err
		}
		if err := json.Unmarshal(trimmed, &dict); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(dict))
	for name := range dict {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := dict[name]
		if e.TestName == "" {
			e.TestName = name
		}
		list = append(list, e)
	}
	return list, nil
}

// New baut den Index über entries auf. Namen haben Vorrang vor Aliassen,
// bei Kollisionen gewinnt der zuerst deklarierte Eintrag.
func New(entries []models.KBEntry) *KB {
	k := &KB{entries: map[string]*models.KBEntry{}, canonical: map[string]string{}}
	all := make([]*models.KBEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		all = append(all, &e)
	}
	for _, e := range all {
		k.claim(strings.ToLower(strings.TrimSpace(e.TestName)), e)
	}
	for _, e := range all {
		for _, key := range aliasKeys(e) {
			k.claim(key, e)
		}
	}
	for _, p := range placeholders {
		e := p
		if k.Has(strings.ToLower(e.TestName)) || k.Has(e.Aliases[0]) {
			continue
		}
		k.claim(strings.ToLower(e.TestName), &e)
		for _, key := range aliasKeys(&e) {
			k.claim(key, &e)
		}
	}
	return k
}

func (k *KB) claim(key string, e *models.KBEntry) {
	if key == "" {
		return
	}
	if _, taken := k.entries[key]; taken {
		return
	}
	primary := strings.ToLower(strings.TrimSpace(e.TestName))
	if key == primary {
		k.order = append(k.order, primary)
	}
	k.entries[key] = e
	k.canonical[key] = primary
}

// aliasKeys leitet die Suchschlüssel eines Eintrags ab.
func aliasKeys(e *models.KBEntry) []string {
	name := strings.ToLower(strings.TrimSpace(e.TestName))
	keys := []string{}
	if stripped := strings.TrimSpace(reParenthetical.ReplaceAllString(name, "")); stripped != name {
		keys = append(keys, stripped)
	}
	for _, m := range reParenContent.FindAllStringSubmatch(name, -1) {
		keys = append(keys, strings.TrimSpace(m[1]))
	}
	keys = append(keys, strings.ReplaceAll(name, "_", " "), strings.ReplaceAll(name, "-", " "))
	for _, a := range e.Aliases {
		keys = append(keys, strings.ToLower(strings.TrimSpace(a)))
	}
	return keys
}

// Has meldet, ob key ein Name oder Alias ist.
func (k *KB) Has(key string) bool {
	_, ok := k.entries[key]
	return ok
}

// Canonical liefert den Hauptschlüssel zu key, oder key selbst.
func (k *KB) Canonical(key string) string {
	if c, ok := k.canonical[key]; ok {
		return c
	}
	return key
}

// Get liefert eine Kopie des Eintrags mit Quelle KB.
func (k *KB) Get(key string) (*models.KBEntry, bool) {
	e, ok := k.entries[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, false
	}
	c := *e
	c.Source = models.SourceKB
	return &c, true
}

// Keys liefert die Hauptschlüssel in Ladereihenfolge.
func (k *KB) Keys() []string {
	return append([]string(nil), k.order...)
}

func (k *KB) Len() int {
	return len(k.order)
}

// Provider stellt die KB als erste Stufe der Lookup-Kette bereit.
type Provider struct {
	KB *KB
}

// NewProvider erstellt eine neue Instanz des KB-Providers.
func NewProvider(k *KB) *Provider {
	return &Provider{KB: k}
}

func (p *Provider) Name() string { return "kb" }

// Lookup sucht zuerst den aufgelösten Schlüssel, dann den normalisierten Rohnamen.
// Ein Eintrag ohne verwertbare Bereiche wird zusammen mit ErrNoRanges geliefert.
func (p *Provider) Lookup(_ context.Context, q providers.Query) (*models.KBEntry, error) {
	for _, key := range []string{q.Key, q.Name} {
		if key == "" {
			continue
		}
		if e, ok := p.KB.Get(key); ok {
			if !e.HasUsableRanges() {
				return e, providers.ErrNoRanges
			}
			return e, nil
		}
	}
	return nil, providers.ErrNotFound
}
