package rag

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"labscope/models"

	"go.uber.org/zap"
)

//go:embed seed_docs.json
var seedDocs []byte

// Backend persistiert die Dokumente des Stores.
type Backend interface {
	Load(ctx context.Context) ([]models.RangeDoc, error)
	// Save erhält den vollständigen Bestand und die eben geschriebenen Dokumente.
	Save(ctx context.Context, all, changed []models.RangeDoc) error
}

// FileBackend hält alle Dokumente als docs.json in einem Verzeichnis.
type FileBackend struct {
	Dir string
}

func (f FileBackend) path() string {
	return filepath.Join(f.Dir, "docs.json")
}

func (f FileBackend) Load(_ context.Context) ([]models.RangeDoc, error) {
	data, err := os.ReadFile(f.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var docs []models.RangeDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path(), err)
	}
	return docs, nil
}

// Save schreibt über eine temporäre Datei, damit ein Absturz keine halbe docs.json hinterlässt.
func (f FileBackend) Save(_ context.Context, all, _ []models.RangeDoc) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.Dir, "docs-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path())
}

// Store ist der Retrieval-Store für Referenzbereiche. Schreibzugriffe sind serialisiert,
// jeder Schreibvorgang wird sofort persistiert.
type Store struct {
	mu      sync.RWMutex
	docs    []models.RangeDoc
	index   map[string]int
	backend Backend
	logger  *zap.Logger
}

// NewStore lädt den Bestand aus backend. Ein leerer Bestand wird mit dem eingebetteten Seed befüllt.
func NewStore(ctx context.Context, backend Backend, logger *zap.Logger) (*Store, error) {
	s := &Store{index: map[string]int{}, backend: backend, logger: logger}
	docs, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load range docs: %w", err)
	}
	for _, d := range docs {
		s.put(d)
	}
	if len(s.docs) == 0 {
		var seed []models.RangeDoc
		if err := json.Unmarshal(seedDocs, &seed); err != nil {
			return nil, fmt.Errorf("decode seed docs: %w", err)
		}
		if err := s.Add(ctx, seed...); err != nil {
			logger.Warn("Seeding range docs failed", zap.Error(err))
		}
	}
	logger.Info("Range doc store ready", zap.Int("docs", len(s.docs)))
	return s, nil
}

func (s *Store) put(d models.RangeDoc) {
	if i, ok := s.index[d.ID]; ok {
		s.docs[i] = d
		return
	}
	s.index[d.ID] = len(s.docs)
	s.docs = append(s.docs, d)
}

// Add fügt Dokumente hinzu oder ersetzt sie anhand der ID und persistiert den Bestand.
// Der Speicherstand bleibt auch bei Persistenzfehlern erhalten.
func (s *Store) Add(ctx context.Context, docs ...models.RangeDoc) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.put(d)
	}
	all := append([]models.RangeDoc(nil), s.docs...)
	if err := s.backend.Save(ctx, all, docs); err != nil {
		return fmt.Errorf("persist range docs: %w", err)
	}
	return nil
}

// Query sucht in drei Durchgängen: exakter Name, exaktes Synonym, Teilstring im Namen.
func (s *Store) Query(name string, topK int) []models.RangeDoc {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return nil
	}
	if topK <= 0 {
		topK = 3
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RangeDoc
	seen := map[string]bool{}
	take := func(match func(models.RangeDoc) bool) {
		for _, d := range s.docs {
			if len(out) >= topK {
				return
			}
			if !seen[d.ID] && match(d) {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}
	take(func(d models.RangeDoc) bool { return strings.ToLower(d.TestName) == q })
	take(func(d models.RangeDoc) bool {
		for _, syn := range d.Synonyms {
			if strings.ToLower(syn) == q {
				return true
			}
		}
		return false
	})
	if len(q) >= 3 {
		take(func(d models.RangeDoc) bool { return strings.Contains(strings.ToLower(d.TestName), q) })
	}
	return out
}

// Get liefert ein Dokument anhand der ID.
func (s *Store) Get(id string) (models.RangeDoc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.RangeDoc{}, false
	}
	return s.docs[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
