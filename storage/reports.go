package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"labscope/models"

	"go.uber.org/zap"
)

// ErrReportNotFound wird geliefert, wenn keine Report-ID passt.
var ErrReportNotFound = errors.New("report not found")

// ReportStore ist die Persistenz fertiger Reports.
type ReportStore interface {
	Add(ctx context.Context, r *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
	Delete(ctx context.Context, id string) error
	// List liefert Seite page (ab 1) in neuester-zuerst-Reihenfolge und die Gesamtzahl.
	List(ctx context.Context, page, pageSize int) ([]models.ReportSummary, int, error)
	// Prune löscht Reports, die vor cutoff angelegt wurden, und liefert deren Anzahl.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}

// MemoryReportStore hält Reports in einer Map mit Einfügereihenfolge.
// Mit gesetztem Pfad wird nach jeder Änderung die komplette Liste als JSON geschrieben.
type MemoryReportStore struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	order   []string
	path    string
	logger  *zap.Logger
}

// NewMemoryReportStore erstellt eine neue Instanz und lädt path, falls vorhanden. Ein leerer Pfad heißt: nur im Speicher.
func NewMemoryReportStore(path string, logger *zap.Logger) (*MemoryReportStore, error) {
	s := &MemoryReportStore{reports: map[string]*models.Report{}, path: path, logger: logger}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var list []*models.Report
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, r := range list {
		if r == nil || r.ID == "" {
			continue
		}
		if _, dup := s.reports[r.ID]; !dup {
			s.order = append(s.order, r.ID)
		}
		s.reports[r.ID] = r
	}
	logger.Info("Reports loaded", zap.String("path", path), zap.Int("count", len(s.order)))
	return s, nil
}

// Add speichert r. Ein erneutes Add derselben ID ersetzt den Report und setzt ihn ans Ende.
func (s *MemoryReportStore) Add(_ context.Context, r *models.Report) error {
	if r == nil || r.ID == "" {
		return errors.New("report without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; ok {
		s.removeLocked(r.ID)
	}
	s.reports[r.ID] = r
	s.order = append(s.order, r.ID)
	return s.flushLocked()
}

func (s *MemoryReportStore) Get(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return r, nil
}

func (s *MemoryReportStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return ErrReportNotFound
	}
	s.removeLocked(id)
	return s.flushLocked()
}

func (s *MemoryReportStore) List(_ context.Context, page, pageSize int) ([]models.ReportSummary, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.order)
	out := []models.ReportSummary{}
	start := (page - 1) * pageSize
	for i := total - 1 - start; i >= 0 && len(out) < pageSize; i-- {
		out = append(out, s.reports[s.order[i]].Summary())
	}
	return out, total, nil
}

func (s *MemoryReportStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for _, id := range s.order {
		if s.reports[id].CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.removeLocked(id)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), s.flushLocked()
}

func (s *MemoryReportStore) removeLocked(id string) {
	delete(s.reports, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// flushLocked schreibt atomar über eine temporäre Datei.
func (s *MemoryReportStore) flushLocked() error {
	if s.path == "" {
		return nil
	}
	list := make([]*models.Report, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.reports[id])
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reports: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
