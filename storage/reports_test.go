package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labscope/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var day0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func report(id string, daysOld int) *models.Report {
	return &models.Report{
		ID:        id,
		Filename:  id + ".pdf",
		CreatedAt: day0.AddDate(0, 0, -daysOld),
		Context:   models.ReportContext{Sex: "female", ReportName: "checkup " + id},
		Status:    models.ReportAnalyzed,
	}
}

func ids(list []models.ReportSummary) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryReportStore("", zap.NewNop())
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Add(ctx, report(fmt.Sprintf("r%d", i), 0)))
	}

	page, total, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"r5", "r4"}, ids(page))

	page, _, _ = s.List(ctx, 3, 2)
	assert.Equal(t, []string{"r1"}, ids(page))

	page, _, _ = s.List(ctx, 4, 2)
	assert.Empty(t, page)
	assert.NotNil(t, page)

	page, _, _ = s.List(ctx, 0, 0)
	assert.Len(t, page, 5)
	assert.Equal(t, "checkup r5", page[0].ReportName)

	// erneutes Add rückt den Report nach vorn
	require.NoError(t, s.Add(ctx, report("r2", 0)))
	page, total, _ = s.List(ctx, 1, 1)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"r2"}, ids(page))
}

func TestMemoryStoreGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := NewMemoryReportStore("", zap.NewNop())
	require.NoError(t, s.Add(ctx, report("a", 0)))
	assert.Error(t, s.Add(ctx, &models.Report{}))

	r, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", r.Filename)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrReportNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrReportNotFound)
}

func TestMemoryStorePrune(t *testing.T) {
	ctx := context.Background()
	s, _ := NewMemoryReportStore("", zap.NewNop())
	require.NoError(t, s.Add(ctx, report("old", 40)))
	require.NoError(t, s.Add(ctx, report("recent", 2)))
	require.NoError(t, s.Add(ctx, report("older", 31)))

	n, err := s.Prune(ctx, day0.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	page, total, _ := s.List(ctx, 1, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"recent"}, ids(page))

	n, err = s.Prune(ctx, day0.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStorePersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "reports.json")
	s, err := NewMemoryReportStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, report("a", 1)))
	require.NoError(t, s.Add(ctx, report("b", 0)))
	require.NoError(t, s.Delete(ctx, "a"))

	reopened, err := NewMemoryReportStore(path, zap.NewNop())
	require.NoError(t, err)
	page, total, _ := reopened.List(ctx, 1, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"b"}, ids(page))
	r, err := reopened.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, day0.Equal(r.CreatedAt))
}

func TestMemoryStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err := NewMemoryReportStore(path, zap.NewNop())
	assert.Error(t, err)
}
