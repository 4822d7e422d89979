package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labscope/config"
	"labscope/models"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenPostgres öffnet die Datenbank und migriert die Tabellen für Reports und Referenzdokumente.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&models.StoredReport{}, &models.RangeDocRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

// GormReportStore speichert Reports als JSON in Postgres. Die Reihenfolge ergibt sich aus created_at.
type GormReportStore struct {
	db *gorm.DB
}

// NewGormReportStore erstellt eine neue Instanz des GormReportStore.
func NewGormReportStore(db *gorm.DB) *GormReportStore {
	return &GormReportStore{db: db}
}

func (s *GormReportStore) Add(ctx context.Context, r *models.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	row := models.StoredReport{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		ReportName: r.Context.ReportName,
		Filename:   r.Filename,
		Status:     r.Status,
		Body:       datatypes.JSON(body),
	}
	// erneutes Add verschiebt den Report ans Ende wie im Speicher-Store
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"created_at": gorm.Expr("NOW()"), "updated_at": gorm.Expr("NOW()"), "report_name": row.ReportName, "filename": row.Filename, "status": row.Status, "body": row.Body}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store report %s: %w", r.ID, err)
	}
	return nil
}

func (s *GormReportStore) Get(ctx context.Context, id string) (*models.Report, error) {
	var row models.StoredReport
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}
	var r models.Report
	if err := json.Unmarshal(row.Body, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}

func (s *GormReportStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.StoredReport{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete report %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *GormReportStore) List(ctx context.Context, page, pageSize int) ([]models.ReportSummary, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.StoredReport{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}
	var rows []models.StoredReport
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	out := make([]models.ReportSummary, 0, len(rows))
	for _, row := range rows {
		var r models.Report
		if err := json.Unmarshal(row.Body, &r); err != nil {
			continue
		}
		out = append(out, r.Summary())
	}
	return out, int(total), nil
}

func (s *GormReportStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.StoredReport{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune reports: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// GormRangeDocBackend persistiert den Retrieval-Store in Postgres. Save schreibt nur die geänderten Dokumente.
type GormRangeDocBackend struct {
	db *gorm.DB
}

// NewGormRangeDocBackend erstellt eine neue Instanz des GormRangeDocBackend.
func NewGormRangeDocBackend(db *gorm.DB) *GormRangeDocBackend {
	return &GormRangeDocBackend{db: db}
}

func (b *GormRangeDocBackend) Load(ctx context.Context) ([]models.RangeDoc, error) {
	var rows []models.RangeDocRecord
	if err := b.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load range docs: %w", err)
	}
	docs := make([]models.RangeDoc, 0, len(rows))
	for _, r := range rows {
		d := models.RangeDoc{ID: r.ID, TestName: r.TestName, Unit: r.Unit, Source: r.Source, Notes: r.Notes}
		if err := decodeJSON(r.Synonyms, &d.Synonyms); err != nil {
			return nil, fmt.Errorf("decode synonyms of %s: %w", r.ID, err)
		}
		if err := decodeJSON(r.Ranges, &d.Ranges); err != nil {
			return nil, fmt.Errorf("decode ranges of %s: %w", r.ID, err)
		}
		if err := decodeJSON(r.Advice, &d.Advice); err != nil {
			return nil, fmt.Errorf("decode advice of %s: %w", r.ID, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (b *GormRangeDocBackend) Save(ctx context.Context, _, changed []models.RangeDoc) error {
	if len(changed) == 0 {
		return nil
	}
	rows := make([]models.RangeDocRecord, 0, len(changed))
	for _, d := range changed {
		synonyms, _ := json.Marshal(d.Synonyms)
		ranges, _ := json.Marshal(d.Ranges)
		advice, _ := json.Marshal(d.Advice)
		rows = append(rows, models.RangeDocRecord{
			ID: d.ID, TestName: d.TestName, Unit: d.Unit, Source: d.Source, Notes: d.Notes,
			Synonyms: datatypes.JSON(synonyms), Ranges: datatypes.JSON(ranges), Advice: datatypes.JSON(advice),
		})
	}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "test_name", "unit", "source", "notes", "synonyms", "ranges", "advice"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert range docs: %w", err)
	}
	return nil
}

func decodeJSON(raw datatypes.JSON, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
