package models

import (
	"time"

	"gorm.io/datatypes"
)

// Report-Status
const (
	ReportAnalyzed    = "analyzed"
	ReportNeedsReview = "needs_review"
)

// ReportContext enthält die beim Upload übergebenen Patientendaten.
type ReportContext struct {
	Age        *int   `json:"age"`
	Sex        string `json:"sex"`
	ReportName string `json:"report_name,omitempty"`
	ReportID   string `json:"report_id"`
}

// Meal ist ein Mahlzeitvorschlag im Ernährungsplan.
type Meal struct {
	Name         string   `json:"name"`
	Ingredients  []string `json:"ingredients,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	WhyThisMeal  string   `json:"why_this_meal,omitempty"`
	ForTests     []string `json:"for_tests,omitempty"`
}

// DietPlan enthält entweder add/limit-Listen, Mahlzeiten oder beides.
type DietPlan struct {
	Add   []string `json:"add,omitempty"`
	Limit []string `json:"limit,omitempty"`
	Meals []Meal   `json:"meals,omitempty"`
}

func (d *DietPlan) Empty() bool {
	return d == nil || (len(d.Add) == 0 && len(d.Limit) == 0 && len(d.Meals) == 0)
}

// PerTestNarrative erklärt einen auffälligen Test in Alltagssprache.
type PerTestNarrative struct {
	Test       string   `json:"test"`
	Status     Status   `json:"status"`
	Value      *float64 `json:"value,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Importance string   `json:"importance,omitempty"`
	Causes     []string `json:"causes,omitempty"`
	Risks      []string `json:"risks,omitempty"`
	NextSteps  []string `json:"next_steps,omitempty"`
}

// ReportMeta enthält technische Angaben zum Analyselauf.
type ReportMeta struct {
	OCRConfidence      float64 `json:"ocr_confidence"`
	AnalyzerVersion    string  `json:"analyzer_version"`
	GroqUsed           bool    `json:"groq_used"`
	ExtractionStrategy string  `json:"extraction_strategy,omitempty"`
}

// Report ist das Ergebnis einer Befundanalyse.
type Report struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Context     ReportContext      `json:"context"`
	Results     []ResolvedResult   `json:"results"`
	DietPlan    *DietPlan          `json:"diet_plan"`
	SummaryText *string            `json:"summary_text"`
	PerTest     []PerTestNarrative `json:"per_test"`
	Disclaimer  string             `json:"disclaimer"`
	Issues      []string           `json:"issues"`
	Status      string             `json:"status"`
	Meta        ReportMeta         `json:"meta"`
}

// ReportSummary ist der Listeneintrag für die Report-Übersicht.
type ReportSummary struct {
	ID         string    `json:"id"`
	ReportName string    `json:"report_name,omitempty"`
	Age        *int      `json:"age"`
	Sex        string    `json:"sex"`
	Filename   string    `json:"filename,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Report) Summary() ReportSummary {
	return ReportSummary{
		ID:         r.ID,
		ReportName: r.Context.ReportName,
		Age:        r.Context.Age,
		Sex:        r.Context.Sex,
		Filename:   r.Filename,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}
}

// StoredReport ist die Datenbankzeile eines Reports; der Report selbst liegt als JSON vor.
type StoredReport struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ReportName string         `json:"report_name"`
	Filename   string         `json:"filename"`
	Status     string         `json:"status" gorm:"index"`
	Body       datatypes.JSON `json:"body" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (StoredReport) TableName() string {
	return "lab_reports"
}
