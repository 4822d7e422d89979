package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labscope/models"
	"labscope/providers"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportSaver nimmt fertige Reports auf.
type ReportSaver interface {
	Add(ctx context.Context, r *models.Report) error
}

// PDFArchiver legt hochgeladene PDFs ab.
type PDFArchiver interface {
	ArchivePDF(ctx context.Context, reportID string, data []byte) error
}

// ignoreRowPrefixes sind Kopfzeilenfelder, die der Extraktor gelegentlich als Messwert liest.
var ignoreRowPrefixes = []string{
	"name:", "age/sex:", "patient id:", "spec #:", "received date/time:", "specimen:",
}

// AnalyzeRequest ist ein hochgeladener Befund mit Patientendaten.
type AnalyzeRequest struct {
	Data       []byte
	Filename   string
	Age        *int
	Sex        string
	ReportName string
}

// Analyzer verbindet Extraktion, Namensauflösung, Lookup, Einheiten und Klassifizierung zu einem Report.
type Analyzer struct {
	Extractor  *Extractor
	Resolver   *NameResolver
	Chain      *LookupChain
	Classifier Classifier
	// Narrator, Store und Archive sind optional.
	Narrator   Narrator
	Store      ReportSaver
	Archive    PDFArchiver
	DefaultAge int
	Version    string

	logger *zap.Logger
	now    func() time.Time
}

// NewAnalyzer erstellt eine neue Instanz des Analyzers.
func NewAnalyzer(extractor *Extractor, resolver *NameResolver, chain *LookupChain, classifier Classifier, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		Extractor:  extractor,
		Resolver:   resolver,
		Chain:      chain,
		Classifier: classifier,
		DefaultAge: 30,
		Version:    "v2.0.0",
		logger:     logger,
		now:        time.Now,
	}
}

// RowAnalysis ist das Ergebnis von AnalyzeRows.
type RowAnalysis struct {
	Results []models.ResolvedResult
	// Entries enthält den verwendeten Eintrag je Ergebnistitel.
	Entries map[string]*models.KBEntry
	// GenerativeUsed ist gesetzt, wenn die generative Stufe mindestens einmal geantwortet hat.
	GenerativeUsed bool
}

// Analyze erzeugt immer einen Report. Fehler landen in Report.Issues, nie beim Aufrufer.
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (report *models.Report) {
	id := uuid.NewString()
	report = &models.Report{
		ID:         id,
		Filename:   req.Filename,
		CreatedAt:  a.now().UTC(),
		Context:    models.ReportContext{Age: req.Age, Sex: req.Sex, ReportName: req.ReportName, ReportID: id},
		Results:    []models.ResolvedResult{},
		PerTest:    []models.PerTestNarrative{},
		Issues:     []string{},
		Disclaimer: Disclaimer,
		Status:     models.ReportNeedsReview,
		Meta:       models.ReportMeta{AnalyzerVersion: a.Version},
	}
	if report.Filename == "" {
		report.Filename = "report.pdf"
	}
	log := a.logger.With(zap.String("report_id", report.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Analysis panicked", zap.Any("panic", r))
			report.Results = []models.ResolvedResult{}
			report.PerTest = []models.PerTestNarrative{}
			report.DietPlan, report.SummaryText = nil, nil
			report.Issues = []string{fmt.Sprintf("internal_error: %v", r)}
			report.Status = models.ReportNeedsReview
		}
		analysesTotal.WithLabelValues(report.Status).Inc()
		a.persist(ctx, log, report, req.Data)
	}()

	extraction := a.Extractor.Extract(ctx, req.Data)
	report.Meta.ExtractionStrategy = extraction.Strategy
	if extraction.Err != nil {
		log.Warn("Extraction failed", zap.Error(extraction.Err))
		report.Issues = []string{"parse_error: " + extraction.Err.Error()}
		return report
	}
	report.Meta.OCRConfidence = extraction.Confidence
	log.Info("Rows extracted",
		zap.String("strategy", extraction.Strategy),
		zap.Int("rows", len(extraction.Rows)),
		zap.Bool("ocr", extraction.OCRUsed))

	age, sex := a.effectiveAge(req.Age), effectiveSex(req.Sex)
	rows := a.AnalyzeRows(ctx, extraction.Rows, age, sex)
	report.Results = rows.Results
	if len(rows.Results) == 0 {
		report.Issues = []string{"no_rows_parsed"}
		summary := FallbackSummary(age, sex, nil)
		report.SummaryText = &summary
		return report
	}
	report.Status = models.ReportAnalyzed

	var narrative *Narrative
	if a.Narrator != nil {
		n, err := a.Narrator.Narrate(ctx, NarrativeInput{Age: age, Sex: sex, Results: rows.Results, Entries: rows.Entries})
		if err != nil {
			log.Warn("Narrative unavailable, using fallback", zap.Error(err))
		} else {
			narrative = n
		}
	}
	report.Meta.GroqUsed = rows.GenerativeUsed || narrative != nil
	a.compose(report, narrative, rows, age, sex)
	return report
}

// compose füllt Zusammenfassung, Ernährungsplan und Erklärungen je Test.
func (a *Analyzer) compose(report *models.Report, narrative *Narrative, rows RowAnalysis, age int, sex string) {
	flagged := 0
	for _, r := range rows.Results {
		if r.Status.Flagged() {
			flagged++
		}
	}

	summary := FallbackSummary(age, sex, rows.Results)
	if flagged == 0 && narrative != nil && narrative.Summary != "" {
		summary = narrative.Summary
	}
	report.SummaryText = &summary

	var perTest []models.PerTestNarrative
	if narrative != nil {
		perTest = narrative.PerTest
	}
	report.PerTest = BackfillPerTest(append([]models.PerTestNarrative{}, perTest...), rows.Results, rows.Entries)

	plan := &models.DietPlan{}
	plan.Add, plan.Limit = DietAdvice(rows.Results, rows.Entries)
	if narrative != nil && narrative.DietPlan != nil {
		if len(plan.Add) == 0 && len(plan.Limit) == 0 {
			plan.Add, plan.Limit = narrative.DietPlan.Add, narrative.DietPlan.Limit
		}
		plan.Meals = narrative.DietPlan.Meals
	}
	if len(plan.Meals) == 0 && flagged > 0 {
		plan.Meals = FallbackMeals
	}
	if !plan.Empty() {
		report.DietPlan = plan
	}
}

// AnalyzeRows löst jede Zeile auf und klassifiziert sie. Zeilen ohne erkennbaren Namen werden übersprungen.
func (a *Analyzer) AnalyzeRows(ctx context.Context, rows []models.RawRow, age int, sex string) RowAnalysis {
	out := RowAnalysis{Results: []models.ResolvedResult{}, Entries: map[string]*models.KBEntry{}}
	for _, row := range rows {
		name, ok := rowName(row)
		if !ok {
			continue
		}
		keyIn := NormalizeTestName(name)
		if keyIn == "" {
			continue
		}
		q := providers.Query{Name: keyIn, Age: age, Sex: sex}
		kbKey := keyIn
		if key, found := a.Resolver.Resolve(keyIn); found {
			q.Key, kbKey = key, key
		}

		lookup := a.Chain.Lookup(ctx, q)
		if lookup.Answered("generative") {
			out.GenerativeUsed = true
		}
		entry := lookup.Entry
		target := ""
		if entry != nil {
			target = entry.TargetUnit()
		}
		value, unit := NormalizeUnit(kbKey, row.Value, row.Unit, target)
		cls := a.Classifier.Classify(entry, value, float64(age), sex)

		result := models.ResolvedResult{
			Test:         TitleFromKey(kbKey),
			Value:        value,
			Unit:         unit,
			AppliedRange: cls.AppliedRange,
			Status:       cls.Status,
			Source:       models.SourceParsed,
		}
		if row.HasLabRange() || row.ExplicitFlag != "" {
			result.LabRange = &models.LabRange{Low: row.Low, High: row.High, Bands: row.Bands, Flag: row.ExplicitFlag}
		}
		if entry != nil {
			out.Entries[result.Test] = entry
		}
		resultsTotal.WithLabelValues(string(result.Status), result.AppliedRange.Source).Inc()
		out.Results = append(out.Results, result)
	}
	return out
}

// rowName liefert den Testnamen einer Zeile. Namenlose fL-Werte im MCV-Bereich werden als MCV gelesen.
func rowName(row models.RawRow) (string, bool) {
	name := strings.TrimSpace(row.TestNameRaw)
	lc := strings.ToLower(name)
	skip := lc == "" || lc == "test" || lc == "name"
	for _, p := range ignoreRowPrefixes {
		if strings.HasPrefix(lc, p) {
			skip = true
		}
	}
	if !skip {
		return name, true
	}
	if CanonicalUnit(row.Unit) == "fL" && row.Value != nil && *row.Value >= 60 && *row.Value <= 130 {
		return "mean cell volume (mcv)", true
	}
	return "", false
}

func (a *Analyzer) effectiveAge(age *int) int {
	if age != nil {
		return *age
	}
	if a.DefaultAge > 0 {
		return a.DefaultAge
	}
	return 30
}

func effectiveSex(sex string) string {
	if s := strings.ToLower(strings.TrimSpace(sex)); s != "" {
		return s
	}
	return "any"
}

// persist speichert und archiviert; Fehler werden nur protokolliert.
func (a *Analyzer) persist(ctx context.Context, log *zap.Logger, report *models.Report, data []byte) {
	if a.Store != nil {
		if err := a.Store.Add(ctx, report); err != nil {
			log.Warn("Could not store report", zap.Error(err))
		}
	}
	if a.Archive != nil && len(data) > 0 {
		if err := a.Archive.ArchivePDF(ctx, report.ID, data); err != nil {
			log.Warn("Could not archive PDF", zap.Error(err))
		}
	}
}
