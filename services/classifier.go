package services

import (
	"strings"

	"labscope/models"
)

// plausibleBounds fängt OCR-Fehler wie verrutschte Dezimalpunkte ab.
// Werte außerhalb gehen in die manuelle Prüfung statt in die Klassifizierung.
var plausibleBounds = map[string][2]float64{
	"sodium":            {100, 180},
	"potassium":         {1.5, 9.0},
	"bicarbonate (co2)": {5, 50},
	"hemoglobin":        {1, 25},
}

// Classifier ordnet einen normalisierten Wert dem Referenzbereich eines Eintrags zu.
// Mit BorderlineTolerance > 0 werden Werte knapp außerhalb als borderline_low/high markiert.
type Classifier struct {
	BorderlineTolerance float64
}

// Classification ist das Ergebnis von Classify.
type Classification struct {
	AppliedRange models.AppliedRange
	Status       models.Status
}

// Classify wählt die erste passende feste Regel, sonst einen gestuften Bereich.
// Ohne Eintrag, Wert oder passende Regel lautet der Status needs_review.
func (c Classifier) Classify(entry *models.KBEntry, value *float64, age float64, sex string) Classification {
	if entry == nil {
		return needsReview(models.NoteNotInKB, "")
	}
	unit := entry.TargetUnit()
	source := entry.Source
	if source == "" {
		source = models.SourceKB
	}
	if value != nil {
		if b, ok := plausibleBounds[strings.ToLower(entry.TestName)]; ok && (*value < b[0] || *value > b[1]) {
			return needsReview(models.NoteImplausible, unit)
		}
	}

	for _, rule := range entry.Ranges {
		if !rule.IsFixed() || !rule.Applies.MatchesSex(sex) || !rule.Applies.MatchesAge(age) {
			continue
		}
		applied := models.AppliedRange{Low: rule.Low, High: rule.High, Unit: unit, Source: source}
		if value == nil {
			applied.Note = models.NoteNoValue
			return Classification{AppliedRange: applied, Status: models.StatusNeedsReview}
		}
		return Classification{AppliedRange: applied, Status: c.fixedStatus(*value, rule.Low, rule.High)}
	}

	for _, rule := range entry.Ranges {
		if len(rule.Bands) == 0 || !rule.Applies.MatchesSex(sex) {
			continue
		}
		if value == nil {
			return needsReview(models.NoteNoValue, unit)
		}
		for _, band := range rule.Bands {
			if band.Contains(*value) {
				return Classification{
					AppliedRange: models.AppliedRange{Low: band.Min, High: band.Max, Unit: unit, Source: source, Note: models.NoteBanded},
					Status:       bandStatus(band.Label),
				}
			}
		}
		return needsReview(models.NoteBandNoMatch, unit)
	}

	return needsReview(models.NoteNoApplicableRange, unit)
}

func needsReview(note, unit string) Classification {
	return Classification{
		AppliedRange: models.AppliedRange{Unit: unit, Source: models.SourceNone, Note: note},
		Status:       models.StatusNeedsReview,
	}
}

func (c Classifier) fixedStatus(v float64, low, high *float64) models.Status {
	tol := c.BorderlineTolerance
	if low != nil && v < *low {
		if tol > 0 && v >= *low*(1-tol) {
			return models.StatusBorderlineLow
		}
		return models.StatusLow
	}
	if high != nil && v > *high {
		if tol > 0 && v <= *high*(1+tol) {
			return models.StatusBorderlineHigh
		}
		return models.StatusHigh
	}
	return models.StatusNormal
}

// bandStatus: normal/optimal/sufficient gelten als normal, alle anderen Labels bleiben wörtlich.
func bandStatus(label string) models.Status {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "":
		return models.StatusNeedsReview
	case "normal", "optimal", "sufficient":
		return models.StatusNormal
	}
	return models.Status(l)
}
