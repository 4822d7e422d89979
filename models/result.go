package models

// Status ist das Ergebnis der Klassifizierung. Band-Labels wie "Borderline" werden
// unverändert durchgereicht, daher kein geschlossener Enum.
type Status string

const (
	StatusLow            Status = "low"
	StatusNormal         Status = "normal"
	StatusHigh           Status = "high"
	StatusBorderlineLow  Status = "borderline_low"
	StatusBorderlineHigh Status = "borderline_high"
	StatusMissing        Status = "missing"
	StatusNeedsReview    Status = "needs_review"
)

// Flagged meldet auffällige Werte: alles außer normal, missing und needs_review.
func (s Status) Flagged() bool {
	switch s {
	case StatusNormal, StatusMissing, StatusNeedsReview, "":
		return false
	}
	return true
}

// Notizen am angewandten Bereich, maschinenlesbar.
const (
	NoteNotInKB           = "not_in_kb"
	NoteBanded            = "banded"
	NoteBandNoMatch       = "band_no_match"
	NoteNoApplicableRange = "no_applicable_range"
	NoteNoValue           = "no_value"
	NoteImplausible       = "implausible_value"
)

// AppliedRange beschreibt den Bereich, gegen den tatsächlich geprüft wurde.
type AppliedRange struct {
	Low    *float64 `json:"low"`
	High   *float64 `json:"high"`
	Unit   string   `json:"unit,omitempty"`
	Source string   `json:"source"`
	Note   string   `json:"note,omitempty"`
}

// LabRange ist der im Befund gedruckte Bereich, nur zur Anzeige.
type LabRange struct {
	Low   *float64 `json:"low,omitempty"`
	High  *float64 `json:"high,omitempty"`
	Bands []Band   `json:"bands,omitempty"`
	Flag  string   `json:"flag,omitempty"`
}

// ResolvedResult ist ein einzelnes, klassifiziertes Testergebnis im Report.
type ResolvedResult struct {
	Test         string       `json:"test"`
	Value        *float64     `json:"value"`
	Unit         string       `json:"unit"`
	AppliedRange AppliedRange `json:"applied_range"`
	Status       Status       `json:"status"`
	Source       string       `json:"source"`
	LabRange     *LabRange    `json:"lab_range,omitempty"`
}
