package models

// Band ist ein benanntes Intervall eines gestuften Referenzbereichs (z.B. "Desirable < 200").
// Fehlende Grenzen gelten als offen.
type Band struct {
	Label string   `json:"label" yaml:"label"`
	Min   *float64 `json:"min" yaml:"min"`
	Max   *float64 `json:"max" yaml:"max"`
	Unit  string   `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Contains prüft inklusiv an beiden Enden.
func (b Band) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

// RawRow ist eine aus dem PDF gelesene Zeile vor Auflösung und Klassifizierung.
type RawRow struct {
	TestNameRaw  string   `json:"test_name_raw"`
	Value        *float64 `json:"value"`
	Unit         string   `json:"unit"`
	Low          *float64 `json:"low,omitempty"`
	High         *float64 `json:"high,omitempty"`
	Bands        []Band   `json:"bands,omitempty"`
	ExplicitFlag string   `json:"explicit_flag,omitempty"`
}

// HasLabRange meldet, ob das Labor selbst einen Bereich gedruckt hat.
func (r RawRow) HasLabRange() bool {
	return r.Low != nil || r.High != nil || len(r.Bands) > 0
}

// Float liefert einen Zeiger auf v.
func Float(v float64) *float64 {
	return &v
}
