package models

import "strings"

// Quellen einer Referenz bzw. eines angewandten Bereichs.
const (
	SourceKB         = "KB"
	SourceRAG        = "RAG"
	SourceGenerative = "generative"
	SourceNone       = "NONE"
	// SourceParsed kennzeichnet Ergebnisse, die aus dem Befund gelesen wurden.
	SourceParsed = "parsed"
)

// Applies schränkt eine Regel auf Geschlecht und Altersspanne ein (inklusiv).
type Applies struct {
	Sex    string   `json:"sex,omitempty" yaml:"sex,omitempty"`
	AgeMin *float64 `json:"age_min,omitempty" yaml:"age_min,omitempty"`
	AgeMax *float64 `json:"age_max,omitempty" yaml:"age_max,omitempty"`
}

// MatchesSex: leer oder "any" passt immer, sonst exakter Vergleich.
func (a Applies) MatchesSex(sex string) bool {
	s := strings.ToLower(strings.TrimSpace(a.Sex))
	return s == "" || s == "any" || s == strings.ToLower(sex)
}

func (a Applies) MatchesAge(age float64) bool {
	if a.AgeMin != nil && age < *a.AgeMin {
		return false
	}
	if a.AgeMax != nil && age > *a.AgeMax {
		return false
	}
	return true
}

// RangeRule ist entweder ein festes Intervall (low/high) oder ein gestufter Bereich (bands).
type RangeRule struct {
	Low     *float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High    *float64 `json:"high,omitempty" yaml:"high,omitempty"`
	Bands   []Band   `json:"bands,omitempty" yaml:"bands,omitempty"`
	Applies Applies  `json:"applies,omitempty" yaml:"applies,omitempty"`
}

// IsFixed meldet ein festes Intervall mit mindestens einer Grenze.
func (r RangeRule) IsFixed() bool {
	return r.Low != nil || r.High != nil
}

// Usable: mindestens eine Grenze oder ein Band ist vorhanden.
func (r RangeRule) Usable() bool {
	return r.Low != nil || r.High != nil || len(r.Bands) > 0
}

// Advice enthält Ernährungshinweise für zu niedrige und zu hohe Werte.
type Advice struct {
	Low  string `json:"low,omitempty" yaml:"low,omitempty"`
	High string `json:"high,omitempty" yaml:"high,omitempty"`
}

// KBEntry ist der Referenzdatensatz eines Tests, egal aus welcher Stufe er stammt.
type KBEntry struct {
	TestName      string      `json:"test_name" yaml:"test_name"`
	Aliases       []string    `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Unit          string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	CanonicalUnit string      `json:"canonical_unit,omitempty" yaml:"canonical_unit,omitempty"`
	Ranges        []RangeRule `json:"ranges" yaml:"ranges"`
	Advice        Advice      `json:"advice,omitempty" yaml:"advice,omitempty"`
	Importance    string      `json:"importance,omitempty" yaml:"importance,omitempty"`
	Causes        []string    `json:"causes,omitempty" yaml:"causes,omitempty"`
	WhyLow        []string    `json:"why_low,omitempty" yaml:"why_low,omitempty"`
	WhyHigh       []string    `json:"why_high,omitempty" yaml:"why_high,omitempty"`
	RisksIfLow    []string    `json:"risks_if_low,omitempty" yaml:"risks_if_low,omitempty"`
	RisksIfHigh   []string    `json:"risks_if_high,omitempty" yaml:"risks_if_high,omitempty"`
	NextSteps     []string    `json:"next_steps,omitempty" yaml:"next_steps,omitempty"`
	Source        string      `json:"source,omitempty" yaml:"source,omitempty"`
}

// TargetUnit liefert die kanonische Einheit des Eintrags.
func (e *KBEntry) TargetUnit() string {
	if e == nil {
		return ""
	}
	if e.Unit != "" {
		return e.Unit
	}
	return e.CanonicalUnit
}

// HasUsableRanges: nil, leere oder komplett leere Regeln zählen als unbrauchbar.
func (e *KBEntry) HasUsableRanges() bool {
	if e == nil {
		return false
	}
	for _, r := range e.Ranges {
		if r.Usable() {
			return true
		}
	}
	return false
}
