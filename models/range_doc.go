package models

import (
	"time"

	"gorm.io/datatypes"
)

// RangeDoc ist ein Referenzdokument im Retrieval-Store.
type RangeDoc struct {
	ID       string      `json:"id"`
	TestName string      `json:"test_name"`
	Unit     string      `json:"unit,omitempty"`
	Ranges   []RangeRule `json:"ranges"`
	Advice   Advice      `json:"advice,omitempty"`
	Source   string      `json:"source,omitempty"`
	Notes    string      `json:"notes,omitempty"`
	Synonyms []string    `json:"synonyms,omitempty"`
}

// Entry wandelt das Dokument in einen Referenzdatensatz um.
func (d RangeDoc) Entry(source string) *KBEntry {
	return &KBEntry{
		TestName: d.TestName,
		Aliases:  append([]string(nil), d.Synonyms...),
		Unit:     d.Unit,
		Ranges:   append([]RangeRule(nil), d.Ranges...),
		Advice:   d.Advice,
		Source:   source,
	}
}

// RangeDocRecord ist die Datenbankzeile eines RangeDoc.
type RangeDocRecord struct {
	ID        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
	TestName  string `gorm:"index"`
	Unit      string
	Source    string
	Notes     string         `gorm:"type:text"`
	Synonyms  datatypes.JSON `gorm:"type:jsonb"`
	Ranges    datatypes.JSON `gorm:"type:jsonb"`
	Advice    datatypes.JSON `gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (RangeDocRecord) TableName() string {
	return "range_docs"
}
