package providers

import (
	"context"
	"errors"

	"labscope/models"
)

var (
	// ErrNotFound signalisiert, dass die Stufe keinen Eintrag kennt.
	ErrNotFound = errors.New("reference entry not found")
	// ErrNoRanges signalisiert einen Eintrag ohne verwertbare Bereiche.
	ErrNoRanges = errors.New("reference entry has no usable ranges")
	// ErrUnavailable signalisiert eine nicht konfigurierte oder nicht erreichbare Stufe.
	ErrUnavailable = errors.New("provider unavailable")
)

// Query beschreibt, wonach eine Stufe suchen soll.
type Query struct {
	// Key ist der aufgelöste KB-Schlüssel, leer wenn der Resolver nichts fand.
	Key string
	// Name ist der normalisierte Rohname aus dem Befund.
	Name string
	Age  int
	Sex  string
}

// Term liefert den bevorzugten Suchbegriff.
func (q Query) Term() string {
	if q.Key != "" {
		return q.Key
	}
	return q.Name
}

// Provider ist das Interface, das jede Referenz-Stufe (KB, RAG, generativ) implementieren muss.
type Provider interface {
	// Lookup liefert einen Eintrag oder einen der Fehler ErrNotFound, ErrNoRanges, ErrUnavailable.
	Lookup(ctx context.Context, q Query) (*models.KBEntry, error)

	// Name gibt den eindeutigen Namen der Stufe zurück (z.B. "kb").
	Name() string
}
