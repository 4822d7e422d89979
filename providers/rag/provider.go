package rag

import (
	"context"

	"labscope/models"
	"labscope/providers"
)

// queryTopK begrenzt die Kandidaten je Suchbegriff; der erste mit nutzbaren Bereichen gewinnt.
const queryTopK = 3

// Provider stellt den Retrieval-Store als zweite Stufe der Lookup-Kette bereit.
type Provider struct {
	Store *Store
}

// NewProvider erstellt eine neue Instanz des RAG-Providers.
func NewProvider(store *Store) *Provider {
	return &Provider{Store: store}
}

func (p *Provider) Name() string { return "rag" }

func (p *Provider) Lookup(_ context.Context, q providers.Query) (*models.KBEntry, error) {
	var fallback *models.KBEntry
	for _, term := range []string{q.Key, q.Name} {
		if term == "" {
			continue
		}
		for _, doc := range p.Store.Query(term, queryTopK) {
			entry := doc.Entry(models.SourceRAG)
			if entry.HasUsableRanges() {
				return entry, nil
			}
			if fallback == nil {
				fallback = entry
			}
		}
	}
	if fallback != nil {
		return fallback, providers.ErrNoRanges
	}
	return nil, providers.ErrNotFound
}
