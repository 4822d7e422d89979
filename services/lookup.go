package services

import (
	"context"
	"errors"
	"fmt"

	"labscope/models"
	"labscope/providers"

	"go.uber.org/zap"
)

// OutcomeKind beschreibt, wie eine Stufe der Lookup-Kette geantwortet hat.
type OutcomeKind string

const (
	OutcomeHit         OutcomeKind = "hit"
	OutcomeMiss        OutcomeKind = "miss"
	OutcomeNoRanges    OutcomeKind = "no_ranges"
	OutcomeUnavailable OutcomeKind = "unavailable"
	OutcomeFailed      OutcomeKind = "failed"
)

// LookupOutcome ist das Ergebnis einer einzelnen Stufe.
type LookupOutcome struct {
	Tier string
	Kind OutcomeKind
	Err  error
}

// LookupResult enthält den gewählten Eintrag (kann nil sein) und den Weg dorthin.
type LookupResult struct {
	Entry    *models.KBEntry
	Outcomes []LookupOutcome
}

// Answered meldet, ob die Stufe tier eine Antwort geliefert hat, auch ohne verwertbare Bereiche.
func (r LookupResult) Answered(tier string) bool {
	for _, o := range r.Outcomes {
		if o.Tier == tier && (o.Kind == OutcomeHit || o.Kind == OutcomeNoRanges) {
			return true
		}
	}
	return false
}

// LookupChain fragt die Stufen der Reihe nach. Der erste Eintrag mit verwertbaren Bereichen
// gewinnt, spätere Stufen werden dann nicht mehr gefragt. Findet keine Stufe einen solchen,
// wird der erste Eintrag ohne Bereiche geliefert, damit Einheit und Hinweise erhalten bleiben.
type LookupChain struct {
	tiers  []providers.Provider
	logger *zap.Logger
}

// NewLookupChain erstellt eine neue Instanz der LookupChain.
func NewLookupChain(logger *zap.Logger, tiers ...providers.Provider) *LookupChain {
	return &LookupChain{tiers: tiers, logger: logger}
}

// Tiers liefert die Namen der Stufen in Reihenfolge.
func (c *LookupChain) Tiers() []string {
	names := make([]string, 0, len(c.tiers))
	for _, t := range c.tiers {
		names = append(names, t.Name())
	}
	return names
}

func (c *LookupChain) Lookup(ctx context.Context, q providers.Query) LookupResult {
	var res LookupResult
	var partial *models.KBEntry
	for _, tier := range c.tiers {
		entry, err := safeLookup(ctx, tier, q)
		outcome := LookupOutcome{Tier: tier.Name(), Err: err}
		switch {
		case err == nil && entry != nil:
			outcome.Kind = OutcomeHit
		case errors.Is(err, providers.ErrNoRanges):
			outcome.Kind = OutcomeNoRanges
			if partial == nil {
				partial = entry
			}
		case err == nil, errors.Is(err, providers.ErrNotFound):
			outcome.Kind = OutcomeMiss
		case errors.Is(err, providers.ErrUnavailable):
			outcome.Kind = OutcomeUnavailable
		default:
			outcome.Kind = OutcomeFailed
			c.logger.Warn("Lookup tier failed", zap.String("tier", tier.Name()), zap.String("test", q.Term()), zap.Error(err))
		}
		lookupOutcomesTotal.WithLabelValues(outcome.Tier, string(outcome.Kind)).Inc()
		res.Outcomes = append(res.Outcomes, outcome)
		if outcome.Kind == OutcomeHit {
			res.Entry = entry
			return res
		}
	}
	res.Entry = partial
	return res
}

func safeLookup(ctx context.Context, p providers.Provider, q providers.Query) (entry *models.KBEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entry, err = nil, fmt.Errorf("%s panic: %v", p.Name(), r)
		}
	}()
	return p.Lookup(ctx, q)
}
