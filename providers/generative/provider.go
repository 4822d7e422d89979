package generative

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"labscope/llm"
	"labscope/models"
	"labscope/providers"

	"go.uber.org/zap"
)

const systemPrompt = "You are a medical assistant AI. Return ONLY valid JSON. No prose."

// cacheTimeout gilt für das Zurückschreiben in den Cache, unabhängig von der Modellantwort.
const cacheTimeout = 5 * time.Second

// Cache nimmt erfolgreiche Antworten auf, damit dieselbe Frage nicht erneut gestellt wird.
type Cache interface {
	Add(ctx context.Context, docs ...models.RangeDoc) error
}

// Provider fragt ein Sprachmodell nach Einheit und Referenzbereich, wenn KB und RAG nichts liefern.
type Provider struct {
	Client  llm.Client
	Cache   Cache
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewProvider erstellt eine neue Instanz des generativen Providers. client darf nil sein,
// dann meldet jede Anfrage ErrUnavailable.
func NewProvider(client llm.Client, cache Cache, timeout time.Duration, logger *zap.Logger) *Provider {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Provider{Client: client, Cache: cache, Timeout: timeout, Logger: logger}
}

func (p *Provider) Name() string { return "generative" }

func buildPrompt(name string, age int, sex string) string {
	return fmt.Sprintf("For the lab test '%s', what is the standard unit and reference range for a %d-year-old %s? "+
		"Provide a JSON with keys: unit, ranges (list of dicts with low/high), and advice (dict with 'low' and 'high').",
		name, age, sex)
}

func (p *Provider) Lookup(ctx context.Context, q providers.Query) (*models.KBEntry, error) {
	if p.Client == nil {
		return nil, providers.ErrUnavailable
	}
	name := q.Name
	if name == "" {
		name = q.Key
	}
	if name == "" {
		return nil, providers.ErrNotFound
	}
	log := p.Logger.With(zap.String("test", name), zap.String("model", p.Client.Name()))

	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	raw, err := p.Client.CompleteJSON(callCtx, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(name, q.Age, q.Sex),
		Temperature: 0.1,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, fmt.Errorf("generative lookup: %w", err)
	}

	var ans answer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		log.Warn("Malformed generative answer", zap.Error(err))
		return nil, fmt.Errorf("decode generative answer: %w", err)
	}
	entry := ans.entry(name)
	if !entry.HasUsableRanges() {
		return entry, providers.ErrNoRanges
	}

	if p.Cache != nil {
		doc := models.RangeDoc{
			ID:       "generative_" + slug(name),
			TestName: name,
			Unit:     entry.Unit,
			Ranges:   entry.Ranges,
			Advice:   entry.Advice,
			Source:   models.SourceGenerative,
			Notes:    "Auto-added from " + p.Client.Name(),
		}
		if q.Key != "" && q.Key != strings.ToLower(name) {
			doc.Synonyms = []string{q.Key}
		}
		cacheCtx, cancelCache := context.WithTimeout(ctx, cacheTimeout)
		err := p.Cache.Add(cacheCtx, doc)
		cancelCache()
		if err != nil {
			log.Warn("Caching generative answer failed", zap.Error(err))
		}
	}
	log.Info("Generative reference range obtained", zap.Int("ranges", len(entry.Ranges)))
	return entry, nil
}

var reSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(reSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// answer ist die erwartete Modellantwort. Zahlen kommen teils als Strings.
type answer struct {
	Unit   string `json:"unit"`
	Ranges []struct {
		Low     flexFloat      `json:"low"`
		High    flexFloat      `json:"high"`
		Applies models.Applies `json:"applies"`
	} `json:"ranges"`
	Advice struct {
		Low  flexText `json:"low"`
		High flexText `json:"high"`
	} `json:"advice"`
}

func (a answer) entry(name string) *models.KBEntry {
	e := &models.KBEntry{
		TestName: name,
		Unit:     strings.TrimSpace(a.Unit),
		Advice:   models.Advice{Low: string(a.Advice.Low), High: string(a.Advice.High)},
		Source:   models.SourceGenerative,
	}
	for _, r := range a.Ranges {
		if r.Low.v != nil && r.High.v != nil && *r.Low.v > *r.High.v {
			continue
		}
		e.Ranges = append(e.Ranges, models.RangeRule{Low: r.Low.v, High: r.High.v, Applies: r.Applies})
	}
	return e
}

type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.v = &v
	return nil
}

// flexText akzeptiert einen String oder eine Liste von Strings.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = flexText(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = flexText(strings.Join(list, "; "))
	}
	return nil
}
