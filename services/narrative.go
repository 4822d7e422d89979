package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"labscope/llm"
	"labscope/models"

	"go.uber.org/zap"
)

// Narrative ist die vom Sprachmodell formulierte Erklärung eines Befunds.
type Narrative struct {
	Summary  string
	DietPlan *models.DietPlan
	PerTest  []models.PerTestNarrative
}

// NarrativeInput enthält die klassifizierten Ergebnisse und die zugehörigen KB-Einträge (nach Testtitel).
type NarrativeInput struct {
	Age     int
	Sex     string
	Results []models.ResolvedResult
	Entries map[string]*models.KBEntry
}

// Narrator formuliert Zusammenfassung, Ernährungsplan und Erklärungen je Test.
type Narrator interface {
	Narrate(ctx context.Context, in NarrativeInput) (*Narrative, error)
}

// ErrNothingToNarrate wird geliefert, wenn es keine Ergebnisse gibt.
var ErrNothingToNarrate = errors.New("no results to narrate")

const narrativeSystemPrompt = `Return ONLY a JSON object with the keys "summary", "diet_plan" and "per_test".
"diet_plan" must contain a "meals" list (at least 3 meal ideas) and may contain "add" and "limit" lists.
Each meal has "name", "ingredients", "instructions", "why_this_meal" and "for_tests".
"per_test" has one entry for every test in the input with "test", "status", "importance", "why_low", "why_high",
"risks_if_low", "risks_if_high" and "next_steps", written as plain English sentences. Do NOT include any other keys or text.`

// LLMNarrator fragt ein Sprachmodell mit einem einzigen JSON-Request.
type LLMNarrator struct {
	Client  llm.Client
	Timeout time.Duration
	logger  *zap.Logger
}

// NewLLMNarrator erstellt eine neue Instanz des LLMNarrator.
func NewLLMNarrator(client llm.Client, timeout time.Duration, logger *zap.Logger) *LLMNarrator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLMNarrator{Client: client, Timeout: timeout, logger: logger}
}

type narrativeItem struct {
	Test   string              `json:"test"`
	Value  *float64            `json:"value"`
	Unit   string              `json:"unit"`
	Status models.Status       `json:"status"`
	Range  models.AppliedRange `json:"range"`
	KB     *kbSnippet          `json:"kb,omitempty"`
}

type kbSnippet struct {
	Importance string   `json:"importance,omitempty"`
	Causes     []string `json:"causes,omitempty"`
	AdviceLow  string   `json:"advice_low,omitempty"`
	AdviceHigh string   `json:"advice_high,omitempty"`
}

func snippetOf(e *models.KBEntry) *kbSnippet {
	if e == nil {
		return nil
	}
	s := &kbSnippet{Importance: e.Importance, Causes: e.Causes, AdviceLow: e.Advice.Low, AdviceHigh: e.Advice.High}
	if s.Importance == "" && len(s.Causes) == 0 && s.AdviceLow == "" && s.AdviceHigh == "" {
		return nil
	}
	return s
}

// Narrate schickt auffällige Werte, oder bei unauffälligem Befund bis zu sechs normale.
func (n *LLMNarrator) Narrate(ctx context.Context, in NarrativeInput) (*Narrative, error) {
	if n.Client == nil {
		return nil, llm.ErrNotConfigured
	}
	var flagged, normals []narrativeItem
	for _, r := range in.Results {
		item := narrativeItem{Test: r.Test, Value: r.Value, Unit: r.Unit, Status: r.Status, Range: r.AppliedRange, KB: snippetOf(in.Entries[r.Test])}
		switch {
		case r.Status.Flagged():
			flagged = append(flagged, item)
		case r.Status == models.StatusNormal && len(normals) < 6:
			normals = append(normals, item)
		}
	}
	mode, payload := "flagged", flagged
	if len(flagged) == 0 {
		mode, payload = "normals", normals
	}
	if len(payload) == 0 {
		return nil, ErrNothingToNarrate
	}
	prompt, err := json.Marshal(map[string]any{
		"context": map[string]any{"age": in.Age, "sex": in.Sex},
		"mode":    mode,
		"results": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode narrative prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()
	raw, err := n.Client.CompleteJSON(ctx, llm.Request{System: narrativeSystemPrompt, Prompt: string(prompt), Temperature: 0.3, MaxTokens: 1800})
	if err != nil {
		return nil, fmt.Errorf("narrative completion: %w", err)
	}
	return decodeNarrative(raw)
}

type textList []string

// UnmarshalJSON akzeptiert eine Liste oder einen einzelnen String.
func (t *textList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if s = strings.TrimSpace(s); s != "" {
		*t = []string{s}
	}
	return nil
}

type looseText string

// UnmarshalJSON akzeptiert Strings und Zahlen.
func (t *looseText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = looseText(s)
		return nil
	}
	*t = looseText(strings.Trim(string(b), `"`))
	return nil
}

type narrativeAnswer struct {
	Summary        string `json:"summary"`
	OverallMessage string `json:"overall_message"`
	DietPlan       struct {
		Add   textList `json:"add"`
		Limit textList `json:"limit"`
		Meals []struct {
			Name         string    `json:"name"`
			Ingredients  textList  `json:"ingredients"`
			Instructions looseText `json:"instructions"`
			WhyThisMeal  looseText `json:"why_this_meal"`
			ForTests     textList  `json:"for_tests"`
		} `json:"meals"`
	} `json:"diet_plan"`
	PerTest []struct {
		Test        string    `json:"test"`
		Status      string    `json:"status"`
		Unit        string    `json:"unit"`
		Importance  looseText `json:"importance"`
		Reason      textList  `json:"reason"`
		Risks       textList  `json:"risks"`
		WhyLow      textList  `json:"why_low"`
		WhyHigh     textList  `json:"why_high"`
		RisksIfLow  textList  `json:"risks_if_low"`
		RisksIfHigh textList  `json:"risks_if_high"`
		NextSteps   textList  `json:"next_steps"`
	} `json:"per_test"`
}

func decodeNarrative(raw string) (*Narrative, error) {
	var ans narrativeAnswer
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &ans); err != nil {
		return nil, fmt.Errorf("decode narrative: %w", err)
	}
	out := &Narrative{Summary: strings.TrimSpace(ans.Summary)}
	if out.Summary == "" {
		out.Summary = strings.TrimSpace(ans.OverallMessage)
	}
	plan := &models.DietPlan{Add: ans.DietPlan.Add, Limit: ans.DietPlan.Limit}
	for _, m := range ans.DietPlan.Meals {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		plan.Meals = append(plan.Meals, models.Meal{
			Name: m.Name, Ingredients: m.Ingredients, Instructions: string(m.Instructions),
			WhyThisMeal: string(m.WhyThisMeal), ForTests: m.ForTests,
		})
	}
	if !plan.Empty() {
		out.DietPlan = plan
	}
	for _, t := range ans.PerTest {
		if strings.TrimSpace(t.Test) == "" {
			continue
		}
		status := models.Status(strings.ToLower(t.Status))
		causes, risks := pickByStatus(status, t.WhyLow, t.WhyHigh), pickByStatus(status, t.RisksIfLow, t.RisksIfHigh)
		if len(causes) == 0 {
			causes = t.Reason
		}
		if len(risks) == 0 {
			risks = t.Risks
		}
		out.PerTest = append(out.PerTest, models.PerTestNarrative{
			Test: t.Test, Status: status, Unit: t.Unit, Importance: string(t.Importance),
			Causes: causes, Risks: risks, NextSteps: t.NextSteps,
		})
	}
	if out.Summary == "" && out.DietPlan == nil && len(out.PerTest) == 0 {
		return nil, errors.New("narrative answer is empty")
	}
	return out, nil
}

func pickByStatus[T any](s models.Status, low, high T) T {
	if s == models.StatusLow || s == models.StatusBorderlineLow {
		return low
	}
	return high
}

// BackfillPerTest ergänzt für jeden niedrigen oder hohen Wert, den die Erzählung auslässt,
// einen Eintrag aus den KB-Feldern.
func BackfillPerTest(perTest []models.PerTestNarrative, results []models.ResolvedResult, entries map[string]*models.KBEntry) []models.PerTestNarrative {
	seen := map[string]bool{}
	for _, p := range perTest {
		seen[strings.ToLower(strings.TrimSpace(p.Test))] = true
	}
	for _, r := range results {
		if r.Status != models.StatusLow && r.Status != models.StatusHigh {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(r.Test))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		item := models.PerTestNarrative{Test: r.Test, Status: r.Status, Value: r.Value, Unit: r.Unit}
		if e := entries[r.Test]; e != nil {
			item.Importance = e.Importance
			item.Causes = pickByStatus(r.Status, e.WhyLow, e.WhyHigh)
			if len(item.Causes) == 0 {
				item.Causes = e.Causes
			}
			item.Risks = pickByStatus(r.Status, e.RisksIfLow, e.RisksIfHigh)
			item.NextSteps = e.NextSteps
		}
		perTest = append(perTest, item)
	}
	return perTest
}

// DietAdvice sammelt die KB-Ratschläge der auffälligen Werte, dedupliziert und sortiert.
func DietAdvice(results []models.ResolvedResult, entries map[string]*models.KBEntry) (add, limit []string) {
	addSet, limitSet := map[string]bool{}, map[string]bool{}
	for _, r := range results {
		e := entries[r.Test]
		if e == nil {
			continue
		}
		switch r.Status {
		case models.StatusLow, models.StatusBorderlineLow:
			if e.Advice.Low != "" {
				addSet[e.Advice.Low] = true
			}
		case models.StatusHigh, models.StatusBorderlineHigh:
			if e.Advice.High != "" {
				limitSet[e.Advice.High] = true
			}
		}
	}
	return sortedKeys(addSet), sortedKeys(limitSet)
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Disclaimer steht unter jedem Report.
const Disclaimer = "LabScope is an automated tool designed to help you understand your lab reports. " +
	"We use standard reference ranges for children, adults, and elderly patients, which may differ slightly from your testing " +
	"laboratory's ranges. Information and diet suggestions are educational only and should not replace consultation with a " +
	"qualified healthcare professional."

// FallbackSummary erzeugt eine deterministische Zusammenfassung ohne Sprachmodell.
func FallbackSummary(age int, sex string, results []models.ResolvedResult) string {
	if len(results) == 0 {
		return "We could not read any test values from this report. Please try a clearer PDF or use manual entry."
	}
	var flagged []models.ResolvedResult
	for _, r := range results {
		if r.Status.Flagged() {
			flagged = append(flagged, r)
		}
	}
	who := fmt.Sprintf("age %d (%s)", age, titleWord(sex))
	if len(flagged) == 0 {
		return fmt.Sprintf("All your reviewed values are within the applied reference ranges for %s. "+
			"Everything looks good, keep up your current habits and routine checkups.", who)
	}
	parts := []string{fmt.Sprintf("For %s, we reviewed %d test(s): %d flagged.", who, len(results), len(flagged))}
	for _, r := range flagged {
		value := strings.TrimSpace(formatFloat(r.Value) + " " + r.Unit)
		ar := r.AppliedRange
		ref := formatFloat(ar.Low) + "-" + formatFloat(ar.High)
		if ar.Unit != "" {
			ref += " " + ar.Unit
		}
		if ar.Source == models.SourceNone {
			parts = append(parts, fmt.Sprintf("• %s: %s, %s. Reference: not available", r.Test, value, r.Status))
			continue
		}
		parts = append(parts, fmt.Sprintf("• %s: %s, %s. Reference: %s (%s)", r.Test, value, r.Status, ref, ar.Source))
	}
	return strings.Join(parts, " ")
}

func formatFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// FallbackMeals sind allgemeine Vorschläge, wenn das Sprachmodell keine Mahlzeiten liefert.
var FallbackMeals = []models.Meal{
	{
		Name:         "Iron-Rich Breakfast Bowl",
		Ingredients:  []string{"1 cup cooked oatmeal", "1/4 cup raisins", "1/2 cup strawberries", "2 tbsp pumpkin seeds", "1 cup fortified orange juice"},
		Instructions: "Combine oatmeal, raisins, strawberries, and pumpkin seeds in a bowl. Serve with orange juice.",
		WhyThisMeal:  "Oatmeal, pumpkin seeds, and raisins are high in iron, and vitamin C from strawberries and orange juice helps absorption.",
	},
	{
		Name:         "Salmon & Spinach Lunch",
		Ingredients:  []string{"1 fillet baked salmon", "2 cups fresh spinach", "1/2 cup cooked quinoa", "1/4 cup cherry tomatoes", "1 tbsp olive oil", "Lemon wedge"},
		Instructions: "Serve baked salmon over a bed of spinach and quinoa. Top with tomatoes, olive oil, and a squeeze of lemon.",
		WhyThisMeal:  "Salmon provides protein and B12, spinach is rich in iron and folate, and quinoa adds more iron and protein.",
	},
	{
		Name:         "Lentil & Veggie Stew Dinner",
		Ingredients:  []string{"1 cup cooked lentils", "1 cup chopped carrots", "1 cup chopped kale", "1/2 cup diced tomatoes", "1/2 onion, chopped", "2 cloves garlic, minced", "2 cups low-sodium vegetable broth"},
		Instructions: "Sauté onion and garlic, add carrots, kale, tomatoes, and broth. Simmer, then add lentils and cook until veggies are tender.",
		WhyThisMeal:  "Lentils and kale are high in iron and folate, supporting healthy blood.",
	},
}

// TitleFromKey macht aus einem KB-Schlüssel einen Anzeigetitel. Tokens mit Klammern bleiben unverändert.
func TitleFromKey(key string) string {
	if key == "" {
		return key
	}
	tokens := strings.Fields(key)
	for i, t := range tokens {
		if !strings.ContainsAny(t, "()") {
			tokens[i] = titleWord(t)
		}
	}
	return titleFixer.Replace(strings.Join(tokens, " "))
}

var titleFixer = strings.NewReplacer("Oh)", "OH)", "Ldl", "LDL", "Hdl", "HDL", "Tg", "TG")
