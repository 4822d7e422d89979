package services

import (
	"regexp"
	"strings"
)

// KeySet ist die Sicht des Resolvers auf die Wissensbasis.
type KeySet interface {
	// Has meldet, ob key (kleingeschrieben) ein Eintrag oder Alias ist.
	Has(key string) bool
	// Canonical liefert den Hauptschlüssel des Eintrags hinter key.
	Canonical(key string) string
}

var (
	reParenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	reParenContent  = regexp.MustCompile(`\(([^)]*)\)`)
	reTokenSplit    = regexp.MustCompile(`[/\s,]+`)
	reNamePunct     = regexp.MustCompile(`[\s\-_/]+`)
)

// abbreviationExpansions löst gängige Laborkürzel zu ausgeschriebenen Namen auf.
var abbreviationExpansions = map[string]string{
	"hb": "hemoglobin", "hgb": "hemoglobin", "hb/hgb": "hemoglobin",
	"hct": "hematocrit", "pcv": "hematocrit",
	"wbc": "white blood cell", "tlc": "white blood cell",
	"rbc": "red blood cell",
	"mcv":  "mean corpuscular volume (mcv)",
	"mch":  "mean corpuscular hemoglobin (mch)",
	"mchc": "mean corpuscular hemoglobin concentration (mchc)",
	"rdw":  "red cell distribution width (rdw)",
	"mpv":  "mean platelet volume (mpv)",
	"plt":  "platelet count",
	"vit d": "vitamin d (25-oh)", "vitamin d3": "vitamin d (25-oh)", "25-oh": "vitamin d (25-oh)",
	"fbs": "glucose (fasting)", "fpg": "glucose (fasting)",
	"tg": "triglycerides", "esr": "erythrocyte sedimentation rate (esr)",
	"sgpt": "alt", "sgot": "ast",
}

type canonicalVariants struct {
	key      string
	variants []string
}

// canonicalSets wird in fester Reihenfolge durchsucht, damit die Auflösung deterministisch bleibt.
var canonicalSets = []canonicalVariants{
	{"white blood cell (wbc)", []string{"wbc", "white blood cell", "white blood cells", "total leucocyte count", "total leukocyte count", "tlc"}},
	{"red blood cell (rbc)", []string{"rbc", "red blood cell", "red blood cells", "rbc count", "total rbc count"}},
	{"hemoglobin (hb/hgb)", []string{"hemoglobin", "haemoglobin", "hb", "hgb"}},
	{"hematocrit (hct)", []string{"hematocrit", "haematocrit", "hct", "pcv", "packed cell volume"}},
	{"mean cell volume (mcv)", []string{"mcv", "mean corpuscular volume (mcv)", "mean corpuscular volume", "mean cell volume"}},
	{"mean cell hemoglobin (mch)", []string{"mch", "mean corpuscular hemoglobin (mch)", "mean corpuscular hemoglobin"}},
	{"mean cell hb conc (mchc)", []string{"mchc", "mean corpuscular hemoglobin concentration (mchc)", "mean corpuscular hemoglobin concentration"}},
	{"red cell dist width (rdw)", []string{"rdw", "red cell distribution width (rdw)", "red cell distribution width", "rdw-cv"}},
	{"mean platelet volume", []string{"mpv", "mean platelet volume (mpv)"}},
	{"neutrophil (neut)", []string{"neutrophils %", "neutrophils", "neutrophil", "neut"}},
	{"lymphocyte (lymph)", []string{"lymphocytes %", "lymphocytes", "lymphocyte", "lymph"}},
	{"monocyte (mono)", []string{"monocytes %", "monocytes", "monocyte", "mono"}},
	{"eosinophil (eos)", []string{"eosinophils %", "eosinophils", "eosinophil", "eos"}},
	{"basophil (baso)", []string{"basophils %", "basophils", "basophil", "baso"}},
	{"platelet count", []string{"platelet count", "platelets", "plt"}},
	{"vitamin d (25-oh)", []string{"vit d", "vitamin d", "vitamin d3", "25-oh vitamin d", "25-hydroxy vitamin d"}},
}

// nameAliases normalisiert Schreibweisen vor der eigentlichen Auflösung.
// Schlüssel sind bereits von Klammern und Satzzeichen befreit.
var nameAliases = map[string]string{
	"haemoglobin": "hemoglobin", "hb": "hemoglobin", "hb hgb": "hemoglobin", "hgb": "hemoglobin",
	"white blood cell": "white blood cell (wbc)", "wbc": "white blood cell (wbc)",
	"red blood cell": "red blood cell (rbc)", "rbc": "red blood cell (rbc)",
	"hct": "hematocrit",
	"mean cell volume": "mcv", "mean corpuscular volume": "mcv",
	"mean cell hemoglobin": "mch", "mean corpuscular hemoglobin": "mch",
	"mean cell hb conc": "mchc", "mean corpuscular hemoglobin concentration": "mchc",
	"red cell dist width": "rdw", "red cell distribution width": "rdw",
	"platelets": "platelet count", "plt": "platelet count",
	"mean platelet volume": "mpv",
	"neutrophil": "neutrophils %", "neutrophils": "neutrophils %", "neut": "neutrophils %",
	"lymphocyte": "lymphocytes %", "lymphocytes": "lymphocytes %", "lymph": "lymphocytes %",
	"monocyte": "monocytes %", "monocytes": "monocytes %", "mono": "monocytes %",
	"eosinophil": "eosinophils %", "eosinophils": "eosinophils %", "eos": "eosinophils %",
	"basophil": "basophils %", "basophils": "basophils %", "baso": "basophils %",
	"neutrophil, absolute": "absolute neutrophils", "neutrophils, absolute": "absolute neutrophils",
	"lymphocyte, absolute": "absolute lymphocytes", "lymphocytes, absolute": "absolute lymphocytes",
	"monocyte, absolute": "absolute monocytes", "monocytes, absolute": "absolute monocytes",
	"eosinophil, absolute": "absolute eosinophils", "eosinophils, absolute": "absolute eosinophils",
	"basophil, absolute": "absolute basophils", "basophils, absolute": "absolute basophils",
	"absolute neutrophil": "absolute neutrophils", "absolute lymphocyte": "absolute lymphocytes",
	"absolute monocyte": "absolute monocytes", "absolute eosinophil": "absolute eosinophils",
	"absolute basophil": "absolute basophils",
	"vitamin d3": "vitamin d (25-oh)", "vitamin d": "vitamin d (25-oh)",
	"25 oh vitamin d": "vitamin d (25-oh)", "25 hydroxy vitamin d": "vitamin d (25-oh)",
}

// NormalizeTestName bringt einen Rohnamen in eine vergleichbare Form und wendet die Alias-Tabelle an.
// Ohne Treffer bleibt der kleingeschriebene, getrimmte Rohname.
func NormalizeTestName(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return ""
	}
	s := reParenthetical.ReplaceAllString(lower, "")
	s = strings.NewReplacer("(", "", ")", "").Replace(s)
	s = strings.TrimSpace(reNamePunct.ReplaceAllString(s, " "))
	for _, candidate := range []string{s, strings.NewReplacer(" percentage", "", " percent", "").Replace(s)} {
		if alias, ok := nameAliases[candidate]; ok {
			return alias
		}
	}
	return lower
}

// NameResolver bildet beliebige Testnamen auf Schlüssel der Wissensbasis ab.
type NameResolver struct {
	kb KeySet
}

// NewNameResolver erstellt eine neue Instanz des NameResolver.
func NewNameResolver(kb KeySet) *NameResolver {
	return &NameResolver{kb: kb}
}

// Resolve liefert den kanonischen Schlüssel oder false, wenn keine Stufe trifft.
func (r *NameResolver) Resolve(raw string) (string, bool) {
	if r == nil || r.kb == nil {
		return "", false
	}
	n := strings.ToLower(strings.TrimSpace(raw))
	if n == "" {
		return "", false
	}
	if hit, ok := r.resolve(n); ok {
		return r.kb.Canonical(hit), true
	}
	if alias := NormalizeTestName(raw); alias != n {
		if hit, ok := r.resolve(alias); ok {
			return r.kb.Canonical(hit), true
		}
	}
	return "", false
}

func (r *NameResolver) resolve(n string) (string, bool) {
	// 1. exakt
	if r.kb.Has(n) {
		return n, true
	}
	// 2. ohne %-Suffix
	if trimmed := strings.TrimSpace(strings.TrimSuffix(n, "%")); trimmed != n && r.kb.Has(trimmed) {
		return trimmed, true
	}
	// 3. ohne Klammerzusätze
	if stripped := strings.TrimSpace(reParenthetical.ReplaceAllString(n, "")); stripped != "" && stripped != n && r.kb.Has(stripped) {
		return stripped, true
	}
	// 4. Kürzel in Klammern
	if m := reParenContent.FindStringSubmatch(n); m != nil {
		inner := strings.TrimSpace(m[1])
		for _, tok := range reTokenSplit.Split(inner, -1) {
			if tok == "" {
				continue
			}
			if r.kb.Has(tok) {
				return tok, true
			}
			if r.kb.Has(tok + " %") {
				return tok + " %", true
			}
			if long, ok := abbreviationExpansions[tok]; ok && r.kb.Has(long) {
				return long, true
			}
		}
		if long, ok := abbreviationExpansions[inner]; ok && r.kb.Has(long) {
			return long, true
		}
	}
	// 5. kanonische Variantengruppen
	for _, set := range canonicalSets {
		if n != set.key && !contains(set.variants, n) {
			continue
		}
		for _, v := range append([]string{n, set.key}, set.variants...) {
			if r.kb.Has(v) {
				return v, true
			}
		}
	}
	if long, ok := abbreviationExpansions[n]; ok && r.kb.Has(long) {
		return long, true
	}
	// 6. Leerraum zusammengezogen
	if simp := strings.Join(strings.Fields(n), " "); simp != n && r.kb.Has(simp) {
		return simp, true
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
