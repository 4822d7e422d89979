package services

import (
	"regexp"
	"strings"

	"labscope/models"
)

type fallbackPattern struct {
	re   *regexp.Regexp
	name string
}

func fallback(pattern, name string) fallbackPattern {
	return fallbackPattern{re: regexp.MustCompile(`(?is)` + pattern), name: name}
}

// bloodCountPatterns werden nur genutzt, wenn Tabellen- und Zeilenmodus nichts finden.
// Sie decken die Felder eines typischen Blutbilds ab, auch wenn Name und Wert durch Zeilenumbrüche getrennt sind.
var bloodCountPatterns = []fallbackPattern{
	fallback(`White\s*Blood\s*Cell\s*\(WBC\)\s*[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "white blood cell (wbc)"),
	fallback(`Red\s*Blood\s*Cell\s*\(RBC\)\s*[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "red blood cell (rbc)"),
	fallback(`Hemoglobin.*?\(HB/?Hgb\)?\)?\s*[:\-]?\s*([\d.,]+)\s*(g/dL)?`, "hemoglobin"),
	fallback(`Hematocrit.*?\(HCT\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "hematocrit"),
	fallback(`Mean\s*Cell\s*Volume\s*\(MCV\).*?[:\-]?\s*([\d.,]+)\s*(fL)?`, "mean cell volume (mcv)"),
	fallback(`Mean\s*Cell\s*Hemoglobin\s*\(MCH\).*?[:\-]?\s*([\d.,]+)\s*(pg)?`, "mean cell hemoglobin (mch)"),
	fallback(`Mean\s*Cell\s*Hb\s*Conc\s*\(MCHC\).*?[:\-]?\s*([\d.,]+)\s*(g/dL)?`, "mean cell hb conc (mchc)"),
	fallback(`Red\s*Cell\s*Dist\s*Width\s*\(RDW\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "red cell dist width (rdw)"),
	fallback(`Platelet\s*count\s*[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "platelet count"),
	fallback(`Mean\s*Platelet\s*Volume.*?[:\-]?\s*([\d.,]+)\s*(fL)?`, "mean platelet volume (mpv)"),
	fallback(`Neutrophil.*?\(Neut\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "neutrophils %"),
	fallback(`Lymphocyte.*?\(Lymph\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "lymphocytes %"),
	fallback(`Monocyte.*?\(Mono\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "monocytes %"),
	fallback(`Eosinophil.*?\(Eos\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "eosinophils %"),
	fallback(`Basophil.*?\(Baso\).*?[:\-]?\s*([\d.,]+)\s*(%)`, "basophils %"),
	fallback(`Neutrophil.*?Absolute.*?[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "absolute neutrophils"),
	fallback(`Lymphocyte.*?Absolute.*?[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "absolute lymphocytes"),
	fallback(`Monocyte.*?Absolute.*?[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "absolute monocytes"),
	fallback(`Eosinophil.*?Absolute.*?[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "absolute eosinophils"),
	fallback(`Basophil.*?Absolute.*?[:\-]?\s*([\d.,]+)\s*([A-Za-z/%µμ^0-9]*)`, "absolute basophils"),
}

// ExtractFallbackRows sucht die Blutbild-Muster im Gesamttext, je Muster höchstens ein Treffer.
func ExtractFallbackRows(text string) []models.RawRow {
	var rows []models.RawRow
	for _, p := range bloodCountPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, ok := parseNumber(strings.Trim(m[1], ".,"))
		if !ok {
			continue
		}
		// der Einheitenteil greift über Zeilenumbrüche hinweg auch das nächste Wort
		unit := ""
		if len(m) > 2 {
			if u, ok := KnownUnit(m[2]); ok {
				unit = u
			}
		}
		if unit == "" {
			switch {
			case p.name == "white blood cell (wbc)", p.name == "platelet count", strings.HasPrefix(p.name, "absolute "):
				unit = "K/uL"
			case p.name == "red blood cell (rbc)":
				unit = "M/uL"
			}
		}
		rows = append(rows, models.RawRow{TestNameRaw: p.name, Value: &v, Unit: unit})
	}
	return rows
}
