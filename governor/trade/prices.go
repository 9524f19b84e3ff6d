package trade

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/parley-chat/parley/governor/engine"
)

// digits with optional thousands separators and decimals: 50, 1,500, 2.5
const number = `((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)`

var pricePatterns = []*regexp.Regexp{
	// currency prefixed: $50, € 1,200, $2.5k
	regexp.MustCompile(`(?i)[$€£]\s?` + number + `([kmb])?\b`),
	// currency suffixed: 20 coins, 5k gold, 300g
	regexp.MustCompile(`(?i)\b` + number + `([kmb])?\s?(?:coins?|gold|gp|g)\b`),
	// unit suffixed: 50k, 1.5m
	regexp.MustCompile(`(?i)\b` + number + `([kmb])\b`),
}

// markup added by earlier stages: whole mention elements, and any other tag
var markupPattern = regexp.MustCompile(`(?s)<mention\b[^>]*>.*?</mention>|<[^<>]*>`)

var unitMultiplier = map[string]float64{
	"":  1,
	"k": 1_000,
	"m": 1_000_000,
	"b": 1_000_000_000,
}

// Scans text with every price pattern and returns the detected prices ordered by offset. Where matches from different patterns overlap, the earliest starting (then longest) one is kept.
func DetectPrices(text string) []engine.DetectedPrice {
	var found []engine.DetectedPrice
	for _, pat := range pricePatterns {
		for _, loc := range pat.FindAllStringSubmatchIndex(text, -1) {
			unit := ""
			if loc[4] >= 0 {
				unit = strings.ToLower(text[loc[4]:loc[5]])
			}
			val, err := parseAmount(text[loc[2]:loc[3]], unit)
			if err != nil {
				continue
			}
			found = append(found, engine.DetectedPrice{
				Raw:   text[loc[0]:loc[1]],
				Value: val,
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})
	out := found[:0]
	lastEnd := -1
	for _, p := range found {
		if p.Start < lastEnd {
			continue
		}
		out = append(out, p)
		lastEnd = p.End
	}
	return out
}

// Like DetectPrices, but ignores anything inside markup (tags, their attributes, and the body of mention elements), so the spans can be highlighted without breaking it. Offsets refer to text itself.
func DetectPricesOutsideMarkup(text string) []engine.DetectedPrice {
	locs := markupPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return DetectPrices(text)
	}
	masked := []byte(text)
	for _, loc := range locs {
		for i := loc[0]; i < loc[1]; i++ {
			masked[i] = ' '
		}
	}
	found := DetectPrices(string(masked))
	for i := range found {
		found[i].Raw = text[found[i].Start:found[i].End]
	}
	return found
}

func parseAmount(digits, unit string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing price %q: %w", digits, err)
	}
	return v * unitMultiplier[unit], nil
}

// Wraps each detected span with the highlight markers. Spans must come from DetectPrices on the same text. With no markers configured, spans become <price value="..."> tags.
func Highlight(text string, prices []engine.DetectedPrice, prefix, suffix string) string {
	ordered := append([]engine.DetectedPrice(nil), prices...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })
	for _, p := range ordered {
		before, after := prefix, suffix
		if before == "" && after == "" {
			before = fmt.Sprintf(`<price value="%s">`, strconv.FormatFloat(p.Value, 'f', -1, 64))
			after = "</price>"
		}
		text = text[:p.Start] + before + text[p.Start:p.End] + after + text[p.End:]
	}
	return text
}
