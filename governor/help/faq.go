package help

import (
	"regexp"
	"strings"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/keyword"
)

// minimum number of shared words for a fuzzy question match
const minQuestionOverlap = 2

var (
	questionPattern = regexp.MustCompile(`(?i)^\s*(how|what|where|why|when|who|which|can|could|is|are|does|do|should|will|would)\b.*\?\s*$`)
	helpPattern     = regexp.MustCompile(`(?i)\b(help|helpme|stuck|bugged|bug|broken|issue|problem|support|assist)\b`)
)

type faqKeyword struct {
	keyword string
	entry   *config.FAQEntry
}

type faqQuestion struct {
	words map[string]bool
	entry *config.FAQEntry
}

// Derived from the FAQ entries in a rule table; rebuilt whenever the table is swapped.
type faqIndex struct {
	keywords  []faqKeyword
	questions []faqQuestion
}

func buildFAQIndex(entries []config.FAQEntry) *faqIndex {
	ix := &faqIndex{}
	for i := range entries {
		e := &entries[i]
		for _, kw := range e.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				ix.keywords = append(ix.keywords, faqKeyword{keyword: kw, entry: e})
			}
		}
		ix.questions = append(ix.questions, faqQuestion{words: keyword.WordSet(e.Question), entry: e})
	}
	return ix
}

// Keyword containment first, in configuration order. Otherwise the question sharing the most words with the text, if it shares at least two.
func (ix *faqIndex) match(text string) *config.FAQEntry {
	for _, k := range ix.keywords {
		if keyword.ContainsFold(text, k.keyword) {
			return k.entry
		}
	}
	words := keyword.WordSet(text)
	var best *config.FAQEntry
	bestOverlap := minQuestionOverlap - 1
	for _, q := range ix.questions {
		if n := keyword.Overlap(words, q.words); n > bestOverlap {
			best, bestOverlap = q.entry, n
		}
	}
	return best
}

// Heuristic for whether a chat message is asking for help: a question starting with an interrogative word, a help word, or one of the configured keywords.
func IsHelpRequest(text string, keywords []string) bool {
	if questionPattern.MatchString(text) || helpPattern.MatchString(text) {
		return true
	}
	for _, kw := range keywords {
		if keyword.ContainsFold(text, kw) {
			return true
		}
	}
	return false
}
