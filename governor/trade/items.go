package trade

import (
	"fmt"
	"regexp"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/keyword"
)

var itemRefPattern = regexp.MustCompile(`\[([^\[\]\n]{1,48})\]`)

// Item registry built from the rule table. Lookups match either the item type or its display name, ignoring case, spacing and punctuation.
type StaticCatalog struct {
	items map[string]config.Item
}

var _ engine.ItemCatalog = (*StaticCatalog)(nil)

func NewStaticCatalog(items []config.Item) *StaticCatalog {
	c := &StaticCatalog{items: make(map[string]config.Item, len(items)*2)}
	for _, it := range items {
		c.items[keyword.Slugify(it.Type)] = it
		if it.DisplayName != "" {
			c.items[keyword.Slugify(it.DisplayName)] = it
		}
	}
	return c
}

func (c *StaticCatalog) LookupItem(name string) (config.Item, bool) {
	it, ok := c.items[keyword.Slugify(name)]
	return it, ok
}

// Resolves a bracketed item name against what the player holds: first an exact type match, then a display-name substring match.
func fromHoldings(name string, holdings []config.Item) (config.Item, bool) {
	slug := keyword.Slugify(name)
	for _, it := range holdings {
		if keyword.Slugify(it.Type) == slug {
			return it, true
		}
	}
	for _, it := range holdings {
		if it.DisplayName != "" && keyword.ContainsFold(it.DisplayName, name) {
			return it, true
		}
	}
	return config.Item{}, false
}

// Rewrites [name] tokens which resolve to an item. Unresolved tokens are left as they are.
func LinkItems(text string, holdings []config.Item, catalog engine.ItemCatalog) (string, bool) {
	linked := false
	out := itemRefPattern.ReplaceAllStringFunc(text, func(tok string) string {
		name := tok[1 : len(tok)-1]
		it, ok := fromHoldings(name, holdings)
		if !ok && catalog != nil {
			it, ok = catalog.LookupItem(name)
		}
		if !ok {
			return tok
		}
		linked = true
		display := it.DisplayName
		if display == "" {
			display = name
		}
		return fmt.Sprintf(`<item type=%q>[%s]</item>`, it.Type, display)
	})
	return out, linked
}
