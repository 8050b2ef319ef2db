// Package hashtag extracts the tags a contribution is filed under from its
// free text.
package hashtag

import (
	"regexp"
	"strings"
)

const (
	// MaxTags is the most tags a single text contributes.
	MaxTags = 5
	// MaxTagLength is the longest tag kept, counting the leading '#'.
	MaxTagLength = 20
)

var tagPattern = regexp.MustCompile(`#\w+`)

// Order decides whether overlong tags are dropped before or after the
// list is cut down to MaxTags.
type Order int

const (
	// TruncateThenFilter keeps the first MaxTags matches and then drops the
	// overlong ones, so a text can yield fewer than MaxTags tags even when
	// more short tags follow.
	TruncateThenFilter Order = iota
	// FilterThenTruncate drops overlong matches first and then keeps up to
	// MaxTags of what is left.
	FilterThenTruncate
)

// ParseOrder maps a config value to an Order. The empty string selects
// TruncateThenFilter.
func ParseOrder(s string) (Order, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "truncate-then-filter":
		return TruncateThenFilter, true
	case "filter-then-truncate":
		return FilterThenTruncate, true
	}
	return TruncateThenFilter, false
}

func (o Order) String() string {
	if o == FilterThenTruncate {
		return "filter-then-truncate"
	}
	return "truncate-then-filter"
}

// Extractor pulls hashtags out of text in a fixed Order.
type Extractor struct {
	Order Order
}

// Extract returns the hashtags of text, lower-cased, in order of
// appearance. The result is never nil.
func (e Extractor) Extract(text string) []string {
	matches := tagPattern.FindAllString(strings.ToLower(text), -1)

	if e.Order == FilterThenTruncate {
		return truncate(filterLong(matches))
	}
	return filterLong(truncate(matches))
}

// Extract uses the default TruncateThenFilter order.
func Extract(text string) []string {
	return Extractor{}.Extract(text)
}

// Normalize turns user input such as "Amor" or "#AMOR" into the stored
// form "#amor". It returns "" for input that is not a single valid tag.
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	if tagPattern.FindString(tag) != tag || len(tag) > MaxTagLength {
		return ""
	}
	return tag
}

func truncate(tags []string) []string {
	if len(tags) > MaxTags {
		return tags[:MaxTags]
	}
	return tags
}

func filterLong(tags []string) []string {
	kept := make([]string, 0, len(tags))
	for _, t := range tags {
		if len(t) <= MaxTagLength {
			kept = append(kept, t)
		}
	}
	return kept
}
