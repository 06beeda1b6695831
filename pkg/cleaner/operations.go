// pkg/cleaner/operations.go
package cleaner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayouts are tried in order; the first layout that parses wins. Day-first
// layouts precede the US month-first layout.
var DateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"2 Jan 2006",
	"2 January 2006",
	"1/2/2006",
	"2.1.2006",
}

const isoDate = "2006-01-02"

// Text trims surrounding whitespace
func Text(v string) string {
	return strings.TrimSpace(v)
}

// Number cleans a price-like value: "£1,486.00" -> 1486. Everything except
// digits and '.' is dropped, and every '.' but the last is treated as a
// thousands separator. Unparseable input yields 0.
func Number(v string) float64 {
	var b strings.Builder
	for _, r := range v {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	if last := strings.LastIndex(cleaned, "."); last >= 0 {
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

var currencyReplacer = strings.NewReplacer("£", "", "$", "", "€", "", ",", "")

// Float parses a plain decimal after removing currency symbols and commas.
// Unparseable input yields 0.
func Float(v string) float64 {
	cleaned := strings.TrimSpace(currencyReplacer.Replace(v))
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

// Int parses a whole number, truncating any fraction. Unparseable input yields 0.
func Int(v string) int {
	return int(Float(v))
}

// Phone keeps digits and '+'
func Phone(v string) string {
	var b strings.Builder
	for _, r := range v {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Date parses v against DateLayouts and returns the ISO date, or nil when
// nothing matches.
func Date(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			iso := t.Format(isoDate)
			return &iso
		}
	}
	return nil
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// IsHeaderLike reports whether v repeats one of the header labels
func IsHeaderLike(v string, labels ...string) bool {
	v = strings.TrimSpace(v)
	for _, label := range labels {
		if strings.EqualFold(v, label) {
			return true
		}
	}
	return false
}

// Lookup maps free-text spreadsheet values onto canonical ERP values. Matching
// is case-insensitive: exact synonym first, then the longest synonym contained
// in the value, then the default.
type Lookup struct {
	synonyms map[string]string
	ordered  []string
	def      string
}

// NewLookup builds a lookup from synonym -> canonical value
func NewLookup(synonyms map[string]string, def string) *Lookup {
	l := &Lookup{synonyms: make(map[string]string, len(synonyms)), def: def}
	for k, v := range synonyms {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		l.synonyms[key] = v
		l.ordered = append(l.ordered, key)
	}
	sort.Slice(l.ordered, func(i, j int) bool {
		if len(l.ordered[i]) != len(l.ordered[j]) {
			return len(l.ordered[i]) > len(l.ordered[j])
		}
		return l.ordered[i] < l.ordered[j]
	})
	return l
}

// NewValueLookup builds a lookup whose canonical values are their own synonyms
func NewValueLookup(values []string, def string) *Lookup {
	synonyms := make(map[string]string, len(values))
	for _, v := range values {
		synonyms[v] = v
	}
	return NewLookup(synonyms, def)
}

// Resolve returns the canonical value and whether a synonym matched
func (l *Lookup) Resolve(v string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(v))
	if key == "" {
		return l.def, false
	}
	if canonical, ok := l.synonyms[key]; ok {
		return canonical, true
	}
	for _, syn := range l.ordered {
		if strings.Contains(key, syn) {
			return l.synonyms[syn], true
		}
	}
	return l.def, false
}

// Default returns the fallback value
func (l *Lookup) Default() string {
	return l.def
}

// Keywords classifies values by whole-word keyword presence
type Keywords struct {
	re *regexp.Regexp
}

// NewKeywords builds a matcher for the given words
func NewKeywords(words ...string) *Keywords {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
		}
	}
	if len(quoted) == 0 {
		return &Keywords{}
	}
	return &Keywords{re: regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

// Match reports whether v contains any keyword as a whole word
func (k *Keywords) Match(v string) bool {
	if k == nil || k.re == nil {
		return false
	}
	return k.re.MatchString(strings.ToLower(v))
}

func toLower(s string) string {
	return strings.ToLower(s)
}
