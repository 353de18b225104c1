package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	tokenRe = regexp.MustCompile(`[a-z0-9&]+`)
	priceRe = regexp.MustCompile(`\$(\d+(\.\d{2})?)`)
)

// text is a normalized message: lowercase tokens plus a space-padded join
// used for phrase lookups.
type text struct {
	raw    string
	tokens []string
	set    map[string]bool
	padded string
}

func normalize(message string) text {
	lower := strings.ToLower(message)
	tokens := tokenRe.FindAllString(lower, -1)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return text{
		raw:    lower,
		tokens: tokens,
		set:    set,
		padded: " " + strings.Join(tokens, " ") + " ",
	}
}

// has reports whether term, a word or a space-separated phrase, occurs in t.
func (t text) has(term string) bool {
	if !strings.Contains(term, " ") {
		return t.set[term]
	}
	return strings.Contains(t.padded, " "+term+" ")
}

// index returns the byte offset of term in the padded text, or -1.
func (t text) index(term string) int {
	return strings.Index(t.padded, " "+term+" ")
}

// count returns how many distinct terms of set occur in t.
func (t text) count(terms []string) int {
	n := 0
	for _, term := range terms {
		if t.has(term) {
			n++
		}
	}
	return n
}

func (t text) hasAny(terms ...string) bool {
	for _, term := range terms {
		if t.has(term) {
			return true
		}
	}
	return false
}

// Vocabulary resolves product mentions to canonical catalog names.
type Vocabulary struct {
	aliases map[string]string // normalized alias -> canonical name
}

// NewVocabulary builds a vocabulary from canonical product names. Each name
// is matched by its normalized form; extra aliases map alternate spellings
// onto a canonical name.
func NewVocabulary(names []string, aliases map[string]string) *Vocabulary {
	v := &Vocabulary{aliases: make(map[string]string, len(names)+len(aliases))}
	for _, name := range names {
		v.aliases[normalize(name).key()] = name
	}
	for alias, name := range aliases {
		v.aliases[normalize(alias).key()] = name
	}
	return v
}

func (t text) key() string { return strings.TrimSpace(t.padded) }

// Find returns the canonical names mentioned in message, in order of first
// appearance and without duplicates. Longer aliases win over shorter ones
// they contain.
func (v *Vocabulary) Find(message string) []string {
	return v.find(normalize(message))
}

func (v *Vocabulary) find(t text) []string {
	type hit struct {
		pos  int
		name string
	}
	aliases := make([]string, 0, len(v.aliases))
	for alias := range v.aliases {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})

	padded := t.padded
	seen := make(map[string]bool)
	var hits []hit
	for _, alias := range aliases {
		needle := " " + alias + " "
		pos := strings.Index(padded, needle)
		if pos < 0 {
			continue
		}
		// Blank out the match so shorter aliases inside it don't count again.
		padded = padded[:pos+1] + strings.Repeat("_", len(alias)) + padded[pos+1+len(alias):]
		name := v.aliases[alias]
		if seen[name] {
			continue
		}
		seen[name] = true
		hits = append(hits, hit{pos: pos, name: name})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.name
	}
	return names
}

// DefaultProducts are the storefront's demo catalog names.
var DefaultProducts = []string{
	"Sunglasses",
	"Tank Top",
	"Watch",
	"Loafers",
	"Hairdryer",
	"Candle Holder",
	"Salt & Pepper Shakers",
	"Bamboo Glass Jar",
	"Mug",
}

var defaultAliases = map[string]string{
	"sunglass":        "Sunglasses",
	"shades":          "Sunglasses",
	"tank tops":       "Tank Top",
	"tanktop":         "Tank Top",
	"watches":         "Watch",
	"loafer":          "Loafers",
	"hair dryer":      "Hairdryer",
	"hairdryers":      "Hairdryer",
	"candle":          "Candle Holder",
	"candle holders":  "Candle Holder",
	"salt and pepper": "Salt & Pepper Shakers",
	"shakers":         "Salt & Pepper Shakers",
	"jar":             "Bamboo Glass Jar",
	"jars":            "Bamboo Glass Jar",
	"glass jar":       "Bamboo Glass Jar",
	"mugs":            "Mug",
}

// DefaultVocabulary recognizes DefaultProducts and common aliases.
var DefaultVocabulary = NewVocabulary(DefaultProducts, defaultAliases)

// VocabularyFor builds a vocabulary for a live catalog. Built-in aliases are
// kept for the names the catalog still carries.
func VocabularyFor(names []string) *Vocabulary {
	if len(names) == 0 {
		return DefaultVocabulary
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	aliases := make(map[string]string)
	for alias, name := range defaultAliases {
		if known[name] {
			aliases[alias] = name
		}
	}
	return NewVocabulary(names, aliases)
}

// categoryTerms maps message tokens onto catalog categories.
var categoryTerms = map[string]string{
	"accessories": "accessories",
	"accessory":   "accessories",
	"clothing":    "clothing",
	"clothes":     "clothing",
	"apparel":     "clothing",
	"shirt":       "clothing",
	"shirts":      "clothing",
	"footwear":    "footwear",
	"shoes":       "footwear",
	"shoe":        "footwear",
	"hair":        "hair",
	"beauty":      "beauty",
	"decor":       "decor",
	"decoration":  "decor",
	"home":        "home",
	"kitchen":     "kitchen",
	"kitchenware": "kitchen",
}

// MaxPrice extracts a "$N" or "$N.NN" price ceiling from message.
func MaxPrice(message string) (float64, bool) {
	m := priceRe.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Category returns the first catalog category named in message.
func Category(message string) (string, bool) {
	return normalize(message).category()
}

func (t text) category() (string, bool) {
	for _, tok := range t.tokens {
		if c, ok := categoryTerms[tok]; ok {
			return c, true
		}
	}
	return "", false
}

// Cart operations.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpClear  = "clear"
)

// CartOperation returns the cart verb in message: remove and clear take
// precedence over add.
func CartOperation(message string) (string, bool) {
	return normalize(message).cartOperation()
}

func (t text) cartOperation() (string, bool) {
	switch {
	case t.hasAny("clear", "empty"):
		return OpClear, true
	case t.hasAny("remove", "delete", "drop", "take out"):
		return OpRemove, true
	case t.hasAny("add", "put", "include"):
		return OpAdd, true
	}
	return "", false
}

// IncludesShipping reports whether message asks about shipping emissions.
func IncludesShipping(message string) bool {
	return normalize(message).includesShipping()
}

func (t text) includesShipping() bool {
	return t.hasAny("shipping", "ship", "delivery", "deliver", "transport")
}

// ComparisonMode reports whether message asks to compare alternatives.
func ComparisonMode(message string) bool {
	return normalize(message).comparisonMode()
}

func (t text) comparisonMode() bool {
	return t.hasAny("compare", "comparison", "vs", "versus", "difference", "better")
}
