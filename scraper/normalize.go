package scraper

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// yearRegexp captures the first 4-digit year in a free-text title
	yearRegexp = regexp.MustCompile(`\b(19[5-9]\d|20\d\d)\b`)
	// amountRegexp captures a numeric amount, possibly with thousands separators
	amountRegexp = regexp.MustCompile(`\d[\d,.]*`)
)

// ErrUnlistable marks a row that cannot become a listing (no year/brand/model,
// or missing mandatory price).
var ErrUnlistable = errors.New("row not listable")

// twoWordBrands are makes whose name spans two title tokens.
var twoWordBrands = map[string]string{
	"alfa":     "Romeo",
	"aston":    "Martin",
	"land":     "Rover",
	"mercedes": "Benz",
}

// placeholderFragments identify loading icons and stock placeholders that
// must never be stored as listing images.
var placeholderFragments = []string{
	"placeholder", "loading", "spinner", "no-image", "noimage",
	"default_car", "coming-soon", "comingsoon", "1x1.gif", "blank.gif",
}

// ParseTitle extracts year, brand and model from a free-text listing title
// using a first-4-digit-year heuristic. The year may sit anywhere; brand is
// the first token after it (two-word makes are joined), model is the rest.
// When too little text follows the year, the text before it is pulled in,
// so mid-title and trailing years still resolve. Returns ErrUnlistable when
// any of the three cannot be determined.
func ParseTitle(title string) (year int, brand, model string, err error) {
	title = NormalizeText(title)
	loc := yearRegexp.FindStringIndex(title)
	if loc == nil {
		return 0, "", "", ErrUnlistable
	}

	year, _ = strconv.Atoi(title[loc[0]:loc[1]])
	if year > time.Now().Year()+1 {
		return 0, "", "", ErrUnlistable
	}

	tokens := strings.Fields(title[loc[1]:])
	if len(tokens) < 2 {
		tokens = append(strings.Fields(title[:loc[0]]), tokens...)
	}
	if len(tokens) < 2 {
		return 0, "", "", ErrUnlistable
	}

	brand = tokens[0]
	modelTokens := tokens[1:]
	if second, ok := twoWordBrands[strings.ToLower(brand)]; ok &&
		len(modelTokens) > 1 && strings.EqualFold(modelTokens[0], second) {
		brand = brand + " " + modelTokens[0]
		modelTokens = modelTokens[1:]
	}
	model = strings.Join(modelTokens, " ")
	if model == "" {
		return 0, "", "", ErrUnlistable
	}
	return year, brand, model, nil
}

// NormalizeTransmission folds free text into {Automatic, Manual, CVT} by
// case-insensitive substring match. Unrecognized values pass through
// unchanged rather than being dropped.
func NormalizeTransmission(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "cvt"), strings.Contains(lower, "variable"):
		return "CVT"
	case strings.Contains(lower, "auto"):
		return "Automatic"
	case strings.Contains(lower, "manual"), strings.Contains(lower, "stick"),
		strings.Contains(lower, "standard"):
		return "Manual"
	}
	return NormalizeText(raw)
}

// ParseAmount strips currency symbols and thousands separators from a price
// or mileage string and parses the integer value. Returns 0 when no digits
// are present.
func ParseAmount(raw string) int {
	match := amountRegexp.FindString(raw)
	if match == "" {
		return 0
	}

	// "12,500" and "12.500" are both thousands-separated; a trailing
	// ".00"-style fraction is cut instead.
	match = strings.ReplaceAll(match, ",", "")
	if i := strings.LastIndex(match, "."); i >= 0 {
		if len(match)-i-1 == 3 {
			match = strings.ReplaceAll(match, ".", "")
		} else {
			match = match[:i]
		}
	}

	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

// ResolveImageURL makes a possibly-relative image URL absolute against the
// page base and rejects known placeholder/loading images. Returns "" for
// unusable URLs.
func ResolveImageURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	lower := strings.ToLower(raw)
	for _, frag := range placeholderFragments {
		if strings.Contains(lower, frag) {
			return ""
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

// NormalizeText trims and collapses internal whitespace.
func NormalizeText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}
