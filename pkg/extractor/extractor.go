package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bidcheck/bidcheck/internal/models"
)

// defaultContextKeywords drive the grouping key for the comparator.
// Values whose surrounding sentence shares keywords across documents
// become candidates for conflict, so this list directly controls recall.
var defaultContextKeywords = []string{
	"total", "cost", "price", "budget", "deadline", "completion",
	"duration", "area", "quantity", "material", "labor", "equipment",
	"project", "phase", "timeline", "payment", "retainage",
}

type ExtractorConfig struct {
	ContextKeywords []string
}

type Extractor struct {
	config   ExtractorConfig
	patterns []pattern
}

// pattern is one typed value matcher. Each value type gets its own
// parser so severity and description logic downstream stays exhaustive.
type pattern struct {
	valueType models.ValueType
	re        *regexp.Regexp
	parse     func(raw string) (number float64, unit string, ok bool)
}

var (
	currencyRe   = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?`)
	percentageRe = regexp.MustCompile(`\d+(?:\.\d+)?\s?%`)
	dateRe       = regexp.MustCompile(`(?i)(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}|\b\d{1,2}/\d{1,2}/\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	durationRe   = regexp.MustCompile(`(?i)\b\d[\d,]*(?:\.\d+)?\s?(?:calendar days?|business days?|working days?|days?|weeks?|months?|years?|hours?)\b`)
	quantityRe   = regexp.MustCompile(`(?i)\b\d[\d,]*(?:\.\d+)?\s?(?:units?|square feet|sq\.?\s?ft\.?|linear feet|cubic yards?|tons?|each|pieces?)\b`)
	numberRe     = regexp.MustCompile(`\b\d[\d,]*(?:\.\d+)?\b`)
)

func NewWithConfig(config ExtractorConfig) *Extractor {
	if len(config.ContextKeywords) == 0 {
		config.ContextKeywords = defaultContextKeywords
	}

	// Fixed application order: earlier types claim their character
	// spans so the generic number pattern does not re-match the digits
	// inside a dollar amount or a date.
	patterns := []pattern{
		{models.ValueTypeCurrency, currencyRe, parseCurrency},
		{models.ValueTypePercentage, percentageRe, parsePercentage},
		{models.ValueTypeDate, dateRe, parseDate},
		{models.ValueTypeDuration, durationRe, parseUnitNumber},
		{models.ValueTypeQuantity, quantityRe, parseUnitNumber},
		{models.ValueTypeNumber, numberRe, parseNumber},
	}

	return &Extractor{
		config:   config,
		patterns: patterns,
	}
}

func New() *Extractor {
	return NewWithConfig(ExtractorConfig{})
}

// Extract scans chunk text for structured value mentions. Matches that
// fail to parse are dropped without affecting the rest of the chunk.
func (e *Extractor) Extract(chunk models.Chunk) []models.ExtractedValue {
	var values []models.ExtractedValue
	var claimed [][2]int

	for _, p := range e.patterns {
		for _, loc := range p.re.FindAllStringIndex(chunk.Content, -1) {
			start, end := loc[0], loc[1]
			if overlaps(claimed, start, end) {
				continue
			}

			raw := chunk.Content[start:end]
			number, unit, ok := p.parse(raw)
			if !ok {
				continue
			}
			claimed = append(claimed, [2]int{start, end})

			values = append(values, models.ExtractedValue{
				Raw:        raw,
				Number:     number,
				Type:       p.valueType,
				Unit:       unit,
				Context:    e.contextLabel(chunk.Content, start),
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
				Position:   start,
			})
		}
	}

	return values
}

// contextLabel joins the context keywords found in the sentence around
// pos, falling back to "general".
func (e *Extractor) contextLabel(text string, pos int) string {
	sentence := strings.ToLower(SentenceAt(text, pos))

	var matched []string
	for _, kw := range e.config.ContextKeywords {
		if strings.Contains(sentence, kw) {
			matched = append(matched, kw)
		}
	}

	if len(matched) == 0 {
		return "general"
	}
	return strings.Join(matched, "_")
}

// SentenceAt returns the sentence of text containing the character
// offset pos. Used both for context labeling and for the snippet shown
// alongside a numeric conflict.
func SentenceAt(text string, pos int) string {
	if pos < 0 || pos >= len(text) {
		return ""
	}

	start := pos
	for start > 0 && !isSentenceEnd(text[start-1]) {
		start--
	}

	end := pos
	for end < len(text) && !isSentenceEnd(text[end]) {
		end++
	}
	if end < len(text) {
		end++ // include the terminator
	}

	return strings.TrimSpace(text[start:end])
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?' || b == '\n'
}

func overlaps(claimed [][2]int, start, end int) bool {
	for _, span := range claimed {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func parseCurrency(raw string) (float64, string, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, "", false
	}
	return n, "USD", true
}

func parsePercentage(raw string) (float64, string, bool) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, "", false
	}
	return n, "%", true
}

// parseDate keeps the raw matched string. Dates are deliberately not
// calendar-normalized; conflict detection compares the raw strings, so
// "March 1, 2025" and "3/1/2025" count as different values.
func parseDate(raw string) (float64, string, bool) {
	return 0, "", true
}

// parseUnitNumber handles duration and quantity matches, where the
// match is a number followed by a unit word.
func parseUnitNumber(raw string) (float64, string, bool) {
	i := 0
	for i < len(raw) && (raw[i] >= '0' && raw[i] <= '9' || raw[i] == ',' || raw[i] == '.') {
		i++
	}

	cleaned := strings.ReplaceAll(raw[:i], ",", "")
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, "", false
	}

	unit := strings.ToLower(strings.TrimSpace(raw[i:]))
	return n, unit, true
}

func parseNumber(raw string) (float64, string, bool) {
	cleaned := strings.ReplaceAll(raw, ",", "")
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, "", false
	}
	return n, "", true
}
