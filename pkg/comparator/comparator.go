package comparator

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/bidcheck/bidcheck/internal/models"
)

// Finding is one conflicting cross-document value pair. The orchestrator
// turns findings into persisted conflicts.
type Finding struct {
	Type        models.ConflictType
	Severity    models.Severity
	Description string
	Source      models.ExtractedValue
	Target      models.ExtractedValue
}

type ComparatorConfig struct {
	// Tolerance is the relative difference above which two numeric
	// values conflict. Strictly greater-than: exactly 1% apart is fine.
	Tolerance float64
}

type Comparator struct {
	config  ComparatorConfig
	printer *message.Printer
}

func NewWithConfig(config ComparatorConfig) *Comparator {
	if config.Tolerance == 0 {
		config.Tolerance = 0.01
	}

	return &Comparator{
		config:  config,
		printer: message.NewPrinter(language.English),
	}
}

func New() *Comparator {
	return NewWithConfig(ComparatorConfig{})
}

// Compare partitions values by context and flags conflicting
// cross-document pairs of equal type. Date values conflict on raw
// string inequality; everything else on relative numeric difference.
func (c *Comparator) Compare(values []models.ExtractedValue) []Finding {
	buckets := make(map[string][]models.ExtractedValue)
	var order []string
	for _, v := range values {
		if _, seen := buckets[v.Context]; !seen {
			order = append(order, v.Context)
		}
		buckets[v.Context] = append(buckets[v.Context], v)
	}

	var findings []Finding
	for _, context := range order {
		bucket := buckets[context]
		if len(bucket) < 2 {
			continue
		}

		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a.DocumentID == b.DocumentID || a.Type != b.Type {
					continue
				}
				if !c.conflicting(a, b) {
					continue
				}

				findings = append(findings, Finding{
					Type:        conflictTypeFor(a.Type),
					Severity:    c.severity(a, b),
					Description: c.describe(a, b),
					Source:      a,
					Target:      b,
				})
			}
		}
	}

	return findings
}

func (c *Comparator) conflicting(a, b models.ExtractedValue) bool {
	if a.Type == models.ValueTypeDate {
		return a.Raw != b.Raw
	}

	larger := math.Max(a.Number, b.Number)
	if larger <= 0 {
		return false
	}
	return math.Abs(a.Number-b.Number)/larger > c.config.Tolerance
}

// severity ranks a conflicting pair. Dates and dollar amounts are
// always high; other numeric types scale with the relative difference.
func (c *Comparator) severity(a, b models.ExtractedValue) models.Severity {
	if a.Type == models.ValueTypeDate || a.Type == models.ValueTypeCurrency {
		return models.SeverityHigh
	}

	larger := math.Max(a.Number, b.Number)
	if larger <= 0 {
		return models.SeverityLow
	}
	diff := math.Abs(a.Number-b.Number) / larger

	switch {
	case diff > 0.5:
		return models.SeverityCritical
	case diff > 0.2:
		return models.SeverityHigh
	case diff > 0.05:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (c *Comparator) describe(a, b models.ExtractedValue) string {
	switch a.Type {
	case models.ValueTypeCurrency:
		return fmt.Sprintf("Conflicting amounts for %q: %s vs %s",
			a.Context, c.formatCurrency(a.Number), c.formatCurrency(b.Number))
	case models.ValueTypePercentage:
		return fmt.Sprintf("Conflicting percentages for %q: %s%% vs %s%%",
			a.Context, formatNumber(a.Number), formatNumber(b.Number))
	case models.ValueTypeDate:
		return fmt.Sprintf("Conflicting dates for %q: %q vs %q",
			a.Context, a.Raw, b.Raw)
	case models.ValueTypeDuration, models.ValueTypeQuantity:
		return fmt.Sprintf("Conflicting values for %q: %s %s vs %s %s",
			a.Context, formatNumber(a.Number), a.Unit, formatNumber(b.Number), b.Unit)
	default:
		return fmt.Sprintf("Conflicting values for %q: %s vs %s",
			a.Context, formatNumber(a.Number), formatNumber(b.Number))
	}
}

func (c *Comparator) formatCurrency(v float64) string {
	return c.printer.Sprintf("$%v", number.Decimal(v, number.MaxFractionDigits(2)))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// conflictTypeFor reclassifies date findings as temporal; every other
// extracted type is a numeric conflict.
func conflictTypeFor(t models.ValueType) models.ConflictType {
	if t == models.ValueTypeDate {
		return models.ConflictTypeTemporal
	}
	return models.ConflictTypeNumeric
}
