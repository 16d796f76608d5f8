// Package pricing maps model identifiers to per-token rates and computes
// estimated USD costs from token-category breakdowns.
package pricing

import "strings"

// Rate holds per-million-token prices for the four token categories.
type Rate struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// familyRate binds a model-family substring to its rate.
type familyRate struct {
	Family string
	Rate   Rate
}

// Table resolves model identifiers to rates by substring containment.
// Families are checked in declaration order so that lookup is deterministic
// even when an identifier matches more than one family.
type Table struct {
	families []familyRate
	fallback Rate
}

// Default model family rates. The fallback tier equals sonnet, which is the
// most common model when the identifier is unrecognized.
var defaultFamilies = []familyRate{
	{"opus", Rate{InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.5, CacheWritePerMTok: 18.75}},
	{"haiku", Rate{InputPerMTok: 0.25, OutputPerMTok: 1.25, CacheReadPerMTok: 0.03, CacheWritePerMTok: 0.30}},
	{"sonnet", Rate{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75}},
}

// DefaultTable returns a table with the built-in family rates.
func DefaultTable() *Table {
	t := &Table{
		families: make([]familyRate, len(defaultFamilies)),
		fallback: Rate{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.30, CacheWritePerMTok: 3.75},
	}
	copy(t.families, defaultFamilies)
	return t
}

// Override replaces the rate for a family, or appends the family if it is not
// in the table yet. New families are checked before the fallback but after the
// built-in ones.
func (t *Table) Override(family string, r Rate) {
	for i := range t.families {
		if t.families[i].Family == family {
			t.families[i].Rate = r
			return
		}
	}
	t.families = append(t.families, familyRate{Family: family, Rate: r})
}

// SetFallback replaces the default-tier rate.
func (t *Table) SetFallback(r Rate) {
	t.fallback = r
}

// Lookup resolves a model identifier to a rate. The identifier matches a
// family when it contains the family name (case-insensitive); unmatched
// identifiers get the fallback tier.
func (t *Table) Lookup(model string) Rate {
	lower := strings.ToLower(model)
	for _, f := range t.families {
		if strings.Contains(lower, f.Family) {
			return f.Rate
		}
	}
	return t.fallback
}

// Cost computes the estimated USD cost for a token breakdown priced at r.
func Cost(r Rate, input, output, cacheRead, cacheWrite int64) float64 {
	cost := float64(input) * r.InputPerMTok / 1_000_000
	cost += float64(output) * r.OutputPerMTok / 1_000_000
	cost += float64(cacheRead) * r.CacheReadPerMTok / 1_000_000
	cost += float64(cacheWrite) * r.CacheWritePerMTok / 1_000_000
	return cost
}

// CostOf is shorthand for pricing a breakdown by model identifier.
func (t *Table) CostOf(model string, input, output, cacheRead, cacheWrite int64) float64 {
	return Cost(t.Lookup(model), input, output, cacheRead, cacheWrite)
}

// Assumed cache split for records that carry only a bare input count.
const (
	blendedCacheReadShare  = 0.6
	blendedCacheWriteShare = 0.1
)

// EstimateBlendedCost approximates cost for partial data where only total
// input and output counts are known. It assumes a fixed 60% cache-read / 10%
// cache-write share of the input tokens. Use only for live or pre-aggregated
// sources; scans with real per-category counts must price through CostOf.
func (t *Table) EstimateBlendedCost(model string, input, output int64) float64 {
	r := t.Lookup(model)
	cacheRead := int64(float64(input) * blendedCacheReadShare)
	cacheWrite := int64(float64(input) * blendedCacheWriteShare)
	plain := input - cacheRead - cacheWrite
	return Cost(r, plain, output, cacheRead, cacheWrite)
}
