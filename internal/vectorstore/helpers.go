package vectorstore

import (
	"sort"

	"golang.org/x/sync/singleflight"
)

// ValidateDimensions checks every record's vector against the dimension the
// index is provisioned with. It runs before any write so a misconfigured
// model never corrupts an index.
func ValidateDimensions(records []ChunkRecord, provider, model string, expected int) error {
	for _, record := range records {
		if len(record.Vector) != expected {
			return &DimensionMismatchError{
				Provider: provider,
				Model:    model,
				Expected: expected,
				Actual:   len(record.Vector),
			}
		}
	}
	return nil
}

// RankResults filters hits below minScore, orders by score descending with
// ties broken by chunk Order ascending, and caps the result at topK. Both
// backends rank through here so equal-score results paginate identically.
func RankResults(results []SearchResult, topK int, minScore float64) []SearchResult {
	ranked := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			ranked = append(ranked, r)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Order < ranked[j].Order
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// EnsureGroup collapses concurrent EnsureCollection calls for the same
// collection name into a single in-flight creation, so two ingests racing
// into a brand-new collection cannot trip duplicate-creation responses.
type EnsureGroup struct {
	group singleflight.Group
}

// Do runs fn for the collection name unless an identical call is already in
// flight, in which case it waits for that call's result.
func (g *EnsureGroup) Do(name string, fn func() error) error {
	_, err, _ := g.group.Do(name, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
