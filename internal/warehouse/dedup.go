package warehouse

import (
	"context"
	"fmt"
)

// DimensionCounts summarises one deduplication pass over a dimension.
type DimensionCounts struct {
	Distinct int `json:"distinct"`
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// Deduplicate projects every record onto its natural key and ensures exactly
// one row per distinct key in dim. Keys are ensured in first-seen order;
// rows that already exist are left untouched.
func Deduplicate[R any, K Key](ctx context.Context, tx Tx, dim Dimension, records []R, project func(R) K) (DimensionCounts, error) {
	keys := distinctKeys(records, project)

	var counts DimensionCounts
	counts.Distinct = len(keys)
	for _, k := range keys {
		_, created, err := tx.Ensure(ctx, dim, k)
		if err != nil {
			return counts, fmt.Errorf("ensure %s: %w", dim.Table, err)
		}
		if created {
			counts.Inserted++
		} else {
			counts.Existing++
		}
	}
	return counts, nil
}

func distinctKeys[R any, K Key](records []R, project func(R) K) []K {
	seen := make(map[K]struct{}, len(records))
	keys := make([]K, 0, len(records))
	for _, r := range records {
		k := project(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
