package warehouse

import (
	"context"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
)

// AnalyticalDimensions deduplicates the five star-schema dimensions from the
// reconciled events, keyed by table name.
func AnalyticalDimensions(ctx context.Context, tx Tx, events []domain.ReconciledEvent) (map[string]DimensionCounts, error) {
	steps := []struct {
		dim Dimension
		run func() (DimensionCounts, error)
	}{
		{TimeDim, func() (DimensionCounts, error) {
			return Deduplicate(ctx, tx, TimeDim, events, domain.ProjectTime)
		}},
		{LocationDim, func() (DimensionCounts, error) {
			return Deduplicate(ctx, tx, LocationDim, events, domain.ProjectLocationDim)
		}},
		{MagnitudeTypeDim, func() (DimensionCounts, error) {
			return Deduplicate(ctx, tx, MagnitudeTypeDim, events, domain.ProjectMagnitudeType)
		}},
		{DataSourceDim, func() (DimensionCounts, error) {
			return Deduplicate(ctx, tx, DataSourceDim, events, domain.ProjectDataSourceDim)
		}},
		{StatusDim, func() (DimensionCounts, error) {
			return Deduplicate(ctx, tx, StatusDim, events, domain.ProjectStatus)
		}},
	}

	counts := make(map[string]DimensionCounts, len(steps))
	for _, s := range steps {
		c, err := s.run()
		if err != nil {
			return nil, err
		}
		counts[s.dim.Table] = c
	}
	return counts, nil
}
