package warehouse

import (
	"context"
	"fmt"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
)

// ResolveAnalytical writes one star-schema fact per reconciled event whose
// five analytical keys resolve, with the same drop-and-count and
// insert-or-skip behaviour as ResolveReconciled.
func ResolveAnalytical(ctx context.Context, tx Tx, l lookup, events []domain.ReconciledEvent) (FactCounts, error) {
	var counts FactCounts
	counts.Source = len(events)

	for _, ev := range events {
		r := newResolver(ctx, l)
		fact := domain.AnalyticalFact{
			EarthquakeID:    ev.EarthquakeID,
			Magnitude:       ev.Magnitude,
			Depth:           ev.Depth,
			TimeID:          r.id(TimeDim, domain.ProjectTime(ev)),
			LocationID:      r.id(LocationDim, domain.ProjectLocationDim(ev)),
			MagnitudeTypeID: r.id(MagnitudeTypeDim, domain.ProjectMagnitudeType(ev)),
			DataSourceID:    r.id(DataSourceDim, domain.ProjectDataSourceDim(ev)),
			StatusID:        r.id(StatusDim, domain.ProjectStatus(ev)),
		}
		if r.err != nil {
			return counts, r.err
		}
		if !r.resolved {
			counts.drop(ev.EarthquakeID)
			continue
		}

		inserted, err := tx.InsertAnalytical(ctx, fact)
		if err != nil {
			return counts, fmt.Errorf("insert analytical %s: %w", ev.EarthquakeID, err)
		}
		counts.record(inserted)
	}
	return counts, nil
}
