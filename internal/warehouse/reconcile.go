package warehouse

import (
	"context"
	"fmt"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
)

// unresolvedSampleSize caps the dropped IDs kept in a stage report.
const unresolvedSampleSize = 20

// FactCounts summarises one fact-resolution pass.
type FactCounts struct {
	Source           int      `json:"source"`
	Inserted         int      `json:"inserted"`
	Existing         int      `json:"existing"`
	Unresolved       int      `json:"unresolved"`
	UnresolvedSample []string `json:"unresolved_sample,omitempty"`
}

func (c *FactCounts) drop(earthquakeID string) {
	c.Unresolved++
	if len(c.UnresolvedSample) < unresolvedSampleSize {
		c.UnresolvedSample = append(c.UnresolvedSample, earthquakeID)
	}
}

func (c *FactCounts) record(inserted bool) {
	if inserted {
		c.Inserted++
	} else {
		c.Existing++
	}
}

// lookup is the read side of Tx used by the fact resolvers.
type lookup interface {
	Lookup(ctx context.Context, dim Dimension, key domain.NaturalKey) (int64, bool, error)
}

// resolver accumulates surrogate IDs for one record and remembers whether
// any key failed to resolve.
type resolver struct {
	ctx      context.Context
	lookup   lookup
	err      error
	resolved bool
}

func newResolver(ctx context.Context, l lookup) *resolver {
	return &resolver{ctx: ctx, lookup: l, resolved: true}
}

func (r *resolver) id(dim Dimension, key domain.NaturalKey) int64 {
	if r.err != nil || !r.resolved {
		return 0
	}
	id, found, err := r.lookup.Lookup(r.ctx, dim, key)
	if err != nil {
		r.err = fmt.Errorf("lookup %s: %w", dim.Table, err)
		return 0
	}
	if !found {
		r.resolved = false
	}
	return id
}

// ReconcileDimensions deduplicates the staging records into the four
// reconciled dimensions, keyed by table name.
func ReconcileDimensions(ctx context.Context, tx Tx, records []domain.StagingRecord) (map[string]DimensionCounts, error) {
	counts := make(map[string]DimensionCounts, 4)

	c, err := Deduplicate(ctx, tx, Location, records, domain.ProjectLocation)
	if err != nil {
		return nil, err
	}
	counts[Location.Table] = c

	if c, err = Deduplicate(ctx, tx, MagnitudeDetail, records, domain.ProjectMagnitude); err != nil {
		return nil, err
	}
	counts[MagnitudeDetail.Table] = c

	if c, err = Deduplicate(ctx, tx, SeismicMetrics, records, domain.ProjectSeismicMetrics); err != nil {
		return nil, err
	}
	counts[SeismicMetrics.Table] = c

	if c, err = Deduplicate(ctx, tx, DataSource, records, domain.ProjectDataSource); err != nil {
		return nil, err
	}
	counts[DataSource.Table] = c

	return counts, nil
}

// ResolveReconciled writes one reconciled fact per staging record whose four
// natural keys resolve. Records with an unresolved key are dropped and
// counted; an existing fact with the same earthquake ID is left untouched.
func ResolveReconciled(ctx context.Context, tx Tx, l lookup, records []domain.StagingRecord) (FactCounts, error) {
	var counts FactCounts
	counts.Source = len(records)

	for _, rec := range records {
		r := newResolver(ctx, l)
		fact := domain.ReconciledEarthquake{
			EarthquakeID:     rec.EarthquakeID,
			Time:             domain.NormalizeTime(rec.Time),
			Updated:          domain.NormalizeTime(rec.Updated),
			Status:           rec.Status,
			Type:             rec.Type,
			Magnitude:        rec.Magnitude,
			Depth:            rec.Depth,
			LocationID:       r.id(Location, domain.ProjectLocation(rec)),
			MagnitudeID:      r.id(MagnitudeDetail, domain.ProjectMagnitude(rec)),
			SeismicMetricsID: r.id(SeismicMetrics, domain.ProjectSeismicMetrics(rec)),
			DataSourceID:     r.id(DataSource, domain.ProjectDataSource(rec)),
		}
		if r.err != nil {
			return counts, r.err
		}
		if !r.resolved {
			counts.drop(rec.EarthquakeID)
			continue
		}

		inserted, err := tx.InsertReconciled(ctx, fact)
		if err != nil {
			return counts, fmt.Errorf("insert reconciled %s: %w", rec.EarthquakeID, err)
		}
		counts.record(inserted)
	}
	return counts, nil
}
