package warehouse

import (
	"context"
	"fmt"
)

// Check is a single audit assertion. A warning passes but deserves a look.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Warning bool   `json:"warning,omitempty"`
	Detail  string `json:"detail"`
}

// AuditReport is the outcome of Audit.
type AuditReport struct {
	Checks []Check `json:"checks"`
}

// Passed reports whether every check passed.
func (r AuditReport) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r AuditReport) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Audit verifies natural-key uniqueness of every dimension, referential
// completeness of every fact reference, and how much of each upstream layer
// reached the next. Coverage gaps are warnings: dropped records are allowed.
func Audit(ctx context.Context, store Store) (AuditReport, error) {
	var report AuditReport
	err := store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		report = AuditReport{}

		for _, dim := range Dimensions {
			n, err := tx.DuplicateKeys(ctx, dim)
			if err != nil {
				return fmt.Errorf("duplicate keys %s: %w", dim.Table, err)
			}
			report.Checks = append(report.Checks, Check{
				Name:   "unique " + dim.Table,
				Passed: n == 0,
				Detail: fmt.Sprintf("%d duplicated natural keys", n),
			})
		}

		for _, fact := range Facts {
			for _, ref := range fact.References {
				n, err := tx.DanglingReferences(ctx, fact, ref)
				if err != nil {
					return fmt.Errorf("dangling references %s.%s: %w", fact.Table, ref.Column, err)
				}
				report.Checks = append(report.Checks, Check{
					Name:   fmt.Sprintf("references %s.%s", fact.Table, ref.Column),
					Passed: n == 0,
					Detail: fmt.Sprintf("%d rows without a matching %s row", n, ref.Dimension.Table),
				})
			}
		}

		staged, err := tx.DistinctStagingIDs(ctx)
		if err != nil {
			return fmt.Errorf("distinct staging ids: %w", err)
		}
		reconciled, err := tx.Count(ctx, ReconciledEarthquakes.Table)
		if err != nil {
			return fmt.Errorf("count %s: %w", ReconciledEarthquakes.Table, err)
		}
		analytical, err := tx.Count(ctx, EarthquakeFacts.Table)
		if err != nil {
			return fmt.Errorf("count %s: %w", EarthquakeFacts.Table, err)
		}

		report.Checks = append(report.Checks,
			coverage("coverage "+ReconciledEarthquakes.Table, reconciled, staged, "staged events"),
			coverage("coverage "+EarthquakeFacts.Table, analytical, reconciled, "reconciled events"),
		)
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	return report, nil
}

// coverage passes while got <= want; fewer rows than upstream is a warning.
func coverage(name string, got, want int, upstream string) Check {
	c := Check{
		Name:   name,
		Passed: got <= want,
		Detail: fmt.Sprintf("%d of %d %s", got, want, upstream),
	}
	if c.Passed && got < want {
		c.Warning = true
	}
	return c
}
