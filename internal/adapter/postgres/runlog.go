package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

var _ warehouse.Recorder = (*Store)(nil)

// Record appends a pipeline run report to etl_run_log.
func (s *Store) Record(ctx context.Context, report warehouse.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO etl_run_log (run_id, started_at, finished_at, succeeded, report)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (run_id) DO NOTHING`,
		report.RunID.String(), report.StartedAt, report.FinishedAt, report.Succeeded(), body)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit run reports, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]warehouse.RunReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM etl_run_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run log: %w", err)
	}
	defer rows.Close()

	var reports []warehouse.RunReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		var r warehouse.RunReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decode run report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
