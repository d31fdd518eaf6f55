package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetRun returns one run row by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, work_dir, state, started_at, finished_at
		FROM runs WHERE id = ?
	`, runID)

	var rec RunRecord
	var started string
	var finished sql.NullString
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.WorkDir, &rec.State, &started, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	var err error
	rec.StartedAt, err = time.Parse(timeFormat, started)
	if err != nil {
		return nil, fmt.Errorf("get run: parse started_at: %w", err)
	}
	if finished.Valid {
		rec.FinishedAt, err = time.Parse(timeFormat, finished.String)
		if err != nil {
			return nil, fmt.Errorf("get run: parse finished_at: %w", err)
		}
	}
	return &rec, nil
}

// StageEvents returns all stage events for a run in sequence order.
func (s *Store) StageEvents(ctx context.Context, runID string) ([]StageEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, stage, status, message, duration_ms
		FROM stage_events WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("stage events: %w", err)
	}
	defer rows.Close()

	var events []StageEventRecord
	for rows.Next() {
		var ev StageEventRecord
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Stage, &ev.Status, &ev.Message, &ev.DurationMS); err != nil {
			return nil, fmt.Errorf("stage events: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage events: %w", err)
	}
	return events, nil
}

// RecentComparisons returns the newest comparison rows, most recent first.
func (s *Store) RecentComparisons(ctx context.Context, limit int) ([]ComparisonRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ref_run_id, test_run_id, pass, ks_statistic, ks_p_value,
		       sigma_diff, relative_sigma, details, created_at
		FROM comparisons ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent comparisons: %w", err)
	}
	defer rows.Close()

	var recs []ComparisonRecord
	for rows.Next() {
		var rec ComparisonRecord
		var pass int
		var created string
		if err := rows.Scan(&rec.ID, &rec.RefRunID, &rec.TestRunID, &pass,
			&rec.KSStatistic, &rec.KSPValue, &rec.SigmaDiff, &rec.RelativeSigma,
			&rec.Details, &created); err != nil {
			return nil, fmt.Errorf("recent comparisons: %w", err)
		}
		rec.Pass = pass != 0
		rec.CreatedAt, err = time.Parse(timeFormat, created)
		if err != nil {
			return nil, fmt.Errorf("recent comparisons: parse created_at: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent comparisons: %w", err)
	}
	return recs, nil
}
