package store

import (
	"context"
	"fmt"
	"time"
)

// RunRecord is one pipeline run's row.
type RunRecord struct {
	ID         string
	Kind       string // "reference" or "test"
	WorkDir    string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time // zero until the run finishes
}

// StageEventRecord is one stage transition of a run.
type StageEventRecord struct {
	RunID      string
	Seq        int
	Stage      string
	Status     string
	Message    string
	DurationMS int64
}

// ComparisonRecord is the persisted outcome of one dual-run comparison.
type ComparisonRecord struct {
	ID            string
	RefRunID      string
	TestRunID     string
	Pass          bool
	KSStatistic   float64
	KSPValue      float64
	SigmaDiff     float64
	RelativeSigma float64
	Details       string
	CreatedAt     time.Time
}

// timeFormat is the canonical timestamp encoding for all rows.
const timeFormat = time.RFC3339Nano

// BeginRun inserts a new run row in the given state.
func (s *Store) BeginRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, work_dir, state, started_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Kind, rec.WorkDir, rec.State, rec.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal state and finish time.
func (s *Store) FinishRun(ctx context.Context, runID, state string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, finished_at = ? WHERE id = ?
	`,
		state, finishedAt.UTC().Format(timeFormat), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %s", runID)
	}
	return nil
}

// WriteStageEvent appends one stage event for a run.
func (s *Store) WriteStageEvent(ctx context.Context, ev StageEventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_events (run_id, seq, stage, status, message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		ev.RunID, ev.Seq, ev.Stage, ev.Status, ev.Message, ev.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("write stage event: %w", err)
	}
	return nil
}

// WriteComparison inserts one comparison outcome.
func (s *Store) WriteComparison(ctx context.Context, rec ComparisonRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comparisons
		(id, ref_run_id, test_run_id, pass, ks_statistic, ks_p_value, sigma_diff, relative_sigma, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.RefRunID, rec.TestRunID, boolToInt(rec.Pass),
		rec.KSStatistic, rec.KSPValue, rec.SigmaDiff, rec.RelativeSigma,
		rec.Details, rec.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("write comparison: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
