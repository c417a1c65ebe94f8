package tracestore

import (
	"context"
	"database/sql"
	"fmt"
)

// ListRuns returns recorded runs ordered by created_seq. An empty scenario
// lists every run.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context, scenario string) ([]Run, error) {
	query := `
		SELECT id, scenario, pass, created_seq, trace_hash, frames, errors
		FROM runs
	`
	var args []any
	if scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY created_seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, pass, created_seq, trace_hash, frames, errors
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// LatestRun returns the most recently written run of a scenario.
// Returns sql.ErrNoRows if the scenario has no runs.
func (s *Store) LatestRun(ctx context.Context, scenario string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, pass, created_seq, trace_hash, frames, errors
		FROM runs
		WHERE scenario = ?
		ORDER BY created_seq DESC
		LIMIT 1
	`, scenario)
	return scanRun(row)
}

// ReadNotifications returns the notifications of a run ordered by seq.
//
// Returns an empty slice (not nil) if the run has none or does not exist.
func (s *Store) ReadNotifications(ctx context.Context, runID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, observer, mode, revision, state_hash, state_json
		FROM notifications
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var (
			n         Notification
			stateJSON string
		)
		if err := rows.Scan(&n.RunID, &n.Seq, &n.Observer, &n.Mode, &n.Revision, &n.StateHash, &stateJSON); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.State, err = unmarshalState(stateJSON)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run        Run
		pass       int
		errorsJSON string
	)
	if err := sc.Scan(&run.ID, &run.Scenario, &pass, &run.Seq, &run.TraceHash, &run.Frames, &errorsJSON); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Pass = pass == 1

	errs, err := unmarshalErrors(errorsJSON)
	if err != nil {
		return Run{}, err
	}
	run.Errors = errs
	return run, nil
}
