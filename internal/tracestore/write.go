package tracestore

import (
	"context"
	"fmt"

	"github.com/roach88/easystate/internal/canonical"
	"github.com/roach88/easystate/internal/harness"
)

// Run is a recorded scenario run.
type Run struct {
	ID       string
	Scenario string
	Pass     bool
	// Seq is the run's position in the store, starting at 1.
	Seq int64
	// TraceHash identifies the notification sequence. Two runs that
	// notified the same observers in the same modes with the same states
	// share it.
	TraceHash string
	Frames    int
	Errors    []string
}

// Notification is one recorded observer notification.
type Notification struct {
	RunID     string
	Seq       int64
	Observer  string
	Mode      string
	Revision  int64
	StateHash string
	State     any
}

// WriteRun records a harness result in one transaction and returns the
// stored run.
//
// Every notification state must have a canonical JSON form; fractional
// numbers are rejected and nothing is written.
func (s *Store) WriteRun(ctx context.Context, result *harness.Result) (Run, error) {
	type row struct {
		ev        harness.TraceEvent
		stateJSON string
		stateHash string
	}

	rows := make([]row, len(result.Trace))
	digest := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		data, hash, err := marshalState(ev.State)
		if err != nil {
			return Run{}, fmt.Errorf("write run: notification %d: %w", ev.Seq, err)
		}
		rows[i] = row{ev: ev, stateJSON: data, stateHash: hash}
		digest[i] = map[string]any{
			"seq":        ev.Seq,
			"observer":   ev.Observer,
			"mode":       ev.Mode,
			"state_hash": hash,
		}
	}

	traceHash, err := canonical.Hash(canonical.DomainTrace, digest)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}

	errorsJSON, err := marshalErrors(result.Errors)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(created_seq), 0) + 1 FROM runs`,
	).Scan(&seq); err != nil {
		return Run{}, fmt.Errorf("write run: next seq: %w", err)
	}

	run := Run{
		ID:        s.ids.Generate(),
		Scenario:  result.Scenario,
		Pass:      result.Pass,
		Seq:       seq,
		TraceHash: traceHash,
		Frames:    result.Frames,
		Errors:    append([]string{}, result.Errors...),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, pass, created_seq, trace_hash, frames, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Scenario,
		boolToInt(run.Pass),
		run.Seq,
		run.TraceHash,
		run.Frames,
		errorsJSON,
	); err != nil {
		return Run{}, fmt.Errorf("write run: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notifications (run_id, seq, observer, mode, revision, state_hash, state_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Run{}, fmt.Errorf("write run: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			run.ID,
			r.ev.Seq,
			r.ev.Observer,
			r.ev.Mode,
			r.ev.Revision,
			r.stateHash,
			r.stateJSON,
		); err != nil {
			return Run{}, fmt.Errorf("write run: insert notification %d: %w", r.ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("write run: commit: %w", err)
	}
	return run, nil
}

// DeleteRun removes a run and its notifications. Deleting a missing run is
// a no-op.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
