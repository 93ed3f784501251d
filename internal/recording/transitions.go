package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transition moves a job along one state-machine edge using a
// conditional update. It fails with ErrInvalidTransition for edges
// outside the state machine and ErrConflict when the row is no longer
// in the expected from state.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("%w: job %d", ErrActiveJobExists, id)
		}
		return fmt.Errorf("transition job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %d not in %s", ErrConflict, id, from)
	}
	return nil
}

// Finish drives a job to a terminal status, recording the error message
// when present. Already-terminal jobs are left untouched and reported
// via ErrConflict so callers can treat repeats as no-ops.
func (s *Store) Finish(ctx context.Context, id int64, to Status, errorMessage string) error {
	if !IsTerminalStatus(to) {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, to)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?, ?)`,
		to,
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusCompleted,
		StatusFailed,
		StatusOrphaned,
	)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %d already terminal", ErrConflict, id)
	}
	return nil
}

// AppendOutputPath records a closed segment file and bumps the segment
// index. Output paths only grow; callers append only after the file is
// confirmed flushed and closed.
func (s *Store) AppendOutputPath(ctx context.Context, id int64, path string) (*Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %d not found", ErrConflict, id)
	}
	if job.IsTerminal() {
		return nil, fmt.Errorf("%w: job %d is terminal", ErrConflict, id)
	}

	updated := append(append([]string{}, job.OutputPaths...), path)
	encoded, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("encode output paths: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET output_paths = ?, segment_index = segment_index + 1, updated_at = ?
         WHERE id = ? AND segment_index = ?`,
		string(encoded),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		job.SegmentIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("append output path: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: job %d segment index moved", ErrConflict, id)
	}
	return s.GetByID(ctx, id)
}

// SetErrorMessage records a non-fatal error note on a job without
// changing its status.
func (s *Store) SetErrorMessage(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET error_message = ?, updated_at = ? WHERE id = ?`,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set error message: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
