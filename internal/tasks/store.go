package tasks

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound indicates the referenced task does not exist.
var ErrNotFound = errors.New("task not found")

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	backoffBase time.Duration
	backoffCap  time.Duration
}

// StoreOption configures optional Store behavior.
type StoreOption func(*Store)

// WithBackoff overrides the retry backoff base and cap.
func WithBackoff(base, cap time.Duration) StoreOption {
	return func(s *Store) {
		if base > 0 {
			s.backoffBase = base
		}
		if cap >= base {
			s.backoffCap = cap
		}
	}
}

// Open initializes or connects to the task database at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tasks schema: %w", err)
	}

	store := &Store{
		db:          db,
		path:        path,
		backoffBase: 5 * time.Second,
		backoffCap:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnqueueOption configures a single enqueue call.
type EnqueueOption func(*enqueueParams)

type enqueueParams struct {
	dedupeKey string
	priority  int
	jobID     int64
}

// WithDedupeKey makes the enqueue idempotent: when a task with the same
// key already exists (in any state), its id is returned and no new task
// is created.
func WithDedupeKey(key string) EnqueueOption {
	return func(p *enqueueParams) { p.dedupeKey = strings.TrimSpace(key) }
}

// WithPriority raises or lowers the task's priority class. Higher runs first.
func WithPriority(priority int) EnqueueOption {
	return func(p *enqueueParams) { p.priority = priority }
}

// WithJobID associates the task with a recording job for staleness
// marking and diagnostics.
func WithJobID(id int64) EnqueueOption {
	return func(p *enqueueParams) { p.jobID = id }
}

// Enqueue inserts a queued task and returns its id. The payload is
// JSON-encoded. See WithDedupeKey for idempotent enqueues.
func (s *Store) Enqueue(ctx context.Context, taskType string, payload any, maxAttempts int, opts ...EnqueueOption) (int64, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return 0, errors.New("task type is required")
	}
	if maxAttempts <= 0 {
		return 0, errors.New("max attempts must be positive")
	}

	params := enqueueParams{}
	for _, opt := range opts {
		opt(&params)
	}

	encoded := "{}"
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload: %w", err)
		}
		encoded = string(raw)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (type, payload, status, priority, max_attempts, next_run_at, dedupe_key, job_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING`,
		taskType,
		encoded,
		StatusQueued,
		params.priority,
		maxAttempts,
		now,
		nullableString(params.dedupeKey),
		params.jobID,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	}

	// Dedupe hit: hand back the existing task's id.
	var existing int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM tasks WHERE dedupe_key = ?`, params.dedupeKey).Scan(&existing)
	if err != nil {
		return 0, fmt.Errorf("resolve deduped task: %w", err)
	}
	return existing, nil
}

// DequeueNext claims the oldest runnable task (FIFO within priority
// class) and returns it with status running. Returns nil when no task
// is due.
func (s *Store) DequeueNext(ctx context.Context) (*Task, error) {
	for {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+taskColumns+` FROM tasks
             WHERE status IN (?, ?) AND stale = 0 AND next_run_at <= ?
             ORDER BY priority DESC, created_at, id LIMIT 1`,
			StatusQueued,
			StatusRetrying,
			now,
		)
		task, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select next task: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusRunning,
			now,
			task.ID,
			task.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("claim task %d: %w", task.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the claim race; try the next candidate.
			continue
		}
		task.Status = StatusRunning
		return task, nil
	}
}

// Complete marks a running task succeeded.
func (s *Store) Complete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		StatusSucceeded,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Fail records a handler failure. Below the attempt budget the task is
// rescheduled with exponential backoff and status retrying; once the
// budget is exhausted it is terminally failed. The resulting status is
// returned.
func (s *Store) Fail(ctx context.Context, id int64, failure error) (Status, error) {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	message := "unknown failure"
	if failure != nil {
		message = failure.Error()
	}

	attempts := task.AttemptCount + 1
	status := StatusRetrying
	nextRun := time.Now().UTC().Add(Backoff(attempts, s.backoffBase, s.backoffCap))
	if attempts >= task.MaxAttempts {
		status = StatusFailed
		nextRun = time.Now().UTC()
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, attempt_count = ?, next_run_at = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		status,
		attempts,
		nextRun.Format(time.RFC3339Nano),
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return "", fmt.Errorf("fail task %d: %w", id, err)
	}
	return status, nil
}

// MarkStaleForJob flags every pending task for a job so workers skip it.
func (s *Store) MarkStaleForJob(ctx context.Context, jobID int64) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET stale = 1, updated_at = ? WHERE job_id = ? AND status IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		StatusQueued,
		StatusRetrying,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale for job %d: %w", jobID, err)
	}
	return res.RowsAffected()
}

// Requeue resets a task to queued with a fresh attempt budget. Used by
// the operator retry surface.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, attempt_count = 0, stale = 0, next_run_at = ?, last_error = NULL, updated_at = ?
         WHERE id = ?`,
		StatusQueued,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("requeue task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// GetByID fetches a task by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ForJob returns every task associated with a recording job.
func (s *Store) ForJob(ctx context.Context, jobID int64) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("tasks for job: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// List returns tasks filtered by status set, oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := make([]string, len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+strings.Join(placeholders, ",")+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// StuckRunning returns tasks claimed by a worker that has not touched
// them since cutoff, which indicates the worker died mid-task.
func (s *Store) StuckRunning(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND updated_at < ? ORDER BY created_at, id`,
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const taskColumns = "id, type, payload, status, priority, attempt_count, max_attempts, next_run_at, last_error, dedupe_key, job_id, stale, created_at, updated_at"

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           int64
		taskType     string
		payload      sql.NullString
		statusStr    string
		priority     int
		attemptCount int
		maxAttempts  int
		nextRunRaw   sql.NullString
		lastError    sql.NullString
		dedupeKey    sql.NullString
		jobID        int64
		stale        int
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&taskType,
		&payload,
		&statusStr,
		&priority,
		&attemptCount,
		&maxAttempts,
		&nextRunRaw,
		&lastError,
		&dedupeKey,
		&jobID,
		&stale,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:           id,
		Type:         taskType,
		Payload:      payload.String,
		Status:       Status(statusStr),
		Priority:     priority,
		AttemptCount: attemptCount,
		MaxAttempts:  maxAttempts,
		LastError:    lastError.String,
		DedupeKey:    dedupeKey.String,
		JobID:        jobID,
		Stale:        stale != 0,
	}
	if next, err := time.Parse(time.RFC3339Nano, nextRunRaw.String); err == nil {
		task.NextRunAt = next
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
