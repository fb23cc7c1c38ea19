package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"conveyor/internal/config"
	"conveyor/internal/logging"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open initializes or connects to the job database and applies migrations.
// A nil logger disables store-level diagnostics.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, logger: logging.NewComponentLogger(logger, "jobstore")}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
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

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CreateJob inserts a new pending job with its work items.
func (s *Store) CreateJob(ctx context.Context, items []ItemSpec) (*Job, error) {
	if len(items) == 0 {
		return nil, errors.New("job requires at least one work item")
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.Code == "" {
			return nil, errors.New("work item code must not be empty")
		}
		if _, dup := seen[item.Code]; dup {
			return nil, fmt.Errorf("duplicate work item code %q", item.Code)
		}
		seen[item.Code] = struct{}{}
	}

	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (id, state, progress, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, StatePending, timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	for _, item := range items {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO job_items (job_id, platform, code, attempts, state, updated_at)
             VALUES (?, ?, ?, 0, ?, ?)`,
			id, item.Platform, item.Code, ItemQueued, timestamp,
		); err != nil {
			return nil, fmt.Errorf("insert work item %q: %w", item.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns ErrNotFound when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// SetState transitions a job between lifecycle states, rejecting any movement
// not in the legal transition table. Completing a job forces progress to 100.
func (s *Store) SetState(ctx context.Context, id string, to State, errorMessage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from State
	row := tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("read job state: %w", err)
	}
	if !CanTransition(from, to) {
		terr := &TransitionError{JobID: id, From: from, To: to}
		s.logger.ErrorContext(ctx, "illegal job state transition",
			logging.String(logging.FieldJobID, id),
			logging.String("from", string(from)),
			logging.String("to", string(to)))
		return terr
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if to == StateCompleted {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs SET state = ?, progress = 100, error_message = NULL, updated_at = ? WHERE id = ?`,
			to, timestamp, id,
		)
	} else {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs SET state = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			to, nullableString(errorMessage), timestamp, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set state: %w", err)
	}
	return nil
}

// AppendProgress adds a delta to the job progress, clamping the result to
// 100. The read-modify-write happens inside a single guarded UPDATE so that
// concurrent appenders serialize inside SQLite instead of racing a
// read-to-write upgrade. Appends to jobs that are not running are dropped
// with a warning rather than failing the caller.
func (s *Store) AppendProgress(ctx context.Context, id string, delta int) error {
	if delta <= 0 {
		return nil
	}

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET progress = MIN(100, progress + ?), updated_at = ? WHERE id = ? AND state = ?`,
		delta, time.Now().UTC().Format(time.RFC3339Nano), id, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var state State
	row := s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("read job state: %w", err)
	}
	s.logger.WarnContext(ctx, "dropping progress update for non-running job",
		logging.String(logging.FieldJobID, id),
		logging.String("state", string(state)),
		logging.Int("delta", delta))
	return nil
}

// AppendLog adds one entry to the append-only job log.
func (s *Store) AppendLog(ctx context.Context, id, level, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		id, level, message, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// Logs returns the full job log in append order.
func (s *Store) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, level, message, created_at FROM job_logs WHERE job_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry      LogEntry
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetStatus returns the externally visible view of a job: state, progress,
// hard failures, and the full log.
func (s *Store) GetStatus(ctx context.Context, id string) (*Status, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	log, err := s.Logs(ctx, id)
	if err != nil {
		return nil, err
	}
	failed, err := s.ItemsByState(ctx, id, ItemHardFailed)
	if err != nil {
		return nil, err
	}
	status := &Status{
		ID:           job.ID,
		State:        job.State,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		Log:          log,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	for _, item := range failed {
		status.HardFailures = append(status.HardFailures, item.Code)
	}
	return status, nil
}

// List returns jobs filtered by state set (or all jobs when no state is provided).
func (s *Store) List(ctx context.Context, states ...State) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var list []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

// NextPending returns the oldest pending job, or nil when none exists.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at LIMIT 1`,
		StatePending,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

// Stats returns job counts grouped by lifecycle state.
func (s *Store) Stats(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return Summary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			state State
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return Summary{}, err
		}
		summary.Total += count
		switch state {
		case StatePending:
			summary.Pending += count
		case StateRunning:
			summary.Running += count
		case StateCompleted:
			summary.Completed += count
		case StateFailed:
			summary.Failed += count
		}
	}
	return summary, rows.Err()
}

// Items returns every work item for a job in insertion order.
func (s *Store) Items(ctx context.Context, jobID string) ([]*WorkItem, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM job_items WHERE job_id = ? ORDER BY id`, jobID)
}

// ItemsByState returns the job's work items in a given item state, in
// insertion order.
func (s *Store) ItemsByState(ctx context.Context, jobID string, state ItemState) ([]*WorkItem, error) {
	return s.queryItems(
		ctx,
		`SELECT `+itemColumns+` FROM job_items WHERE job_id = ? AND state = ? ORDER BY id`,
		jobID, state,
	)
}

// RecordDispatch increments the attempt count for the given item codes.
// Call once per worker invocation that includes the item.
func (s *Store) RecordDispatch(ctx context.Context, jobID string, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	placeholders := makePlaceholders(len(codes))
	args := make([]any, 0, len(codes)+2)
	args = append(args, timestamp, jobID)
	for _, code := range codes {
		args = append(args, code)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE job_items SET attempts = attempts + 1, updated_at = ? WHERE job_id = ? AND code IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// SetItemState moves the given item codes into a new item state.
func (s *Store) SetItemState(ctx context.Context, jobID string, state ItemState, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	placeholders := makePlaceholders(len(codes))
	args := make([]any, 0, len(codes)+3)
	args = append(args, state, timestamp, jobID)
	for _, code := range codes {
		args = append(args, code)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE job_items SET state = ?, updated_at = ? WHERE job_id = ? AND code IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("set item state: %w", err)
	}
	return nil
}

const jobColumns = "id, state, progress, error_message, created_at, updated_at"

const itemColumns = "id, job_id, platform, code, attempts, state, updated_at"

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		var (
			item       WorkItem
			stateStr   string
			updatedRaw string
		)
		if err := rows.Scan(&item.ID, &item.JobID, &item.Platform, &item.Code, &item.Attempts, &stateStr, &updatedRaw); err != nil {
			return nil, err
		}
		item.State = ItemState(stateStr)
		if updated, err := parseTimeString(updatedRaw); err == nil {
			item.UpdatedAt = updated
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		stateStr     string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&job.ID, &stateStr, &job.Progress, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job.State = State(stateStr)
	job.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
