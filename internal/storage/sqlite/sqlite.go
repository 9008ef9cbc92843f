package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/storage"
	"github.com/slok/stepper/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	// BusyRetries is the number of times a write is retried when the database is busy.
	BusyRetries int
	Logger      log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.BusyRetries <= 0 {
		c.BusyRetries = 5
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.CheckpointRepository. It uses a
// single connection so there is a single writer.
type Repository struct {
	db          *sql.DB
	busyRetries int
	logger      log.Logger
}

var _ storage.CheckpointRepository = &Repository{}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, busyRetries: cfg.BusyRetries, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

const upsertQuery = `
	INSERT INTO checkpoints (
		task_id, user_id, task_description, task_type,
		status, current_step, total_steps,
		completed_steps, pending_steps,
		context, variables,
		created_at, updated_at, paused_at, expires_at,
		total_tokens, retry_count, last_error
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET
		user_id = excluded.user_id,
		task_description = excluded.task_description,
		task_type = excluded.task_type,
		status = excluded.status,
		current_step = excluded.current_step,
		total_steps = excluded.total_steps,
		completed_steps = excluded.completed_steps,
		pending_steps = excluded.pending_steps,
		context = excluded.context,
		variables = excluded.variables,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		paused_at = excluded.paused_at,
		expires_at = excluded.expires_at,
		total_tokens = excluded.total_tokens,
		retry_count = excluded.retry_count,
		last_error = excluded.last_error
`

const selectColumns = `
	task_id, user_id, task_description, task_type,
	status, current_step, total_steps,
	completed_steps, pending_steps,
	context, variables,
	created_at, updated_at, paused_at, expires_at,
	total_tokens, retry_count, last_error
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveCheckpoint creates or replaces a checkpoint.
func (r *Repository) SaveCheckpoint(ctx context.Context, c model.Checkpoint) error {
	err := r.retryOnBusy(ctx, func() error {
		return r.upsert(ctx, r.db, c)
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Saved checkpoint in repository: %s", c.TaskID)
	return nil
}

func (r *Repository) upsert(ctx context.Context, e execer, c model.Checkpoint) error {
	args, err := checkpointArgs(c)
	if err != nil {
		return err
	}

	if _, err := e.ExecContext(ctx, upsertQuery, args...); err != nil {
		return fmt.Errorf("could not upsert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by task ID.
func (r *Repository) GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	query := `SELECT ` + selectColumns + ` FROM checkpoints WHERE task_id = ?`

	c, err := scanRow(r.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query checkpoint: %w", err)
	}

	return &c, nil
}

// ListCheckpoints lists checkpoints, the most recently updated first.
func (r *Repository) ListCheckpoints(ctx context.Context, opts storage.ListCheckpointsOpts) ([]model.Checkpoint, error) {
	where := []string{}
	args := []any{}
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Statuses) > 0 {
		where = append(where, statusIn(opts.Statuses, &args))
	}

	query := `SELECT ` + selectColumns + ` FROM checkpoints`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, task_id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []model.Checkpoint{}
	for rows.Next() {
		c, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		checkpoints = append(checkpoints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate rows: %w", err)
	}

	return checkpoints, nil
}

// UpdateCheckpoint loads, mutates and stores a checkpoint in a single transaction.
func (r *Repository) UpdateCheckpoint(ctx context.Context, taskID string, fn func(c *model.Checkpoint) error) (*model.Checkpoint, error) {
	var updated model.Checkpoint
	err := r.retryOnBusy(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("could not begin transaction: %w", err)
		}
		defer tx.Rollback()

		query := `SELECT ` + selectColumns + ` FROM checkpoints WHERE task_id = ?`
		c, err := scanRow(tx.QueryRowContext(ctx, query, taskID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
			}
			return fmt.Errorf("could not query checkpoint: %w", err)
		}

		if err := fn(&c); err != nil {
			return err
		}

		if err := r.upsert(ctx, tx, c); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("could not commit transaction: %w", err)
		}

		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("Updated checkpoint in repository: %s", taskID)
	return &updated, nil
}

// DeleteCheckpoint deletes a checkpoint.
func (r *Repository) DeleteCheckpoint(ctx context.Context, taskID string) error {
	var rows int64
	err := r.retryOnBusy(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID)
		if err != nil {
			return fmt.Errorf("could not delete checkpoint: %w", err)
		}

		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("could not get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("checkpoint %s: %w", taskID, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted checkpoint from repository: %s", taskID)
	return nil
}

// DeleteCheckpoints deletes the checkpoints matching the options.
func (r *Repository) DeleteCheckpoints(ctx context.Context, opts storage.DeleteCheckpointsOpts) (int, error) {
	where := []string{}
	args := []any{}
	if opts.ExpiresBefore != nil {
		where = append(where, "expires_at IS NOT NULL AND expires_at < ?")
		args = append(args, formatTime(*opts.ExpiresBefore))
	}
	if opts.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, formatTime(*opts.UpdatedBefore))
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("a time filter is required: %w", model.ErrNotValid)
	}
	if len(opts.Statuses) > 0 {
		where = append(where, statusIn(opts.Statuses, &args))
	}

	var rows int64
	err := r.retryOnBusy(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE `+strings.Join(where, " AND "), args...)
		if err != nil {
			return fmt.Errorf("could not delete checkpoints: %w", err)
		}

		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("could not get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debugf("Deleted %d checkpoints from repository", rows)
	return int(rows), nil
}

func statusIn(statuses []model.CheckpointStatus, args *[]any) string {
	marks := make([]string, 0, len(statuses))
	for _, s := range statuses {
		marks = append(marks, "?")
		*args = append(*args, string(s))
	}
	return "status IN (" + strings.Join(marks, ", ") + ")"
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED using exponential
// backoff with jitter.
func (r *Repository) retryOnBusy(ctx context.Context, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= r.busyRetries; attempt++ {
		err = f()
		if err == nil || !isBusy(err) || attempt == r.busyRetries {
			return err
		}

		delay := min(baseDelay<<uint(attempt), maxDelay)
		delay = delay - delay/4 + time.Duration(rand.IntN(int(delay/2)))
		r.logger.Debugf("Database busy, retrying in %s", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
