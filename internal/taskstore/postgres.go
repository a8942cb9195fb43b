package taskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			owner_key TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id TEXT PRIMARY KEY,
			owner_key TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (owner_key, title)
		);`,
		// tag_id is a plain nullable reference: deleting a tag nulls it at
		// the application level instead of relying on cascade semantics.
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner_key TEXT NOT NULL,
			title TEXT NOT NULL,
			tag_id TEXT NULL,
			due_date TIMESTAMPTZ NOT NULL,
			is_done BOOLEAN NOT NULL DEFAULT FALSE,
			notify_at TIMESTAMPTZ NOT NULL,
			send_remind BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_due ON tasks (owner_key, due_date, id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_notify_pending ON tasks (notify_at) WHERE NOT is_done AND NOT send_remind;`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, ownerKey, displayName string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, owner_key, display_name, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_key) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END
		 RETURNING id, owner_key, display_name, created_at`,
		uuid.NewString(), ownerKey, displayName, time.Now().UTC(),
	)
	var u User
	if err := row.Scan(&u.ID, &u.OwnerKey, &u.DisplayName, &u.CreatedAt); err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateTag(ctx context.Context, ownerKey, title string) (Tag, error) {
	tag := Tag{
		ID:        uuid.NewString(),
		OwnerKey:  ownerKey,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tags (id, owner_key, title, created_at) VALUES ($1, $2, $3, $4)`,
		tag.ID, tag.OwnerKey, tag.Title, tag.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tag{}, ErrDuplicateTag
		}
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, tagID string) (Tag, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_key, title, created_at FROM tags WHERE id=$1`, tagID)
	var t Tag
	if err := row.Scan(&t.ID, &t.OwnerKey, &t.Title, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Tag{}, ErrNotFound
		}
		return Tag{}, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) FindTagByTitle(ctx context.Context, ownerKey, title string) (Tag, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_key, title, created_at FROM tags WHERE owner_key=$1 AND LOWER(title)=LOWER($2)`,
		ownerKey, title)
	var t Tag
	if err := row.Scan(&t.ID, &t.OwnerKey, &t.Title, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Tag{}, ErrNotFound
		}
		return Tag{}, fmt.Errorf("find tag: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTags(ctx context.Context, ownerKey string) ([]Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_key, title, created_at FROM tags WHERE owner_key=$1 ORDER BY title, id`,
		ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	out := make([]Tag, 0, 4)
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.OwnerKey, &t.Title, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, ownerKey, tagID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `DELETE FROM tags WHERE id=$1 AND owner_key=$2`, tagID, ownerKey)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET tag_id=NULL WHERE tag_id=$1`, tagID); err != nil {
		return fmt.Errorf("detach tasks from tag: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) (Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, owner_key, title, tag_id, due_date, is_done, notify_at, send_remind, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		task.ID, task.OwnerKey, task.Title, nullableID(task.TagID), task.DueDate,
		task.Done, task.NotifyAt, task.RemindSent, task.CreatedAt,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, taskSelect+` WHERE id=$1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE tasks SET title=$2, tag_id=$3, due_date=$4, is_done=$5, notify_at=$6, send_remind=$7
		 WHERE id=$1`,
		task.ID, task.Title, nullableID(task.TagID), task.DueDate,
		task.Done, task.NotifyAt, task.RemindSent,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, ownerKey, taskID string) error {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE id=$1 AND owner_key=$2`, taskID, ownerKey)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	query := taskSelect + ` WHERE owner_key=$1`
	args := []any{filter.OwnerKey}
	if filter.Done != nil {
		args = append(args, *filter.Done)
		query += fmt.Sprintf(" AND is_done=$%d", len(args))
	}
	if filter.TagID != "" {
		args = append(args, filter.TagID)
		query += fmt.Sprintf(" AND tag_id=$%d", len(args))
	}
	query += ` ORDER BY due_date, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresStore) DueReminders(ctx context.Context, from, to time.Time) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		taskSelect+` WHERE NOT is_done AND NOT send_remind AND notify_at BETWEEN $1 AND $2 ORDER BY notify_at, id`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresStore) MarkReminderSent(ctx context.Context, taskID string, notifyAt time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx,
		`UPDATE tasks SET send_remind=TRUE
		 WHERE id=$1 AND NOT is_done AND NOT send_remind AND notify_at=$2`,
		taskID, notifyAt)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const taskSelect = `SELECT id, owner_key, title, tag_id, due_date, is_done, notify_at, send_remind, created_at FROM tasks`

func scanTask(row pgx.Row) (Task, error) {
	var (
		task  Task
		tagID *string
	)
	if err := row.Scan(
		&task.ID,
		&task.OwnerKey,
		&task.Title,
		&tagID,
		&task.DueDate,
		&task.Done,
		&task.NotifyAt,
		&task.RemindSent,
		&task.CreatedAt,
	); err != nil {
		return Task{}, err
	}
	if tagID != nil {
		task.TagID = *tagID
	}
	return task, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	out := make([]Task, 0, 8)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
