package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BuzzLyutic/todo-sync/internal/model"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")
)

//go:embed migrations/001_create_todo_items.up.sql
var schema string

const itemColumns = `id, text, importance, deadline, done, color, created_at, changed_at, last_updated_by`

type TodoRepo struct { // Локальное хранилище поверх Postgres
	pool *pgxpool.Pool
}

func NewTodoRepo(pool *pgxpool.Pool) *TodoRepo {
	return &TodoRepo{
		pool: pool,
	}
}

// Migrate создает таблицы, если их еще нет.
func (r *TodoRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *TodoRepo) List(ctx context.Context) ([]model.TodoItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM todo_items
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.TodoItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *TodoRepo) Get(ctx context.Context, id string) (model.TodoItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM todo_items
		WHERE id = $1
	`, id))

	if errors.Is(err, pgx.ErrNoRows) {
		return item, ErrorNotFound
	}
	return item, err
}

// Insert добавляет новую запись. Занятый id дает ErrorConflict.
func (r *TodoRepo) Insert(ctx context.Context, item model.TodoItem) (int64, error) {
	var rev int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO todo_items (`+itemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, item.ID, item.Text, string(item.Importance), item.Deadline, item.Done, item.Color,
			item.CreatedAt, item.ChangedAt, item.LastUpdatedBy)
		if err != nil {
			return err
		}
		rev, err = bumpRevision(ctx, tx)
		return err
	})
	return rev, r.mapError(err)
}

// Upsert сохраняет запись и увеличивает локальную ревизию в одной транзакции.
func (r *TodoRepo) Upsert(ctx context.Context, item model.TodoItem) (int64, error) {
	var rev int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertItem(ctx, tx, item); err != nil {
			return err
		}
		var err error
		rev, err = bumpRevision(ctx, tx)
		return err
	})
	return rev, r.mapError(err)
}

func (r *TodoRepo) Delete(ctx context.Context, id string) (int64, error) {
	var rev int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, "DELETE FROM todo_items WHERE id = $1", id)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrorNotFound
		}
		rev, err = bumpRevision(ctx, tx)
		return err
	})
	return rev, err
}

// ReplaceAll полностью перезаписывает локальный список содержимым с сервера.
// Если с момента чтения expected локальная ревизия изменилась, ничего не
// трогает и возвращает ErrorConflict.
func (r *TodoRepo) ReplaceAll(ctx context.Context, items []model.TodoItem, expected, revision int64) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(ctx, "SELECT value FROM revision WHERE id = 1 FOR UPDATE").Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if current != expected {
			return ErrorConflict
		}

		if _, err := tx.Exec(ctx, "DELETE FROM todo_items"); err != nil {
			return err
		}
		for _, item := range items {
			if err := upsertItem(ctx, tx, item); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO revision (id, value) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value
		`, revision)
		return err
	})
	return r.mapError(err)
}

func (r *TodoRepo) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := r.pool.QueryRow(ctx, "SELECT value FROM revision WHERE id = 1").Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}

func (r *TodoRepo) SetRevision(ctx context.Context, revision int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO revision (id, value) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value
	`, revision)
	return err
}

// CommitRevision ставит ревизию сервера после отправки списка. Изменения,
// записанные локально после чтения expected, сохраняют свой отрыв:
// value = revision + (value - expected).
func (r *TodoRepo) CommitRevision(ctx context.Context, expected, revision int64) (int64, error) {
	var rev int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO revision (id, value) VALUES (1, $2)
		ON CONFLICT (id) DO UPDATE SET value = revision.value - $1 + $2
		RETURNING value
	`, expected, revision).Scan(&rev)
	return rev, err
}

// AdvanceRevision поднимает ревизию до revision, но никогда не опускает ее.
// Если локальные изменения не дошли до сервера, ревизия остается впереди.
func (r *TodoRepo) AdvanceRevision(ctx context.Context, revision int64) (int64, error) {
	var rev int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO revision (id, value) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET value = GREATEST(revision.value, EXCLUDED.value)
		RETURNING value
	`, revision).Scan(&rev)
	return rev, err
}

func upsertItem(ctx context.Context, tx pgx.Tx, item model.TodoItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO todo_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			importance = EXCLUDED.importance,
			deadline = EXCLUDED.deadline,
			done = EXCLUDED.done,
			color = EXCLUDED.color,
			changed_at = EXCLUDED.changed_at,
			last_updated_by = EXCLUDED.last_updated_by
	`, item.ID, item.Text, string(item.Importance), item.Deadline, item.Done, item.Color,
		item.CreatedAt, item.ChangedAt, item.LastUpdatedBy)
	return err
}

func bumpRevision(ctx context.Context, tx pgx.Tx) (int64, error) {
	var rev int64
	err := tx.QueryRow(ctx, `
		INSERT INTO revision (id, value) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET value = revision.value + 1
		RETURNING value
	`).Scan(&rev)
	return rev, err
}

func scanItem(row pgx.Row) (model.TodoItem, error) {
	var (
		item       model.TodoItem
		importance string
	)
	err := row.Scan(&item.ID, &item.Text, &importance, &item.Deadline, &item.Done, &item.Color,
		&item.CreatedAt, &item.ChangedAt, &item.LastUpdatedBy)
	item.Importance = model.Importance(importance)
	return item, err
}

func (r *TodoRepo) mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrorConflict
		}
	}
	return err
}
