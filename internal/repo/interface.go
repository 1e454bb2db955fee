package repo

import (
	"context"

	"github.com/BuzzLyutic/todo-sync/internal/model"
)

// LocalStore — локальный кэш списка дел и ревизии, с которой он согласован.
type LocalStore interface {
	List(ctx context.Context) ([]model.TodoItem, error)
	Get(ctx context.Context, id string) (model.TodoItem, error)
	Insert(ctx context.Context, item model.TodoItem) (int64, error)
	Upsert(ctx context.Context, item model.TodoItem) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	// ReplaceAll перезаписывает список, только если ревизия все еще равна expected.
	ReplaceAll(ctx context.Context, items []model.TodoItem, expected, revision int64) error
	Revision(ctx context.Context) (int64, error)
	SetRevision(ctx context.Context, revision int64) error
	// CommitRevision переводит ревизию с expected на revision, сохраняя
	// локальные изменения, сделанные после чтения expected.
	CommitRevision(ctx context.Context, expected, revision int64) (int64, error)
	AdvanceRevision(ctx context.Context, revision int64) (int64, error)
}
