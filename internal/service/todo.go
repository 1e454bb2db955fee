package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-sync/internal/model"
	"github.com/BuzzLyutic/todo-sync/internal/repo"
)

var (
	ErrValidation = errors.New("validation error")
)

// RemoteSource — бэкенд списка дел. Все методы возвращают новую ревизию сервера.
type RemoteSource interface {
	List(ctx context.Context) ([]model.TodoItem, int64, error)
	Add(ctx context.Context, item model.TodoItem) (model.TodoItem, int64, error)
	Update(ctx context.Context, item model.TodoItem) (model.TodoItem, int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	Replace(ctx context.Context, items []model.TodoItem) ([]model.TodoItem, int64, error)
}

type SyncResult string

const (
	SyncPushed SyncResult = "pushed"
	SyncPulled SyncResult = "pulled"
)

const queueSize = 256

type pushJob struct {
	op   string
	id   string
	call func(ctx context.Context) (int64, error)
}

// TodoService сводит локальный кэш и бэкенд по ревизии.
// Изменения сначала пишутся локально, затем отправляются на сервер в фоне
// в том же порядке; ошибки фоновых отправок публикуются в Errors().
type TodoService struct {
	local    repo.LocalStore
	remote   RemoteSource
	logger   *zap.Logger
	deviceID string
	now      func() time.Time

	mu sync.Mutex // обращения к серверу: очередь отправок и Synchronize

	queueMu sync.Mutex // локальная запись + постановка в очередь, closed
	closed  bool
	jobs    chan pushJob
	done    chan struct{}
	wg      sync.WaitGroup
	errs    chan error
}

func NewTodoService(local repo.LocalStore, remote RemoteSource, logger *zap.Logger, deviceID string) *TodoService {
	s := &TodoService{
		local:    local,
		remote:   remote,
		logger:   logger,
		deviceID: deviceID,
		now:      time.Now,
		jobs:     make(chan pushJob, queueSize),
		done:     make(chan struct{}),
		errs:     make(chan error, 16),
	}
	go s.drain()
	return s
}

// Errors отдает ошибки фоновой синхронизации для показа пользователю.
func (s *TodoService) Errors() <-chan error {
	return s.errs
}

// Synchronize сравнивает локальную и серверную ревизии. Если локальная
// новее, весь локальный список отправляется на сервер, иначе локальный
// список перезаписывается серверным. Локальные изменения, сделанные во
// время синхронизации, не теряются: ревизия остается впереди сервера, а
// перезапись списка отменяется с repo.ErrorConflict.
func (s *TodoService) Synchronize(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localRev, err := s.local.Revision(ctx)
	if err != nil {
		return "", fmt.Errorf("local revision: %w", err)
	}

	remoteItems, remoteRev, err := s.remote.List(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch remote list: %w", err)
	}

	if localRev > remoteRev {
		items, err := s.local.List(ctx)
		if err != nil {
			return "", fmt.Errorf("local list: %w", err)
		}
		_, rev, err := s.remote.Replace(ctx, items)
		if err != nil {
			return "", fmt.Errorf("push local list: %w", err)
		}
		current, err := s.local.CommitRevision(ctx, localRev, rev)
		if err != nil {
			return "", fmt.Errorf("store revision: %w", err)
		}
		s.logger.Info("pushed local list",
			zap.Int64("local_revision", localRev),
			zap.Int64("remote_revision", remoteRev),
			zap.Int64("revision", current),
			zap.Int("items", len(items)),
		)
		return SyncPushed, nil
	}

	if err := s.local.ReplaceAll(ctx, remoteItems, localRev, remoteRev); err != nil {
		if errors.Is(err, repo.ErrorConflict) {
			s.logger.Info("local list changed during sync, pull skipped",
				zap.Int64("local_revision", localRev),
				zap.Int64("remote_revision", remoteRev),
			)
		}
		return "", fmt.Errorf("store remote list: %w", err)
	}
	s.logger.Info("pulled remote list",
		zap.Int64("local_revision", localRev),
		zap.Int64("revision", remoteRev),
		zap.Int("items", len(remoteItems)),
	)
	return SyncPulled, nil
}

func (s *TodoService) List(ctx context.Context) ([]model.TodoItem, error) {
	return s.local.List(ctx)
}

func (s *TodoService) Get(ctx context.Context, id string) (model.TodoItem, error) {
	return s.local.Get(ctx, id)
}

func (s *TodoService) Add(ctx context.Context, item model.TodoItem) (model.TodoItem, error) {
	if item.Importance == "" {
		item.Importance = model.ImportanceBasic
	}
	if err := s.validate(item); err != nil {
		return item, err
	}

	now := s.timestamp()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = now
	item.ChangedAt = now
	item.LastUpdatedBy = s.deviceID

	err := s.mutate("add", item.ID, func() error {
		_, err := s.local.Insert(ctx, item)
		return err
	}, func(ctx context.Context) (int64, error) {
		_, rev, err := s.remote.Add(ctx, item)
		return rev, err
	})
	return item, err
}

func (s *TodoService) Update(ctx context.Context, item model.TodoItem) (model.TodoItem, error) {
	if err := s.validate(item); err != nil {
		return item, err
	}

	existing, err := s.local.Get(ctx, item.ID)
	if err != nil {
		return item, err
	}
	item.CreatedAt = existing.CreatedAt
	item.ChangedAt = s.timestamp()
	item.LastUpdatedBy = s.deviceID

	err = s.mutate("update", item.ID, func() error {
		_, err := s.local.Upsert(ctx, item)
		return err
	}, func(ctx context.Context) (int64, error) {
		_, rev, err := s.remote.Update(ctx, item)
		return rev, err
	})
	return item, err
}

// ToggleDone переключает отметку о выполнении.
func (s *TodoService) ToggleDone(ctx context.Context, id string) (model.TodoItem, error) {
	item, err := s.local.Get(ctx, id)
	if err != nil {
		return item, err
	}
	item.Done = !item.Done
	return s.Update(ctx, item)
}

func (s *TodoService) Delete(ctx context.Context, id string) error {
	return s.mutate("delete", id, func() error {
		_, err := s.local.Delete(ctx, id)
		return err
	}, func(ctx context.Context) (int64, error) {
		return s.remote.Delete(ctx, id)
	})
}

func (s *TodoService) Stats(ctx context.Context) (model.Stats, error) {
	items, err := s.local.List(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	rev, err := s.local.Revision(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	stats := model.Stats{Total: len(items), Revision: rev}
	for _, item := range items {
		if item.Done {
			stats.Done++
		}
	}
	return stats, nil
}

// Wait ждет, пока очередь отправок опустеет.
func (s *TodoService) Wait() {
	s.wg.Wait()
}

// Close отправляет то, что уже в очереди, и закрывает Errors().
func (s *TodoService) Close() {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.queueMu.Unlock()

	<-s.done
	close(s.errs)
}

// mutate пишет изменение локально и ставит отправку в очередь под одной
// блокировкой, поэтому порядок в очереди совпадает с порядком записей.
func (s *TodoService) mutate(op, id string, write func() error, call func(ctx context.Context) (int64, error)) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if err := write(); err != nil {
		return err
	}
	if s.closed {
		s.logger.Warn("service closed, push skipped", zap.String("op", op), zap.String("id", id))
		return nil
	}

	s.wg.Add(1)
	s.jobs <- pushJob{op: op, id: id, call: call}
	return nil
}

// drain отправляет изменения на сервер по одному. Запрос живет дольше
// HTTP-запроса пользователя, поэтому контекст свой.
func (s *TodoService) drain() {
	defer close(s.done)
	for job := range s.jobs {
		s.push(job)
		s.wg.Done()
	}
}

func (s *TodoService) push(job pushJob) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	rev, err := job.call(ctx)
	if err != nil {
		s.logger.Warn("remote push failed",
			zap.String("op", job.op),
			zap.String("id", job.id),
			zap.Error(err),
		)
		s.publish(fmt.Errorf("%s %s: %w", job.op, job.id, err))
		return
	}

	current, err := s.local.AdvanceRevision(ctx, rev)
	if err != nil {
		s.logger.Error("store revision failed", zap.Int64("revision", rev), zap.Error(err))
		s.publish(err)
		return
	}
	s.logger.Debug("remote push done",
		zap.String("op", job.op),
		zap.String("id", job.id),
		zap.Int64("remote_revision", rev),
		zap.Int64("revision", current),
	)
}

func (s *TodoService) publish(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("error channel is full, dropping", zap.Error(err))
	}
}

// timestamp — бэкенд хранит время с точностью до секунды.
func (s *TodoService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *TodoService) validate(item model.TodoItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
