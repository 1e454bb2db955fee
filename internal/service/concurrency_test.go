package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-sync/internal/model"
	"github.com/BuzzLyutic/todo-sync/internal/remote"
	"github.com/BuzzLyutic/todo-sync/internal/repo"
	"github.com/BuzzLyutic/todo-sync/internal/testutil"
)

// memStore — LocalStore в памяти с той же семантикой ревизий, что у repo.TodoRepo.
type memStore struct {
	mu       sync.Mutex
	items    map[string]model.TodoItem
	revision int64
}

func newMemStore(revision int64, items ...model.TodoItem) *memStore {
	s := &memStore{items: make(map[string]model.TodoItem), revision: revision}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *memStore) List(ctx context.Context) ([]model.TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]model.TodoItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *memStore) Get(ctx context.Context, id string) (model.TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return item, repo.ErrorNotFound
	}
	return item, nil
}

func (s *memStore) Insert(ctx context.Context, item model.TodoItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return 0, repo.ErrorConflict
	}
	s.items[item.ID] = item
	s.revision++
	return s.revision, nil
}

func (s *memStore) Upsert(ctx context.Context, item model.TodoItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	s.revision++
	return s.revision, nil
}

func (s *memStore) Delete(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return 0, repo.ErrorNotFound
	}
	delete(s.items, id)
	s.revision++
	return s.revision, nil
}

func (s *memStore) ReplaceAll(ctx context.Context, items []model.TodoItem, expected, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revision != expected {
		return repo.ErrorConflict
	}
	s.items = make(map[string]model.TodoItem, len(items))
	for _, item := range items {
		s.items[item.ID] = item
	}
	s.revision = revision
	return nil
}

func (s *memStore) Revision(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision, nil
}

func (s *memStore) SetRevision(ctx context.Context, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision = revision
	return nil
}

func (s *memStore) CommitRevision(ctx context.Context, expected, revision int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision = revision + (s.revision - expected)
	return s.revision, nil
}

func (s *memStore) AdvanceRevision(ctx context.Context, revision int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if revision > s.revision {
		s.revision = revision
	}
	return s.revision, nil
}

// stubRemote — бэкенд в памяти; onList и onReplace вызываются перед ответом.
type stubRemote struct {
	mu        sync.Mutex
	items     []model.TodoItem
	revision  int64
	addErr    error
	onList    func()
	onReplace func()
}

func (r *stubRemote) hook(get func() func()) {
	r.mu.Lock()
	fn := get()
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *stubRemote) List(ctx context.Context) ([]model.TodoItem, int64, error) {
	r.hook(func() func() { return r.onList })
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TodoItem(nil), r.items...), r.revision, nil
}

func (r *stubRemote) Add(ctx context.Context, item model.TodoItem) (model.TodoItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return model.TodoItem{}, 0, r.addErr
	}
	r.items = append(r.items, item)
	r.revision++
	return item, r.revision, nil
}

func (r *stubRemote) Update(ctx context.Context, item model.TodoItem) (model.TodoItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == item.ID {
			r.items[i] = item
			r.revision++
			return item, r.revision, nil
		}
	}
	return model.TodoItem{}, 0, remote.ErrNotFound
}

func (r *stubRemote) Delete(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			r.revision++
			return r.revision, nil
		}
	}
	return 0, remote.ErrNotFound
}

func (r *stubRemote) Replace(ctx context.Context, items []model.TodoItem) ([]model.TodoItem, int64, error) {
	r.hook(func() func() { return r.onReplace })
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]model.TodoItem(nil), items...)
	r.revision++
	return items, r.revision, nil
}

func (r *stubRemote) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// gate останавливает вызов, пока тест не откроет release.
func gate() (hook func(), entered <-chan struct{}, release chan<- struct{}) {
	in := make(chan struct{})
	out := make(chan struct{})
	var once sync.Once
	return func() {
		once.Do(func() { close(in) })
		<-out
	}, in, out
}

type syncOutcome struct {
	result SyncResult
	err    error
}

func TestTodoService_PushesInMutationOrder(t *testing.T) {
	backend := testutil.NewBackend(t, "token")
	client := remote.NewClient(remote.Options{
		BaseURL:        backend.URL(),
		Token:          "token",
		RetryAttempts:  1,
		RetryDelay:     time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}, zap.NewNop())

	store := newMemStore(0)
	service := NewTodoService(store, client, zap.NewNop(), "device-1")
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		item, err := service.Add(ctx, model.TodoItem{Text: fmt.Sprintf("task %d", i)})
		require.NoError(t, err)
		_, err = service.ToggleDone(ctx, item.ID)
		require.NoError(t, err)
		if i%2 == 1 {
			require.NoError(t, service.Delete(ctx, item.ID))
		}
	}
	service.Close()

	for err := range service.Errors() {
		t.Errorf("push failed: %v", err)
	}

	items := backend.Items()
	require.Len(t, items, n/2)
	for _, e := range items {
		assert.True(t, e.Done, "toggle for %q lost", e.Text)
	}

	assert.Equal(t, int64(n*2+n/2), backend.Revision())
	rev, err := store.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.Revision(), rev)
}

func TestTodoService_AddDuringPushKeepsLocalAhead(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(5, model.TodoItem{ID: "a", Text: "old", Importance: model.ImportanceBasic, CreatedAt: created})
	rem := &stubRemote{revision: 3, addErr: remote.ErrServer}

	hook, entered, release := gate()
	rem.onReplace = hook

	service := NewTodoService(store, rem, zap.NewNop(), "device-1")
	outcome := make(chan syncOutcome, 1)
	go func() {
		result, err := service.Synchronize(ctx)
		outcome <- syncOutcome{result, err}
	}()

	<-entered
	_, err := service.Add(ctx, model.TodoItem{ID: "b", Text: "written while pushing"})
	require.NoError(t, err)
	close(release)

	first := <-outcome
	require.NoError(t, first.err)
	assert.Equal(t, SyncPushed, first.result)

	service.Wait()
	select {
	case pushErr := <-service.Errors():
		assert.ErrorIs(t, pushErr, remote.ErrServer)
	default:
		t.Fatal("expected failed push to be published")
	}

	localRev, err := store.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), localRev, "local revision must stay ahead of remote 4")
	assert.False(t, rem.has("b"))

	rem.mu.Lock()
	rem.onReplace = nil
	rem.mu.Unlock()

	result, err := service.Synchronize(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncPushed, result)
	assert.True(t, rem.has("b"), "next sync should push the item")

	_, err = store.Get(ctx, "b")
	assert.NoError(t, err)
	service.Close()
}

func TestTodoService_AddDuringPullIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(0)
	rem := &stubRemote{
		revision: 3,
		items:    []model.TodoItem{{ID: "r1", Text: "remote", Importance: model.ImportanceLow}},
	}

	hook, entered, release := gate()
	rem.onList = hook

	service := NewTodoService(store, rem, zap.NewNop(), "device-1")
	outcome := make(chan syncOutcome, 1)
	go func() {
		result, err := service.Synchronize(ctx)
		outcome <- syncOutcome{result, err}
	}()

	<-entered
	_, err := service.Add(ctx, model.TodoItem{ID: "b", Text: "written while pulling"})
	require.NoError(t, err)
	close(release)

	first := <-outcome
	assert.ErrorIs(t, first.err, repo.ErrorConflict)

	_, err = store.Get(ctx, "b")
	require.NoError(t, err, "local item must survive the skipped pull")

	service.Wait()
	assert.True(t, rem.has("b"))

	result, err := service.Synchronize(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncPulled, result)

	items, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []string{"r1", "b"}, ids)
	service.Close()
}

func TestTodoService_CloseDuringMutations(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(0)
	rem := &stubRemote{addErr: remote.ErrServer}
	service := NewTodoService(store, rem, zap.NewNop(), "device-1")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Add(ctx, model.TodoItem{Text: fmt.Sprintf("task %d", i)})
			assert.NoError(t, err)
		}()
	}
	service.Close()
	wg.Wait()

	for range service.Errors() {
	}

	items, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, n)
}
