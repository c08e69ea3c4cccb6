// Package engine turns user gestures into optimistic cache patches and
// queued server mutations.
//
// Every operation follows the same path: patch the cached snapshots, enqueue
// the network call on the lane of its resource, roll the patch back if the
// call fails and refetch once the lane drains.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/GeneralTask/task-manager-sub001/cache"
	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/queue"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

// Engine is the sync core. It is safe for concurrent use.
type Engine struct {
	backend Backend
	store   *cache.Store
	queue   *queue.Queue
	logger  *log.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	ids      map[string]string
	creating map[string]*queue.Intent
	// failed holds creates that failed before trackCreate saw their intent.
	failed map[string]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, which decides what is due today.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the generator of optimistic ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New creates an Engine and registers the server resources on store.
func New(backend Backend, store *cache.Store, q *queue.Queue, logger *log.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e := &Engine{
		backend:  backend,
		store:    store,
		queue:    q,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		ids:      make(map[string]string),
		creating: make(map[string]*queue.Intent),
		failed:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	store.Register(cache.Resource{
		Key:    KeyOverview,
		Fetch:  func(ctx context.Context) (any, error) { return backend.ListViews(ctx) },
		Decode: decodeAs[[]domain.View],
	})
	store.Register(cache.Resource{
		Key:    KeyFolders,
		Fetch:  func(ctx context.Context) (any, error) { return backend.ListFolders(ctx) },
		Decode: decodeAs[[]domain.Folder],
	})
	store.Register(cache.Resource{
		Key:    KeySupportedViews,
		Fetch:  func(ctx context.Context) (any, error) { return backend.SupportedViews(ctx) },
		Decode: decodeAs[[]domain.SupportedView],
	})
	return e
}

func decodeAs[T any](data []byte) (any, error) {
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load fetches every resource.
func (e *Engine) Load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, k := range []cache.Key{KeyOverview, KeyFolders, KeySupportedViews} {
		k := k
		g.Go(func() error {
			_, err := e.store.Fetch(ctx, k)
			return err
		})
	}
	return g.Wait()
}

// Views returns the cached overview.
func (e *Engine) Views() []domain.View {
	v, _ := cache.Value[[]domain.View](e.store, KeyOverview)
	return v
}

// Folders returns the cached folders.
func (e *Engine) Folders() []domain.Folder {
	v, _ := cache.Value[[]domain.Folder](e.store, KeyFolders)
	return v
}

// SupportedViews returns the cached add-view catalogue.
func (e *Engine) SupportedViews() []domain.SupportedView {
	v, _ := cache.Value[[]domain.SupportedView](e.store, KeySupportedViews)
	return v
}

// Poll refetches every resource each interval until ctx is done. Ticks that
// find mutations in flight are skipped; their lanes refetch when they drain.
func (e *Engine) Poll(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !e.queue.Idle() {
				continue
			}
			if err := e.store.Invalidate(ctx, KeyOverview, KeyFolders, KeySupportedViews); err != nil && ctx.Err() == nil {
				e.logger.WithError(err).Warn("poll refetch failed")
			}
		}
	}
}

// Settle waits until every queued mutation finished and its refetch landed.
func (e *Engine) Settle(ctx context.Context) error {
	return e.queue.Drain(ctx)
}

// ResolveID returns the server id of an entity created with the optimistic
// id, or id itself when it is not an optimistic id or not yet confirmed.
func (e *Engine) ResolveID(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if real, ok := e.ids[id]; ok {
		return real
	}
	return id
}

// resolve is ResolveID for mutations about to hit the network. When id is
// still being created on another lane it waits for that creation.
func (e *Engine) resolve(ctx context.Context, id string) (string, error) {
	e.mu.Lock()
	if real, ok := e.ids[id]; ok {
		e.mu.Unlock()
		return real, nil
	}
	it, pending := e.creating[id]
	e.mu.Unlock()
	if !pending {
		return id, nil
	}
	if err := it.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s was never created: %w", id, err)
	}
	return e.ResolveID(id), nil
}

func (e *Engine) confirm(optimisticID, serverID string) {
	e.mu.Lock()
	e.ids[optimisticID] = serverID
	delete(e.creating, optimisticID)
	e.mu.Unlock()
}

// trackCreate makes it visible to resolve until the create settles. The
// queue may settle it before this runs, so confirm and forget leave a trace.
func (e *Engine) trackCreate(optimisticID string, it *queue.Intent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, failed := e.failed[optimisticID]; failed {
		delete(e.failed, optimisticID)
		return
	}
	if _, done := e.ids[optimisticID]; !done {
		e.creating[optimisticID] = it
	}
}

func (e *Engine) forget(optimisticID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, tracked := e.creating[optimisticID]; tracked {
		delete(e.creating, optimisticID)
		return
	}
	e.failed[optimisticID] = struct{}{}
}

// pendingCreates counts the create bookkeeping entries still held.
func (e *Engine) pendingCreates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.creating) + len(e.failed)
}

func (e *Engine) today() string {
	return e.now().Format("2006-01-02")
}

type patchFunc func() (cache.Checkpoint, error)

type mutation struct {
	tag        queue.Tag
	name       string
	patches    []patchFunc
	run        func(ctx context.Context) error
	onSuccess  func()
	onFailure  func(err error)
	invalidate []cache.Key
}

// submit applies the patches in order and enqueues the network call. If a
// patch fails the earlier ones are rolled back and nothing is enqueued.
func (e *Engine) submit(m mutation) (*queue.Intent, error) {
	cps := make([]cache.Checkpoint, 0, len(m.patches))
	rollback := func() {
		for i := len(cps) - 1; i >= 0; i-- {
			e.store.Rollback(cps[i])
		}
	}
	for _, p := range m.patches {
		cp, err := p()
		if err != nil {
			rollback()
			return nil, err
		}
		cps = append(cps, cp)
	}

	it, err := e.queue.Enqueue(queue.Mutation{
		Tag:       m.tag,
		Name:      m.name,
		Run:       m.run,
		OnSuccess: m.onSuccess,
		OnFailure: func(err error) {
			rollback()
			if m.onFailure != nil {
				m.onFailure(err)
			}
		},
		Invalidate: m.invalidate,
	})
	if err != nil {
		rollback()
		return nil, err
	}
	return it, nil
}

// foldersPatch edits the cached folders and resyncs the folder backed views
// of the overview from the result.
func (e *Engine) foldersPatch(edit func([]domain.Folder) ([]domain.Folder, error)) []patchFunc {
	var next []domain.Folder
	return []patchFunc{
		func() (cache.Checkpoint, error) {
			return cache.PatchAs(e.store, KeyFolders, func(old []domain.Folder) ([]domain.Folder, error) {
				f, err := edit(old)
				next = f
				return f, err
			})
		},
		func() (cache.Checkpoint, error) {
			return cache.PatchAs(e.store, KeyOverview, func(old []domain.View) ([]domain.View, error) {
				return workspace.SyncViews(old, next, e.today()), nil
			})
		},
	}
}

func overviewPatch(e *Engine, edit func([]domain.View) ([]domain.View, error)) patchFunc {
	return func() (cache.Checkpoint, error) {
		return cache.PatchAs(e.store, KeyOverview, edit)
	}
}

// reconcile swaps the optimistic id for the server id in the cached
// snapshots. The optimistic id stays on the entity so lookups by either id
// keep working.
func (e *Engine) reconcile(optimisticID, serverID string) {
	fields := log.Fields{"optimistic_id": optimisticID, "id": serverID}
	if _, err := cache.PatchAs(e.store, KeyFolders, func(old []domain.Folder) ([]domain.Folder, error) {
		return replaceFolderIDs(old, optimisticID, serverID), nil
	}); err != nil {
		e.logger.WithError(err).WithFields(fields).WithField("key", string(KeyFolders)).Warn("reconcile failed")
	}
	if _, err := cache.PatchAs(e.store, KeyOverview, func(old []domain.View) ([]domain.View, error) {
		return replaceViewIDs(old, optimisticID, serverID), nil
	}); err != nil {
		e.logger.WithError(err).WithFields(fields).WithField("key", string(KeyOverview)).Warn("reconcile failed")
	}
}

func replaceFolderIDs(folders []domain.Folder, optimisticID, serverID string) []domain.Folder {
	var out []domain.Folder
	for i, f := range folders {
		changed := false
		if f.ID == optimisticID {
			f.ID = serverID
			changed = true
		}
		if tasks, ok := replaceItemIDs(f.Tasks, optimisticID, serverID); ok {
			f.Tasks = tasks
			changed = true
		}
		if !changed {
			continue
		}
		if out == nil {
			out = append([]domain.Folder(nil), folders...)
		}
		out[i] = f
	}
	if out == nil {
		return folders
	}
	return out
}

func replaceViewIDs(views []domain.View, optimisticID, serverID string) []domain.View {
	var out []domain.View
	for i, v := range views {
		changed := false
		if v.ID == optimisticID {
			v.ID = serverID
			changed = true
		}
		if v.TaskSectionID == optimisticID {
			v.TaskSectionID = serverID
			changed = true
		}
		if items, ok := replaceItemIDs(v.ViewItems, optimisticID, serverID); ok {
			v.ViewItems = items
			changed = true
		}
		if !changed {
			continue
		}
		if out == nil {
			out = append([]domain.View(nil), views...)
		}
		out[i] = v
	}
	if out == nil {
		return views
	}
	return out
}

func replaceItemIDs(items []domain.ViewItem, optimisticID, serverID string) ([]domain.ViewItem, bool) {
	var out []domain.ViewItem
	for i, it := range items {
		if it.ID != optimisticID && it.FolderID != optimisticID {
			continue
		}
		if out == nil {
			out = append([]domain.ViewItem(nil), items...)
		}
		if it.ID == optimisticID {
			it.ID = serverID
		}
		if it.FolderID == optimisticID {
			it.FolderID = serverID
		}
		out[i] = it
	}
	return out, out != nil
}

func (e *Engine) logViolation(item domain.DragItem, err error) {
	e.logger.WithFields(log.Fields{
		"kind": item.Kind().String(),
		"item": item.ItemID(),
	}).WithError(err).Debug("drop ignored")
}

var errNotLoaded = errors.New("resource not loaded")
