// Package cache holds the client side snapshots of server state. Every value
// is an immutable, versioned Snapshot; optimistic patches install new values
// built copy-on-write and can be rolled back to the value they replaced.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Key names a cached resource.
type Key string

var (
	// ErrFetchSuperseded is returned by Fetch when a newer fetch, patch or
	// cancel for the same key replaced it before it completed.
	ErrFetchSuperseded = errors.New("fetch superseded")
	// ErrUnregistered is returned when fetching a key without a Resource.
	ErrUnregistered = errors.New("cache key not registered")
)

// Snapshot is an immutable view of one cached value. Values stored in the
// cache must be treated as read only by every reader.
type Snapshot struct {
	Key     Key
	Value   any
	Version uint64
	// Optimistic is set while the value contains unconfirmed local changes.
	Optimistic bool
	// Stale is set once the value was invalidated and a refetch is due.
	Stale     bool
	FetchedAt time.Time
}

// Empty reports whether no value was ever installed for the key.
func (s Snapshot) Empty() bool { return s.Version == 0 }

// Resource declares how a key is loaded from the server.
type Resource struct {
	Key   Key
	Fetch func(ctx context.Context) (any, error)
	// Decode turns persisted bytes back into a value. Keys without a decoder
	// are never warmed from the persister.
	Decode func(data []byte) (any, error)
}

// Checkpoint is the state captured immediately before a patch.
type Checkpoint struct {
	Key     Key
	Prev    Snapshot
	Version uint64
}

type entry struct {
	snap     Snapshot
	res      *Resource
	cancel   context.CancelFunc
	fetchSeq uint64
}

type watcher struct {
	id int
	fn func(Snapshot)
}

// Store is the process wide snapshot cache. It is safe for concurrent use and
// meant to be injected into the components that need it.
type Store struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	watchers  map[Key][]watcher
	nextWatch int
	// Watchers of a key see its snapshots one at a time in version order.
	outbox     map[Key]Snapshot
	delivering map[Key]bool
	delivered  map[Key]uint64

	persister Persister
	logger    *log.Logger
}

// New creates an empty Store. persister may be nil.
func New(logger *log.Logger, persister Persister) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		entries:    make(map[Key]*entry),
		watchers:   make(map[Key][]watcher),
		outbox:     make(map[Key]Snapshot),
		delivering: make(map[Key]bool),
		delivered:  make(map[Key]uint64),
		persister:  persister,
		logger:     logger,
	}
}

func (s *Store) entryLocked(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{snap: Snapshot{Key: key}}
		s.entries[key] = e
	}
	return e
}

// Register declares a refetchable resource.
func (s *Store) Register(res Resource) {
	if res.Fetch == nil {
		panic("cache.Register: resource without fetch func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(res.Key)
	r := res
	e.res = &r
}

// Get returns the current snapshot of key.
func (s *Store) Get(key Key) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.snap
	}
	return Snapshot{Key: key}
}

// Value returns the current value of key as T.
func Value[T any](s *Store, key Key) (T, bool) {
	v, ok := s.Get(key).Value.(T)
	return v, ok
}

// Set installs an authoritative value without going through the server.
func (s *Store) Set(key Key, value any) Snapshot {
	s.mu.Lock()
	e := s.entryLocked(key)
	e.snap = Snapshot{Key: key, Value: value, Version: e.snap.Version + 1, FetchedAt: e.snap.FetchedAt}
	snap := e.snap
	s.mu.Unlock()

	s.notify(snap)
	return snap
}

// Patch applies fn to the current value and installs its result as an
// optimistic snapshot. fn must not modify its argument; it returns a new value
// that shares every unchanged part with the old one. Any in-flight fetch of the
// key is cancelled so its response cannot overwrite the patch.
//
// fn runs with the store locked and must not call back into the store.
func (s *Store) Patch(key Key, fn func(old any) (any, error)) (Checkpoint, error) {
	s.mu.Lock()
	e := s.entryLocked(key)
	s.supersedeLocked(e)

	next, err := fn(e.snap.Value)
	if err != nil {
		s.mu.Unlock()
		return Checkpoint{}, err
	}
	cp := Checkpoint{Key: key, Prev: e.snap}
	e.snap = Snapshot{
		Key:        key,
		Value:      next,
		Version:    e.snap.Version + 1,
		Optimistic: true,
		Stale:      e.snap.Stale,
		FetchedAt:  e.snap.FetchedAt,
	}
	cp.Version = e.snap.Version
	snap := e.snap
	s.mu.Unlock()

	s.notify(snap)
	return cp, nil
}

// PatchAs is Patch for a typed value. A missing value is passed as the zero T.
func PatchAs[T any](s *Store, key Key, fn func(old T) (T, error)) (Checkpoint, error) {
	return s.Patch(key, func(old any) (any, error) {
		var cur T
		if old != nil {
			v, ok := old.(T)
			if !ok {
				return nil, fmt.Errorf("cache key %s holds %T", key, old)
			}
			cur = v
		}
		return fn(cur)
	})
}

// Rollback restores the value captured by cp. The restored value is the very
// value that was replaced; only the version advances.
func (s *Store) Rollback(cp Checkpoint) Snapshot {
	s.mu.Lock()
	e := s.entryLocked(cp.Key)
	s.supersedeLocked(e)
	e.snap = Snapshot{
		Key:        cp.Key,
		Value:      cp.Prev.Value,
		Version:    e.snap.Version + 1,
		Optimistic: cp.Prev.Optimistic,
		Stale:      true,
		FetchedAt:  cp.Prev.FetchedAt,
	}
	snap := e.snap
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"key":     string(cp.Key),
		"from":    cp.Version,
		"version": snap.Version,
	}).Debug("cache.rollback")
	s.notify(snap)
	return snap
}

// Cancel aborts the in-flight fetch of key, if any.
func (s *Store) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.supersedeLocked(e)
	}
}

func (s *Store) supersedeLocked(e *entry) {
	e.fetchSeq++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// Fetch loads key from the server and installs the result as the
// authoritative snapshot. It returns ErrFetchSuperseded when a later Fetch,
// Patch or Cancel on the same key took over while the request was running.
func (s *Store) Fetch(ctx context.Context, key Key) (Snapshot, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.res == nil {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("fetch %s: %w", key, ErrUnregistered)
	}
	s.supersedeLocked(e)
	seq := e.fetchSeq
	fctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	fetch := e.res.Fetch
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	value, err := fetch(fctx)

	s.mu.Lock()
	if e.fetchSeq != seq {
		s.mu.Unlock()
		s.logger.WithField("key", string(key)).Debug("cache.fetch superseded")
		return Snapshot{}, fmt.Errorf("fetch %s: %w", key, ErrFetchSuperseded)
	}
	e.cancel = nil
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	e.snap = Snapshot{Key: key, Value: value, Version: e.snap.Version + 1, FetchedAt: time.Now()}
	snap := e.snap
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"key":      string(key),
		"version":  snap.Version,
		"fetch_ms": durationToMillis(time.Since(start)),
	}).Debug("cache.fetch")
	s.persist(ctx, snap)
	s.notify(snap)
	return snap, nil
}

// Invalidate marks keys stale and refetches the registered ones concurrently.
// A refetch superseded by newer local state is not an error.
func (s *Store) Invalidate(ctx context.Context, keys ...Key) error {
	seen := make(map[Key]struct{}, len(keys))
	var toFetch []Key

	s.mu.Lock()
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		e, ok := s.entries[k]
		if !ok {
			continue
		}
		e.snap.Stale = true
		if e.res != nil {
			toFetch = append(toFetch, k)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, k := range toFetch {
		k := k
		g.Go(func() error {
			if _, err := s.Fetch(ctx, k); err != nil && !errors.Is(err, ErrFetchSuperseded) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Watch calls fn after every change of key. The returned func unregisters it.
func (s *Store) Watch(key Key, fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextWatch++
	id := s.nextWatch
	s.watchers[key] = append(s.watchers[key], watcher{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[key]
		for i, w := range ws {
			if w.id == id {
				s.watchers[key] = append(ws[:i:i], ws[i+1:]...)
				return
			}
		}
	}
}

// notify hands snap to the watchers of its key. One caller at a time
// delivers for a key; snapshots queued meanwhile collapse to the newest, and
// a snapshot older than one already delivered is dropped.
func (s *Store) notify(snap Snapshot) {
	key := snap.Key
	s.mu.Lock()
	if queued, ok := s.outbox[key]; !ok || queued.Version < snap.Version {
		s.outbox[key] = snap
	}
	if s.delivering[key] {
		s.mu.Unlock()
		return
	}
	s.delivering[key] = true
	for {
		next, ok := s.outbox[key]
		if !ok {
			s.delivering[key] = false
			s.mu.Unlock()
			return
		}
		delete(s.outbox, key)
		if next.Version <= s.delivered[key] {
			continue
		}
		s.delivered[key] = next.Version
		ws := s.watchers[key]
		s.mu.Unlock()
		for _, w := range ws {
			w.fn(next)
		}
		s.mu.Lock()
	}
}

func (s *Store) persist(ctx context.Context, snap Snapshot) {
	if s.persister == nil {
		return
	}
	data, err := sonic.Marshal(snap.Value)
	if err != nil {
		s.logger.WithError(err).WithField("key", string(snap.Key)).Warn("cache.persist encode failed")
		return
	}
	rec := Record{Version: snap.Version, FetchedAt: snap.FetchedAt, Data: data}
	if err := s.persister.Save(ctx, snap.Key, rec); err != nil {
		s.logger.WithError(err).WithField("key", string(snap.Key)).Warn("cache.persist failed")
	}
}

// Warm installs persisted snapshots for registered keys that hold no value
// yet. Warmed snapshots are stale; callers refetch them with Invalidate.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	s.mu.Lock()
	var resources []Resource
	for _, e := range s.entries {
		if e.res != nil && e.res.Decode != nil && e.snap.Empty() {
			resources = append(resources, *e.res)
		}
	}
	s.mu.Unlock()

	warmed := 0
	for _, res := range resources {
		rec, ok, err := s.persister.Load(ctx, res.Key)
		if err != nil {
			return warmed, fmt.Errorf("warm %s: %w", res.Key, err)
		}
		if !ok {
			continue
		}
		value, err := res.Decode(rec.Data)
		if err != nil {
			s.logger.WithError(err).WithField("key", string(res.Key)).Warn("cache.warm decode failed")
			continue
		}

		s.mu.Lock()
		e := s.entryLocked(res.Key)
		if !e.snap.Empty() {
			s.mu.Unlock()
			continue
		}
		e.snap = Snapshot{Key: res.Key, Value: value, Version: 1, Stale: true, FetchedAt: rec.FetchedAt}
		snap := e.snap
		s.mu.Unlock()

		warmed++
		s.notify(snap)
	}
	return warmed, nil
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
