// Package queue serializes mutations per resource tag. Mutations sharing a tag
// run one at a time in submission order; different tags run concurrently.
// When a tag's lane drains, the cache keys its mutations touched are
// invalidated and refetched, except keys that an unsettled mutation of
// another lane still lists; that lane refetches them when it drains.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/GeneralTask/task-manager-sub001/cache"
)

// DefaultMutationTimeout bounds a single mutation run.
const DefaultMutationTimeout = 30 * time.Second

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("mutation queue closed")

// Tag is the logical resource a mutation writes to.
type Tag string

// State is the lifecycle state of an intent.
type State int32

const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "settled_success"
	case StateFailed:
		return "settled_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Mutation describes one persisting call.
type Mutation struct {
	Tag  Tag
	Name string
	// Run performs the network call. It must honour ctx.
	Run func(ctx context.Context) error
	// OnSuccess runs after Run succeeds, before the intent settles.
	OnSuccess func()
	// OnFailure runs after Run fails, before the intent settles. It is where
	// optimistic patches are rolled back.
	OnFailure func(err error)
	// Invalidate lists the cache keys to refetch when the lane drains.
	Invalidate []cache.Key
}

// Intent is an enqueued mutation.
type Intent struct {
	ID   string
	Tag  Tag
	Name string

	mut      Mutation
	state    atomic.Int32
	err      error
	done     chan struct{}
	enqueued time.Time
}

// State returns the current state.
func (i *Intent) State() State { return State(i.state.Load()) }

// Done is closed once the intent settled.
func (i *Intent) Done() <-chan struct{} { return i.done }

// Err returns the failure of a settled intent.
func (i *Intent) Err() error {
	select {
	case <-i.done:
		return i.err
	default:
		return nil
	}
}

// Wait blocks until the intent settles and returns its error.
func (i *Intent) Wait(ctx context.Context) error {
	select {
	case <-i.done:
		return i.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type lane struct {
	pending []*Intent
	keys    []cache.Key
	seen    map[cache.Key]struct{}
}

func (l *lane) addKeys(keys []cache.Key) {
	for _, k := range keys {
		if _, ok := l.seen[k]; ok {
			continue
		}
		l.seen[k] = struct{}{}
		l.keys = append(l.keys, k)
	}
}

func (l *lane) takeKeys() []cache.Key {
	keys := l.keys
	l.keys = nil
	l.seen = make(map[cache.Key]struct{})
	return keys
}

// Options configures a Queue.
type Options struct {
	Invalidator     Invalidator
	Notifier        Notifier
	Logger          *log.Logger
	MutationTimeout time.Duration
}

// Queue runs mutations on per-tag lanes.
type Queue struct {
	invalidator Invalidator
	notifier    Notifier
	logger      *log.Logger
	timeout     time.Duration

	mu    sync.Mutex
	lanes map[Tag]*lane
	// held counts unsettled intents per invalidate key.
	held   map[cache.Key]int
	idle   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Queue.
func New(opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = DefaultMutationTimeout
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		invalidator: opts.Invalidator,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		timeout:     opts.MutationTimeout,
		lanes:       make(map[Tag]*lane),
		held:        make(map[cache.Key]int),
		idle:        idle,
	}
}

// Enqueue submits m to the lane of m.Tag.
func (q *Queue) Enqueue(m Mutation) (*Intent, error) {
	if m.Tag == "" {
		return nil, fmt.Errorf("enqueue %q: empty tag", m.Name)
	}
	if m.Run == nil {
		return nil, fmt.Errorf("enqueue %q: nil run func", m.Name)
	}
	it := &Intent{
		ID:       uuid.NewString(),
		Tag:      m.Tag,
		Name:     m.Name,
		mut:      m,
		done:     make(chan struct{}),
		enqueued: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	l, ok := q.lanes[m.Tag]
	if !ok {
		if len(q.lanes) == 0 {
			q.idle = make(chan struct{})
		}
		l = &lane{seen: make(map[cache.Key]struct{})}
		q.lanes[m.Tag] = l
		q.wg.Add(1)
		go q.drain(m.Tag, l)
	}
	l.pending = append(l.pending, it)
	l.addKeys(m.Invalidate)
	for _, k := range uniqueKeys(m.Invalidate) {
		q.held[k]++
	}
	depth := len(l.pending)
	q.mu.Unlock()

	q.logger.WithFields(log.Fields{
		"intent": it.ID,
		"tag":    string(it.Tag),
		"name":   it.Name,
		"depth":  depth,
	}).Debug("queue.enqueue")
	return it, nil
}

func (q *Queue) drain(tag Tag, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			keys := q.releasedKeys(l.takeKeys())
			if len(keys) == 0 {
				delete(q.lanes, tag)
				if len(q.lanes) == 0 {
					close(q.idle)
				}
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			q.invalidate(tag, keys)
			// Intents enqueued during the refetch keep the lane alive.
			continue
		}
		it := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		q.mu.Unlock()

		q.run(it)
	}
}

func (q *Queue) run(it *Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	metrics, ctx := newMutationMetrics(ctx, q.logger, it)
	it.state.Store(int32(StateInFlight))
	metrics.ObserveStart()

	err := invoke(ctx, it.mut.Run)
	metrics.ObserveRun()

	state := StateSucceeded
	if err != nil {
		state = StateFailed
		if it.mut.OnFailure != nil {
			it.mut.OnFailure(err)
		}
		if q.notifier != nil {
			q.notifier.Notify(Notification{IntentID: it.ID, Tag: it.Tag, Name: it.Name, Err: err})
		}
	} else if it.mut.OnSuccess != nil {
		it.mut.OnSuccess()
	}

	metrics.Log(state, err)
	q.release(it.mut.Invalidate)
	it.err = err
	it.state.Store(int32(state))
	close(it.done)
}

func (q *Queue) release(keys []cache.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range uniqueKeys(keys) {
		if q.held[k]--; q.held[k] <= 0 {
			delete(q.held, k)
		}
	}
}

// releasedKeys drops the keys other lanes still hold. Callers hold q.mu.
func (q *Queue) releasedKeys(keys []cache.Key) []cache.Key {
	out := keys[:0]
	for _, k := range keys {
		if q.held[k] == 0 {
			out = append(out, k)
		}
	}
	return out
}

func uniqueKeys(keys []cache.Key) []cache.Key {
	out := make([]cache.Key, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (q *Queue) invalidate(tag Tag, keys []cache.Key) {
	if q.invalidator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.invalidator.Invalidate(ctx, keys...); err != nil {
		q.logger.WithError(err).WithField("tag", string(tag)).Warn("queue.invalidate failed")
	}
}

// Pending returns the number of intents of tag that have not started yet.
func (q *Queue) Pending(tag Tag) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[tag]; ok {
		return len(l.pending)
	}
	return 0
}

// Idle reports whether no lane is running.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes) == 0
}

// Drain blocks until every lane finished, including its refetch.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting intents and waits for running lanes to finish.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
