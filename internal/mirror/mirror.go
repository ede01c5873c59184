// Package mirror keeps a local, name-keyed copy of one Kubernetes resource
// collection. The collection only changes by applying batches of watch
// events; each batch is committed as a whole.
package mirror

import (
	"context"
	"sync"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
)

// EventKind names the watch callback a batch came from. It only drives debug
// diagnostics and metrics; upserts behave the same for every kind.
type EventKind string

const (
	EventAdded    EventKind = "added"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
)

// Recorder receives size and event counts after each commit.
type Recorder interface {
	ObserveSize(watch string, size int)
	ObserveEvents(watch, eventType string, count int)
}

// Subscriber is called after every commit with the new collection. The
// collection is shared between subscribers and must not be modified.
type Subscriber func(Collection)

// Option configures a Mirror.
type Option func(*Mirror)

// WithRecorder reports commits to r.
func WithRecorder(r Recorder) Option {
	return func(m *Mirror) {
		m.recorder = r
	}
}

// Mirror owns the committed collection of one watched kind.
type Mirror struct {
	name     string
	log      logger.Logger
	recorder Recorder

	// commitMu serialises commit+publish so subscribers see commits in order.
	commitMu sync.Mutex

	mu      sync.RWMutex
	current Collection

	subMu       sync.Mutex
	subscribers map[uint64]Subscriber
	nextSubID   uint64
	closed      bool
}

// New creates an empty mirror. name identifies the watch in logs and metrics.
func New(name string, log logger.Logger, opts ...Option) *Mirror {
	m := &Mirror{
		name:        name,
		log:         log,
		current:     Collection{},
		subscribers: make(map[uint64]Subscriber),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the watch name given to New.
func (m *Mirror) Name() string {
	return m.name
}

// Upsert commits an upsert batch. hint is the callback the batch arrived on.
func (m *Mirror) Upsert(ctx context.Context, hint EventKind, batch []Resource) {
	if len(batch) == 0 {
		return
	}
	m.commit(ctx, hint, batch, func(existing Collection) Collection {
		m.diagnose(ctx, hint, existing, batch)
		return ApplyUpserts(existing, batch)
	})
}

// Delete commits a delete batch.
func (m *Mirror) Delete(ctx context.Context, batch []Resource) {
	if len(batch) == 0 {
		return
	}
	m.commit(ctx, EventDeleted, batch, func(existing Collection) Collection {
		return ApplyDeletes(existing, batch)
	})
}

func (m *Mirror) commit(ctx context.Context, kind EventKind, batch []Resource, apply func(Collection) Collection) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.RLock()
	existing := m.current
	m.mu.RUnlock()

	next := apply(existing)

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	ctx = logger.WithBatchSize(logger.WithEventType(logger.WithWatch(ctx, m.name), string(kind)), len(batch))
	m.log.Debugf(ctx, "Committed batch, collection now holds %d resources", len(next))

	if m.recorder != nil {
		m.recorder.ObserveSize(m.name, len(next))
		m.recorder.ObserveEvents(m.name, string(kind), len(batch))
	}

	m.publish(next)
}

func (m *Mirror) publish(next Collection) {
	m.subMu.Lock()
	if m.closed || len(m.subscribers) == 0 {
		m.subMu.Unlock()
		return
	}
	subs := make([]Subscriber, 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	snapshot := next.DeepCopy()
	for _, fn := range subs {
		fn(snapshot)
	}
}

// diagnose logs upserts whose kind does not match the mirror state. Behavior
// is unchanged either way.
func (m *Mirror) diagnose(ctx context.Context, hint EventKind, existing Collection, batch []Resource) {
	if hint != EventAdded && hint != EventModified {
		return
	}
	present := make(map[string]struct{}, len(existing))
	for i := range existing {
		present[existing[i].Name] = struct{}{}
	}
	for _, item := range batch {
		_, ok := present[item.Name]
		itemCtx := logger.WithResourceName(logger.WithWatch(ctx, m.name), item.Name)
		switch {
		case hint == EventModified && !ok:
			m.log.Debug(itemCtx, "unexpected insert via modify")
		case hint == EventAdded && ok:
			m.log.Debug(itemCtx, "unexpected overwrite via add")
		}
		present[item.Name] = struct{}{}
	}
}

// Current returns a deep copy of the latest committed collection.
func (m *Mirror) Current() Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.DeepCopy()
}

// Get returns a deep copy of the named resource.
func (m *Mirror) Get(name string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.current {
		if r.Name == name {
			return Collection{r}.DeepCopy()[0], true
		}
	}
	return Resource{}, false
}

// Len returns the size of the committed collection.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.current)
}

// Subscribe registers fn for commit notifications. The returned func removes
// it and is safe to call more than once. Subscribing to a closed mirror is a
// no-op.
func (m *Mirror) Subscribe(fn Subscriber) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return func() {}
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

// Close drops all subscribers. Batches that arrive afterwards are still
// applied but no longer published.
func (m *Mirror) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.closed = true
	m.subscribers = make(map[uint64]Subscriber)
}
