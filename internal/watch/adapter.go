package watch

import (
	"context"
	"sync"

	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/cloudoperators/greenhouse-mirror/pkg/health"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ErrorRecorder counts feed errors per watch.
type ErrorRecorder interface {
	ObserveWatchError(watch string)
}

// HealthReporter receives the per-watch readiness check.
type HealthReporter interface {
	SetCheck(name string, status health.CheckStatus)
}

// CheckName is the readiness check an adapter reports for the named watch.
func CheckName(watch string) string {
	return health.CheckWatch + "/" + watch
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithErrorRecorder counts OnError calls.
func WithErrorRecorder(r ErrorRecorder) AdapterOption {
	return func(a *Adapter) {
		a.errors = r
	}
}

// WithHealth reports the watch state as a readiness check.
func WithHealth(h HealthReporter) AdapterOption {
	return func(a *Adapter) {
		a.health = h
	}
}

// Adapter applies the batches of one Feed to one Mirror. Added and Modified
// batches both become upserts, Deleted batches become deletes. Errors are
// logged and reported; the mirror is left as it is.
type Adapter struct {
	mirror *mirror.Mirror
	feed   Feed
	kind   string
	log    logger.Logger

	errors ErrorRecorder
	health HealthReporter

	mu     sync.Mutex
	ctx    context.Context
	failed bool
}

// NewAdapter binds feed to m. kind is the Kubernetes kind being watched and
// only appears in logs.
func NewAdapter(m *mirror.Mirror, feed Feed, kind string, log logger.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		mirror: m,
		feed:   feed,
		kind:   kind,
		log:    log,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start starts the feed with the adapter's handlers. ctx bounds the feed and
// carries the log fields of every batch.
func (a *Adapter) Start(ctx context.Context) error {
	ctx = logger.WithResourceKind(logger.WithWatch(ctx, a.mirror.Name()), a.kind)
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	a.setHealth(health.CheckError)

	if err := a.feed.Start(ctx, a.Handlers()); err != nil {
		return apperrors.TransportError("failed to start %s watch %q: %v", a.kind, a.mirror.Name(), err)
	}
	return nil
}

// Stop cancels the feed.
func (a *Adapter) Stop() {
	a.feed.Cancel()
}

// Handlers returns the callbacks bound to the mirror.
func (a *Adapter) Handlers() Handlers {
	return Handlers{
		OnAdded: func(items []*unstructured.Unstructured) {
			a.upsert(mirror.EventAdded, items)
		},
		OnModified: func(items []*unstructured.Unstructured) {
			a.upsert(mirror.EventModified, items)
		},
		OnDeleted: a.delete,
		OnError:   a.fail,
	}
}

func (a *Adapter) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *Adapter) upsert(hint mirror.EventKind, items []*unstructured.Unstructured) {
	ctx := a.context()
	a.recover(ctx)
	a.mirror.Upsert(ctx, hint, a.resources(ctx, hint, items))
}

func (a *Adapter) delete(items []*unstructured.Unstructured) {
	ctx := a.context()
	a.recover(ctx)
	a.mirror.Delete(ctx, a.resources(ctx, mirror.EventDeleted, items))
}

// resources converts a batch, dropping items that have no name.
func (a *Adapter) resources(ctx context.Context, hint mirror.EventKind, items []*unstructured.Unstructured) []mirror.Resource {
	batch := make([]mirror.Resource, 0, len(items))
	for i, item := range items {
		r, err := mirror.FromUnstructured(item)
		if err != nil {
			errCtx := logger.WithEventType(logger.WithErrorField(ctx, err), string(hint))
			a.log.Errorf(errCtx, "Dropping item %d of %s batch", i, hint)
			continue
		}
		batch = append(batch, r)
	}
	return batch
}

func (a *Adapter) fail(err error) {
	ctx := a.context()
	a.log.Error(logger.WithErrorField(ctx, err), "Watch feed reported an error")
	if a.errors != nil {
		a.errors.ObserveWatchError(a.mirror.Name())
	}
	a.mu.Lock()
	a.failed = true
	a.mu.Unlock()
	a.setHealth(health.CheckError)
}

// recover marks the watch healthy on the first batch after Start or an error.
func (a *Adapter) recover(ctx context.Context) {
	a.mu.Lock()
	wasFailed := a.failed
	a.failed = false
	a.mu.Unlock()
	if wasFailed {
		a.log.Info(ctx, "Watch feed recovered")
	}
	a.setHealth(health.CheckOK)
}

func (a *Adapter) setHealth(status health.CheckStatus) {
	if a.health != nil {
		a.health.SetCheck(CheckName(a.mirror.Name()), status)
	}
}
