package watch

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	k8swatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// DynamicFeedConfig selects the collection a DynamicFeed watches.
type DynamicFeedConfig struct {
	GVR schema.GroupVersionResource
	// Namespace limits the feed to one namespace; empty watches all of them.
	Namespace     string
	LabelSelector string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DynamicFeed is a Feed built on the client-go dynamic client. It lists the
// collection once and delivers it as one Added batch, then watches from the
// list's resourceVersion and delivers every event as a one-item batch.
//
// When the watch fails or closes, the error goes to OnError and the feed
// re-lists after an exponential backoff. Objects seen again are delivered as
// an Added batch; objects that disappeared meanwhile as a Deleted batch.
type DynamicFeed struct {
	client dynamic.Interface
	cfg    DynamicFeedConfig
	log    logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDynamicFeed creates a feed for cfg.GVR. Zero backoff values take the defaults.
func NewDynamicFeed(client dynamic.Interface, cfg DynamicFeedConfig, log logger.Logger) *DynamicFeed {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &DynamicFeed{
		client: client,
		cfg:    cfg,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start launches the list/watch loop and returns immediately. A feed can only
// be started once.
func (f *DynamicFeed) Start(ctx context.Context, h Handlers) error {
	if !h.complete() {
		return errors.New("all four handlers are required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return errors.New("feed already started")
	}
	f.started = true

	ctx, f.cancel = context.WithCancel(ctx)
	go func() {
		defer close(f.done)
		f.run(ctx, h)
	}()
	return nil
}

// Cancel stops the loop. It does not wait for a batch being delivered.
func (f *DynamicFeed) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

// Done is closed when the loop has exited.
func (f *DynamicFeed) Done() <-chan struct{} {
	return f.done
}

func (f *DynamicFeed) resource() dynamic.ResourceInterface {
	if f.cfg.Namespace == "" {
		return f.client.Resource(f.cfg.GVR)
	}
	return f.client.Resource(f.cfg.GVR).Namespace(f.cfg.Namespace)
}

func (f *DynamicFeed) newBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: f.cfg.InitialBackoff,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      f.cfg.MaxBackoff,
	}
}

func (f *DynamicFeed) run(ctx context.Context, h Handlers) {
	// names currently held by the consumer, used to diff a re-list
	known := make(map[string]struct{})
	backoff := f.newBackoff()

	for ctx.Err() == nil {
		resourceVersion, err := f.list(ctx, h, known)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.OnError(err)
			if !waitForReconnect(ctx, backoff.Step()) {
				return
			}
			continue
		}

		started := time.Now()
		progressed, err := f.watch(ctx, h, resourceVersion, known)
		if err == nil || ctx.Err() != nil {
			return
		}
		// only a watch that made progress resets the backoff, a list does not
		if progressed || time.Since(started) >= f.cfg.MaxBackoff {
			backoff = f.newBackoff()
		}
		h.OnError(err)
		delay := backoff.Step()
		f.log.Warnf(logger.WithErrorField(ctx, err), "Watch ended, re-listing in %s", delay)
		if !waitForReconnect(ctx, delay) {
			return
		}
	}
}

func (f *DynamicFeed) list(ctx context.Context, h Handlers, known map[string]struct{}) (string, error) {
	list, err := f.resource().List(ctx, metav1.ListOptions{LabelSelector: f.cfg.LabelSelector})
	if err != nil {
		return "", apperrors.TransportError("failed to list %s: %v", f.cfg.GVR.String(), err)
	}

	items := make([]*unstructured.Unstructured, 0, len(list.Items))
	listed := make(map[string]struct{}, len(list.Items))
	for i := range list.Items {
		items = append(items, &list.Items[i])
		if name := list.Items[i].GetName(); name != "" {
			listed[name] = struct{}{}
		}
	}

	var vanished []*unstructured.Unstructured
	for name := range known {
		if _, ok := listed[name]; !ok {
			gone := &unstructured.Unstructured{}
			gone.SetName(name)
			vanished = append(vanished, gone)
		}
		delete(known, name)
	}
	for name := range listed {
		known[name] = struct{}{}
	}

	f.log.Debugf(logger.WithBatchSize(ctx, len(items)), "Listed %s at resourceVersion %q", f.cfg.GVR.Resource, list.GetResourceVersion())
	h.OnAdded(items)
	if len(vanished) > 0 {
		h.OnDeleted(vanished)
	}
	return list.GetResourceVersion(), nil
}

// watch consumes one watch until it fails. A nil error means ctx is done.
// progressed reports whether any event, bookmarks included, arrived.
func (f *DynamicFeed) watch(ctx context.Context, h Handlers, resourceVersion string, known map[string]struct{}) (progressed bool, err error) {
	watcher, err := f.resource().Watch(ctx, metav1.ListOptions{
		LabelSelector:       f.cfg.LabelSelector,
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return false, apperrors.TransportError("failed to watch %s: %v", f.cfg.GVR.String(), err)
	}
	defer watcher.Stop()

	result := watcher.ResultChan()
	for {
		select {
		case <-ctx.Done():
			return progressed, nil
		case event, ok := <-result:
			if !ok {
				return progressed, apperrors.TransportError("watch channel for %s closed", f.cfg.GVR.String())
			}
			if event.Type == k8swatch.Error {
				return progressed, apperrors.TransportError("watch of %s failed: %v", f.cfg.GVR.String(), apierrors.FromObject(event.Object))
			}
			progressed = true
			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			batch := []*unstructured.Unstructured{obj}
			switch event.Type {
			case k8swatch.Added:
				known[obj.GetName()] = struct{}{}
				h.OnAdded(batch)
			case k8swatch.Modified:
				known[obj.GetName()] = struct{}{}
				h.OnModified(batch)
			case k8swatch.Deleted:
				delete(known, obj.GetName())
				h.OnDeleted(batch)
			}
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
