package watch

import (
	"context"
	"errors"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// FakeFeed is a Feed driven by the caller. Deliveries run synchronously on
// the calling goroutine and are dropped before Start and after Cancel.
type FakeFeed struct {
	mu        sync.Mutex
	handlers  Handlers
	started   bool
	cancelled bool
	startErr  error
}

// NewFakeFeed returns an idle fake feed.
func NewFakeFeed() *FakeFeed {
	return &FakeFeed{}
}

// FailStart makes the next Start return err.
func (f *FakeFeed) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *FakeFeed) Start(_ context.Context, h Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if !h.complete() {
		return errors.New("all four handlers are required")
	}
	if f.started {
		return errors.New("feed already started")
	}
	f.handlers = h
	f.started = true
	return nil
}

func (f *FakeFeed) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

func (f *FakeFeed) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeFeed) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *FakeFeed) active() (Handlers, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers, f.started && !f.cancelled
}

// Add delivers objs as one Added batch.
func (f *FakeFeed) Add(objs ...*unstructured.Unstructured) {
	if h, ok := f.active(); ok {
		h.OnAdded(objs)
	}
}

// Modify delivers objs as one Modified batch.
func (f *FakeFeed) Modify(objs ...*unstructured.Unstructured) {
	if h, ok := f.active(); ok {
		h.OnModified(objs)
	}
}

// Delete delivers objs as one Deleted batch.
func (f *FakeFeed) Delete(objs ...*unstructured.Unstructured) {
	if h, ok := f.active(); ok {
		h.OnDeleted(objs)
	}
}

// Error reports err to the error callback.
func (f *FakeFeed) Error(err error) {
	if h, ok := f.active(); ok {
		h.OnError(err)
	}
}

// NewObject builds a minimal unstructured object for feeds and tests.
func NewObject(apiVersion, kind, namespace, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetNamespace(namespace)
	u.SetName(name)
	return u
}
