// Package session owns the mirrors of one dashboard scope: one mirror, watch
// adapter and feed per configured resource kind.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudoperators/greenhouse-mirror/internal/config_loader"
	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	"github.com/cloudoperators/greenhouse-mirror/internal/watch"
	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/cloudoperators/greenhouse-mirror/pkg/health"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"k8s.io/client-go/dynamic"
)

// Recorder receives mirror and watch metrics; health.MirrorMetrics implements it.
type Recorder interface {
	mirror.Recorder
	watch.ErrorRecorder
}

// Binding is one mirrored kind and the feed that populates it.
type Binding struct {
	// Name keys the mirror, e.g. "clusters"
	Name string
	// Kind is the Kubernetes kind, used in logs
	Kind string
	Feed watch.Feed
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder reports metrics of every mirror and feed to r.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithHealth reports per-watch readiness through h.
func WithHealth(h watch.HealthReporter) Option {
	return func(s *Session) {
		s.health = h
	}
}

type entry struct {
	binding Binding
	mirror  *mirror.Mirror
	adapter *watch.Adapter
}

// Session holds the mirrors of one scope between Start and Stop.
type Session struct {
	log      logger.Logger
	recorder Recorder
	health   watch.HealthReporter

	order []string

	mu      sync.RWMutex
	entries map[string]*entry
	started bool
	stopped bool
}

// New creates a session for bindings. Names must be unique.
func New(log logger.Logger, bindings []Binding, opts ...Option) (*Session, error) {
	s := &Session{
		log:     log,
		entries: make(map[string]*entry, len(bindings)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, b := range bindings {
		if b.Name == "" || b.Feed == nil {
			return nil, apperrors.Validation("binding %q needs a name and a feed", b.Name)
		}
		if _, dup := s.entries[b.Name]; dup {
			return nil, apperrors.Validation("duplicate mirror name %q", b.Name)
		}

		var mirrorOpts []mirror.Option
		var adapterOpts []watch.AdapterOption
		if s.recorder != nil {
			mirrorOpts = append(mirrorOpts, mirror.WithRecorder(s.recorder))
			adapterOpts = append(adapterOpts, watch.WithErrorRecorder(s.recorder))
		}
		if s.health != nil {
			adapterOpts = append(adapterOpts, watch.WithHealth(s.health))
		}

		m := mirror.New(b.Name, log, mirrorOpts...)
		s.entries[b.Name] = &entry{
			binding: b,
			mirror:  m,
			adapter: watch.NewAdapter(m, b.Feed, b.Kind, log, adapterOpts...),
		}
		s.order = append(s.order, b.Name)
	}
	return s, nil
}

// FromConfig builds one DynamicFeed per configured resource.
func FromConfig(cfg *config_loader.MirrorConfig, client dynamic.Interface, log logger.Logger, opts ...Option) (*Session, error) {
	initial, err := cfg.Spec.Watch.ParseInitialBackoff()
	if err != nil {
		return nil, apperrors.Validation("spec.watch.initialBackoff: %v", err)
	}
	maxBackoff, err := cfg.Spec.Watch.ParseMaxBackoff()
	if err != nil {
		return nil, apperrors.Validation("spec.watch.maxBackoff: %v", err)
	}

	bindings := make([]Binding, 0, len(cfg.Spec.Resources))
	for _, r := range cfg.Spec.Resources {
		gvr, err := r.GVR()
		if err != nil {
			return nil, apperrors.Validation("resource %q: %v", r.Name, err)
		}
		feed := watch.NewDynamicFeed(client, watch.DynamicFeedConfig{
			GVR:            gvr,
			Namespace:      cfg.Spec.Namespace,
			LabelSelector:  r.LabelSelector,
			InitialBackoff: initial,
			MaxBackoff:     maxBackoff,
		}, log)
		bindings = append(bindings, Binding{Name: r.Name, Kind: r.Kind, Feed: feed})
	}
	return New(log, bindings, opts...)
}

// Start starts every feed. If one fails to start, the ones already started
// are stopped again. A session can be started once and not after Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("session already started")
	}
	if s.stopped {
		return fmt.Errorf("session already stopped")
	}
	s.started = true

	for i, name := range s.order {
		e := s.entries[name]
		if err := e.adapter.Start(ctx); err != nil {
			for _, prev := range s.order[:i] {
				s.entries[prev].adapter.Stop()
			}
			for _, e := range s.entries {
				e.mirror.Close()
			}
			s.stopped = true
			return err
		}
		s.log.Infof(logger.WithWatch(ctx, name), "Started %s watch", e.binding.Kind)
	}

	if s.health != nil {
		s.health.SetCheck(health.CheckWatch, health.CheckOK)
	}
	return nil
}

// Stop cancels all feeds and discards the mirrors. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.entries = map[string]*entry{}
		return
	}
	s.stopped = true

	for _, name := range s.order {
		e := s.entries[name]
		e.adapter.Stop()
		e.mirror.Close()
	}
	s.entries = map[string]*entry{}
	if s.health != nil {
		s.health.SetCheck(health.CheckWatch, health.CheckError)
	}
}

// Mirror returns the mirror registered under name. After Stop no mirror is returned.
func (s *Session) Mirror(name string) (*mirror.Mirror, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.mirror, true
}

// Kinds returns the mirror names in configuration order.
func (s *Session) Kinds() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
