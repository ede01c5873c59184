// Package server exposes the mirrors to dashboard consumers over HTTP.
//
// Routes:
//
//	GET    /api/v1/resources/{kind}         current collection
//	GET    /api/v1/resources/{kind}/{name}  one object
//	POST   /api/v1/resources/{kind}         create
//	PUT    /api/v1/resources/{kind}/{name}  update
//	DELETE /api/v1/resources/{kind}/{name}  delete
//	GET    /api/v1/watch/{kind}             websocket stream of the collection
//	POST   /api/v1/selection/{name}         select a cluster
//	GET    /api/v1/selection                current selection result
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/internal/config_loader"
	"github.com/cloudoperators/greenhouse-mirror/internal/k8s_client"
	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	"github.com/cloudoperators/greenhouse-mirror/internal/selection"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// APIPrefix is the path prefix of all routes
	APIPrefix = "/api/v1"

	// maxBodyBytes bounds write request bodies
	maxBodyBytes = 4 << 20
)

// Mirrors looks up a mirror by its configured name; *session.Session implements it.
type Mirrors interface {
	Mirror(name string) (*mirror.Mirror, bool)
}

// ResourceWriter forwards writes to the API server; *k8s_client.Writer implements it.
type ResourceWriter interface {
	Create(ctx context.Context, obj *unstructured.Unstructured) k8s_client.WriteResult
	Update(ctx context.Context, obj *unstructured.Unstructured) k8s_client.WriteResult
	Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) k8s_client.WriteResult
}

// Selector runs the cluster selection side-fetch; *selection.Fetcher implements it.
type Selector interface {
	Select(ctx context.Context, key string) (selection.Result, error)
	Snapshot() selection.Result
}

// Config describes what the server exposes.
type Config struct {
	Port string
	// Namespace is applied to written objects that carry none
	Namespace string
	Resources []config_loader.ResourceConfig
	// StreamBuffer is the number of pending collections per websocket
	// subscriber before it is disconnected as too slow
	StreamBuffer int
}

// Option configures a Server.
type Option func(*Server)

// WithWriter enables the write routes.
func WithWriter(w ResourceWriter) Option {
	return func(s *Server) {
		s.writer = w
	}
}

// WithSelector enables the selection routes.
func WithSelector(sel Selector) Option {
	return func(s *Server) {
		s.selector = sel
	}
}

type kindInfo struct {
	gvk schema.GroupVersionKind
}

// Server is the dashboard-facing HTTP API.
type Server struct {
	server    *http.Server
	log       logger.Logger
	port      string
	namespace string
	buffer    int

	mirrors  Mirrors
	kinds    map[string]kindInfo
	writer   ResourceWriter
	selector Selector

	// closing ends websocket streams, which Shutdown does not wait for
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server. Resources whose apiVersion does not parse are left
// out of the write routes; config validation rejects them earlier.
func New(cfg Config, mirrors Mirrors, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		log:       log,
		port:      cfg.Port,
		namespace: cfg.Namespace,
		buffer:    cfg.StreamBuffer,
		mirrors:   mirrors,
		kinds:     make(map[string]kindInfo, len(cfg.Resources)),
		closing:   make(chan struct{}),
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, r := range cfg.Resources {
		gvk, err := r.GVK()
		if err != nil {
			continue
		}
		s.kinds[r.Name] = kindInfo{gvk: gvk}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+APIPrefix+"/resources/{kind}", s.listHandler)
	mux.HandleFunc("GET "+APIPrefix+"/resources/{kind}/{name}", s.getHandler)
	mux.HandleFunc("GET "+APIPrefix+"/watch/{kind}", s.watchHandler)
	if s.writer != nil {
		mux.HandleFunc("POST "+APIPrefix+"/resources/{kind}", s.createHandler)
		mux.HandleFunc("PUT "+APIPrefix+"/resources/{kind}/{name}", s.updateHandler)
		mux.HandleFunc("DELETE "+APIPrefix+"/resources/{kind}/{name}", s.deleteHandler)
	}
	if s.selector != nil {
		mux.HandleFunc("POST "+APIPrefix+"/selection/{name}", s.selectHandler)
		mux.HandleFunc("GET "+APIPrefix+"/selection", s.selectionHandler)
	}

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.withRequestContext(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in a goroutine and returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.log.Infof(ctx, "Starting API server on port %s", s.port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(logger.WithErrorField(ctx, err), "API server error")
		}
	}()

	return nil
}

// Shutdown stops accepting requests, ends websocket streams and waits for
// the remaining handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "Shutting down API server...")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.server.Shutdown(ctx)
}

func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := logger.WithLogField(r.Context(), "request_id", requestID)
		s.log.Debugf(ctx, "%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
