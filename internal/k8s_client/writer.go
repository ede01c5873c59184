package k8s_client

import (
	"context"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	pkgotel "github.com/cloudoperators/greenhouse-mirror/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Write operations, used as metric and span labels
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// WriteResult is the outcome of a write as shown to the user.
type WriteResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// WriteRecorder counts writes by outcome.
type WriteRecorder interface {
	ObserveWrite(kind, operation string, ok bool)
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriteRecorder counts every write on r.
func WithWriteRecorder(r WriteRecorder) WriterOption {
	return func(w *Writer) {
		w.recorder = r
	}
}

// WithTracer overrides the tracer of the global provider.
func WithTracer(t trace.Tracer) WriterOption {
	return func(w *Writer) {
		w.tracer = t
	}
}

// Writer turns K8sClient calls into WriteResults. Every failure, including a
// response of an unexpected kind, is a rejected result; nothing is retried.
type Writer struct {
	client   K8sClient
	log      logger.Logger
	recorder WriteRecorder
	tracer   trace.Tracer
}

// NewWriter creates a Writer on top of c.
func NewWriter(c K8sClient, log logger.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		client: c,
		log:    log,
		tracer: pkgotel.Tracer(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create creates obj.
func (w *Writer) Create(ctx context.Context, obj *unstructured.Unstructured) WriteResult {
	gvk := obj.GroupVersionKind()
	ctx, span := w.start(ctx, OperationCreate, gvk.Kind, obj.GetNamespace(), obj.GetName())
	defer span.End()

	created, err := w.client.CreateResource(ctx, obj)
	return w.finish(ctx, span, OperationCreate, gvk.Kind, obj.GetName(), created, err)
}

// Update replaces obj on the server.
func (w *Writer) Update(ctx context.Context, obj *unstructured.Unstructured) WriteResult {
	gvk := obj.GroupVersionKind()
	ctx, span := w.start(ctx, OperationUpdate, gvk.Kind, obj.GetNamespace(), obj.GetName())
	defer span.End()

	updated, err := w.client.UpdateResource(ctx, obj)
	return w.finish(ctx, span, OperationUpdate, gvk.Kind, obj.GetName(), updated, err)
}

// Delete deletes the named resource. A resource that is already gone counts
// as deleted.
func (w *Writer) Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) WriteResult {
	ctx, span := w.start(ctx, OperationDelete, gvk.Kind, namespace, name)
	defer span.End()

	err := w.client.DeleteResource(ctx, gvk, namespace, name)
	return w.finish(ctx, span, OperationDelete, gvk.Kind, name, nil, err)
}

func (w *Writer) start(ctx context.Context, op, kind, namespace, name string) (context.Context, trace.Span) {
	ctx, span := w.tracer.Start(ctx, "k8s."+op, trace.WithAttributes(
		attribute.String("k8s.kind", kind),
		attribute.String("k8s.namespace", namespace),
		attribute.String("k8s.name", name),
	))
	return pkgotel.WithTraceFields(resourceCtx(ctx, kind, namespace, name)), span
}

// finish checks the response and records the outcome. returned is nil for deletes.
func (w *Writer) finish(ctx context.Context, span trace.Span, op, kind, name string, returned *unstructured.Unstructured, err error) WriteResult {
	if err == nil && returned != nil && returned.GetKind() != "" && returned.GetKind() != kind {
		err = apperrors.WriteRejected("%s of %s %q returned unexpected kind %q", op, kind, name, returned.GetKind())
	}

	var result WriteResult
	if err != nil {
		rejected, ok := apperrors.AsServiceError(err)
		if !ok || rejected.Code != apperrors.ErrorWriteRejected {
			rejected = apperrors.WriteRejected("%s of %s %q failed: %v", op, kind, name, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, rejected.Reason)
		w.log.Warn(logger.WithErrorField(ctx, err), "Write rejected")
		result = WriteResult{OK: false, Message: rejected.Reason}
	} else {
		span.SetStatus(codes.Ok, "")
		result = WriteResult{OK: true, Message: successMessage(op, kind, name)}
	}

	if w.recorder != nil {
		w.recorder.ObserveWrite(kind, op, result.OK)
	}
	return result
}

func successMessage(op, kind, name string) string {
	switch op {
	case OperationCreate:
		return kind + " " + name + " created"
	case OperationUpdate:
		return kind + " " + name + " updated"
	default:
		return kind + " " + name + " deleted"
	}
}
