package logger

import (
	"context"
	"errors"
	"io"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// Resource fields
	ResourceKindKey contextKey = "resource_kind"
	ResourceNameKey contextKey = "resource_name"
	NamespaceKey    contextKey = "namespace"

	// Mirror fields
	WatchKey      contextKey = "watch"
	EventTypeKey  contextKey = "event_type"
	BatchSizeKey  contextKey = "batch_size"
	SubscriberKey contextKey = "subscriber_id"
	SelectionKey  contextKey = "selection"

	// LogFieldsKey holds the dynamic key-value pairs attached to a context
	LogFieldsKey contextKey = "log_fields"
)

// LogFields holds dynamic key-value pairs for logging
type LogFields map[string]interface{}

// WithLogField adds a single log field to the context.
// The field is included in every record logged with the returned context.
func WithLogField(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogFields(ctx, LogFields{key: value})
}

// WithLogFields adds multiple log fields to the context
func WithLogFields(ctx context.Context, newFields LogFields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	fields := GetLogFields(ctx)
	if fields == nil {
		fields = make(LogFields, len(newFields))
	}
	for k, v := range newFields {
		fields[k] = v
	}
	return context.WithValue(ctx, LogFieldsKey, fields)
}

func WithResourceKind(ctx context.Context, kind string) context.Context {
	return WithLogField(ctx, string(ResourceKindKey), kind)
}

func WithResourceName(ctx context.Context, name string) context.Context {
	return WithLogField(ctx, string(ResourceNameKey), name)
}

func WithNamespace(ctx context.Context, namespace string) context.Context {
	return WithLogField(ctx, string(NamespaceKey), namespace)
}

// WithWatch tags records with the name of the watch (mirror) they belong to
func WithWatch(ctx context.Context, watch string) context.Context {
	return WithLogField(ctx, string(WatchKey), watch)
}

func WithEventType(ctx context.Context, eventType string) context.Context {
	return WithLogField(ctx, string(EventTypeKey), eventType)
}

func WithBatchSize(ctx context.Context, size int) context.Context {
	return WithLogField(ctx, string(BatchSizeKey), size)
}

func WithSubscriber(ctx context.Context, id string) context.Context {
	return WithLogField(ctx, string(SubscriberKey), id)
}

func WithSelection(ctx context.Context, selection string) context.Context {
	return WithLogField(ctx, string(SelectionKey), selection)
}

// WithErrorField attaches err to the context as the "error" field.
// Unexpected errors also get a "stack_trace" field; expected ones
// (cancellation, EOF, API status errors, service errors) do not.
// A nil err returns ctx unchanged.
func WithErrorField(ctx context.Context, err error) context.Context {
	if err == nil {
		return ctx
	}
	fields := LogFields{"error": err.Error()}
	if shouldCaptureStackTrace(err) {
		fields["stack_trace"] = GetStackTrace(1)
	}
	return WithLogFields(ctx, fields)
}

func shouldCaptureStackTrace(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return false
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return false
	}
	var svcErr *apperrors.ServiceError
	return !errors.As(err, &svcErr)
}

// GetLogFields returns a copy of the log fields carried by ctx, or nil
func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return nil
	}
	v, ok := ctx.Value(LogFieldsKey).(LogFields)
	if !ok {
		return nil
	}
	fields := make(LogFields, len(v))
	for k, val := range v {
		fields[k] = val
	}
	return fields
}
