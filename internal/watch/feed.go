// Package watch binds Kubernetes watch feeds to mirrors.
package watch

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Handlers are the callbacks a Feed delivers batches to. Each call carries
// one batch; batches are delivered one at a time in arrival order.
type Handlers struct {
	OnAdded    func([]*unstructured.Unstructured)
	OnModified func([]*unstructured.Unstructured)
	OnDeleted  func([]*unstructured.Unstructured)
	OnError    func(error)
}

func (h Handlers) complete() bool {
	return h.OnAdded != nil && h.OnModified != nil && h.OnDeleted != nil && h.OnError != nil
}

// Feed is a server-push source of add/modify/delete notifications for one
// resource collection. Feeds own reconnects; consumers only see batches and
// errors. After Cancel no new batch is started, but one already being
// delivered may still land.
type Feed interface {
	Start(ctx context.Context, h Handlers) error
	Cancel()
}
