// Package selection runs the side-fetch triggered when a dashboard user
// selects an item, e.g. loading the Plugins of a selected Cluster.
//
// Only the latest selection counts: selecting something else cancels the
// fetch in flight, and a response that arrives for an older selection is
// dropped instead of overwriting the newer result.
package selection

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// ErrSuperseded is returned to callers whose selection was replaced before
// its fetch finished.
var ErrSuperseded = errors.New("selection superseded by a newer one")

// FetchFunc loads the items related to key. It must honor ctx cancellation.
type FetchFunc func(ctx context.Context, key string) (mirror.Collection, error)

// Result is the outcome of the current selection.
type Result struct {
	Key     string            `json:"key"`
	Items   mirror.Collection `json:"-"`
	Err     error             `json:"-"`
	Pending bool              `json:"pending"`
}

// Fetcher serialises selections. Concurrent selections of the same key share
// one fetch.
type Fetcher struct {
	fetch   FetchFunc
	log     logger.Logger
	timeout time.Duration

	group singleflight.Group

	mu       sync.Mutex
	gen      uint64
	current  string
	inflight bool
	fetchCtx context.Context
	cancel   context.CancelFunc
	result   Result
}

// NewFetcher creates a Fetcher. A zero timeout leaves fetches unbounded.
func NewFetcher(fetch FetchFunc, timeout time.Duration, log logger.Logger) *Fetcher {
	return &Fetcher{
		fetch:   fetch,
		log:     log,
		timeout: timeout,
	}
}

// Select makes key the current selection and waits for its items. ctx only
// bounds the wait: the fetch keeps running for other waiters and for
// Result until it finishes or another key is selected.
func (f *Fetcher) Select(ctx context.Context, key string) (Result, error) {
	ctx = logger.WithSelection(ctx, key)

	f.mu.Lock()
	if key != f.current || !f.inflight {
		f.begin(ctx, key)
	}
	gen, fetchCtx := f.gen, f.fetchCtx
	f.mu.Unlock()

	ch := f.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		items, err := f.fetch(fetchCtx, key)
		f.store(ctx, gen, key, items, err)
		return items, err
	})

	select {
	case <-ctx.Done():
		return Result{Key: key, Pending: true}, ctx.Err()
	case res := <-ch:
		if !f.isCurrent(gen) {
			return Result{Key: key}, ErrSuperseded
		}
		items, _ := res.Val.(mirror.Collection)
		return Result{Key: key, Items: items.DeepCopy(), Err: res.Err}, res.Err
	}
}

// begin starts a new generation; callers hold f.mu.
func (f *Fetcher) begin(ctx context.Context, key string) {
	if f.cancel != nil {
		if f.inflight {
			f.log.Debugf(ctx, "Cancelling fetch for previous selection %q", f.current)
		}
		f.cancel()
	}
	f.gen++
	f.current = key
	f.inflight = true
	if f.timeout > 0 {
		f.fetchCtx, f.cancel = context.WithTimeout(context.Background(), f.timeout)
	} else {
		f.fetchCtx, f.cancel = context.WithCancel(context.Background())
	}
	f.result = Result{Key: key, Pending: true}
}

func (f *Fetcher) store(ctx context.Context, gen uint64, key string, items mirror.Collection, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		f.log.Debugf(ctx, "Dropping stale result for selection %q", key)
		return
	}
	f.inflight = false
	f.result = Result{Key: key, Items: items, Err: err}
	if err != nil {
		f.log.Warn(logger.WithErrorField(ctx, err), "Selection fetch failed")
		return
	}
	f.log.Debugf(ctx, "Selection fetched %d items", len(items))
}

func (f *Fetcher) isCurrent(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gen == f.gen
}

// Result returns the result of the current selection. Key is empty when
// nothing is selected; Pending is set while its fetch runs.
func (f *Fetcher) Result() (key string, items mirror.Collection, err error) {
	r := f.Snapshot()
	return r.Key, r.Items, r.Err
}

// Snapshot is Result as a struct, including Pending.
func (f *Fetcher) Snapshot() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.result
	r.Items = r.Items.DeepCopy()
	return r
}

// Clear drops the current selection and cancels its fetch.
func (f *Fetcher) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.gen++
	f.current = ""
	f.inflight = false
	f.result = Result{}
}
