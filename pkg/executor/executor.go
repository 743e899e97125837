// Package executor drains a change plan through a fixed-size pool of
// workers. It owns every work item from admission to terminal outcome:
// retrying transient failures with backoff, recording fatal ones, and
// refusing to start deletions until every upload has reached a terminal
// state.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/edgeops/edgesync/pkg/errclass"
	"github.com/edgeops/edgesync/pkg/planner"
	"github.com/edgeops/edgesync/pkg/retry"
)

// DefaultConcurrency is the worker count when the caller does not set one.
const DefaultConcurrency = 16

// Client performs the network side of one work item. Implementations must
// be safe for concurrent use by all workers.
type Client interface {
	Upload(ctx context.Context, item planner.Item) error
	Delete(ctx context.Context, path string) error
}

// Failure is one path that did not converge.
type Failure struct {
	Path string
	Kind errclass.Kind
	Err  error
}

// Report summarizes an execution. Immutable once returned; the sole basis
// for exit-status decisions.
type Report struct {
	Uploaded      int
	Deleted       int
	Unchanged     int
	BytesUploaded int64
	Failed        []Failure
}

// OK reports whether every operation reached its desired state.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Executor runs plans.
type Executor struct {
	client      Client
	concurrency int
	policy      retry.Policy
}

// New creates an executor with the given worker count. Values below 1
// select DefaultConcurrency.
func New(client Client, concurrency int, policy retry.Policy) *Executor {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Executor{client: client, concurrency: concurrency, policy: policy}
}

// state is the only mutable structure shared during the concurrent phase.
// Appends are serialized by the mutex.
type state struct {
	mu      sync.Mutex
	report  Report
	stopped atomic.Bool
}

func (s *state) success(item planner.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch item.Action {
	case planner.ActionUpload:
		s.report.Uploaded++
		s.report.BytesUploaded += item.Size
	case planner.ActionDelete:
		s.report.Deleted++
	}
}

func (s *state) fail(item planner.Item, kind errclass.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Failed = append(s.report.Failed, Failure{Path: item.Path, Kind: kind, Err: err})
}

// Execute drains the plan and returns the report. Uploads run first as one
// batch; the deletion batch is not admitted until the upload batch has
// fully drained, so a changed file is never simultaneously remote-deleted
// and not-yet-uploaded. A fatal auth failure or context cancellation stops
// admission: items already in flight finish their current attempt, items
// never attempted are recorded as cancelled.
func (e *Executor) Execute(ctx context.Context, plan planner.Plan) Report {
	st := &state{}
	st.report.Unchanged = plan.Unchanged

	e.runBatch(ctx, st, plan.Uploads())
	e.runBatch(ctx, st, plan.Deletions())

	return st.report
}

func (e *Executor) runBatch(ctx context.Context, st *state, items []planner.Item) {
	if len(items) == 0 {
		return
	}

	jobs := make(chan planner.Item)
	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				e.process(ctx, st, item)
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()
}

func (e *Executor) process(ctx context.Context, st *state, item planner.Item) {
	if st.stopped.Load() || ctx.Err() != nil {
		st.fail(item, errclass.KindCancelled,
			errclass.New(string(item.Action), item.Path, errclass.KindCancelled, ctx.Err()))
		log.WithFields(log.Fields{"path": item.Path, "action": item.Action}).
			Debug("skipped: run stopped")
		return
	}

	attempt := 0
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		attempt++
		log.WithFields(log.Fields{
			"path":    item.Path,
			"action":  item.Action,
			"attempt": attempt,
			"reason":  item.Reason,
		}).Debug("executing")
		return e.apply(ctx, item)
	})

	if err == nil {
		st.success(item)
		log.WithFields(log.Fields{"path": item.Path, "action": item.Action}).Info("done")
		return
	}

	kind := errclass.KindOf(err)
	st.fail(item, kind, err)
	log.WithFields(log.Fields{
		"path":   item.Path,
		"action": item.Action,
		"kind":   kind,
	}).WithError(err).Warn("failed")

	if kind == errclass.KindAuth {
		// Credentials are shared by every item; nothing else can succeed.
		st.stopped.Store(true)
	}
}

func (e *Executor) apply(ctx context.Context, item planner.Item) error {
	switch item.Action {
	case planner.ActionUpload:
		return e.client.Upload(ctx, item)
	case planner.ActionDelete:
		return e.client.Delete(ctx, item.Path)
	default:
		return errclass.New(string(item.Action), item.Path, errclass.KindValidation, nil)
	}
}
