package tracker

import (
	"context"
	"sync"
)

// Tracking is a driver running on its own goroutine. Callers watch it with
// Snapshot and Done, collect the outcome with Wait and may stop it with
// Cancel.
type Tracking struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	latest Job
	result *Result
	err    error
}

// Track starts Run for sub in the background and returns immediately.
func (t *Tracker) Track(ctx context.Context, sub Submission) *Tracking {
	ctx, cancel := context.WithCancel(ctx)
	tr := &Tracking{cancel: cancel, done: make(chan struct{})}

	notify := func(j Job) {
		tr.mu.Lock()
		tr.latest = j
		tr.mu.Unlock()
		if t.opts.OnUpdate != nil {
			t.opts.OnUpdate(j)
		}
	}

	go func() {
		defer close(tr.done)
		defer cancel()

		res, err := t.run(ctx, sub, notify)

		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.result, tr.err = res, err
		if res != nil {
			tr.latest = res.Job
		}
	}()

	return tr
}

// Snapshot returns the most recent job view. It is the zero Job until the
// submission has been accepted.
func (tr *Tracking) Snapshot() Job {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.latest
}

// Done is closed once the driver has finished.
func (tr *Tracking) Done() <-chan struct{} {
	return tr.done
}

// Wait blocks until the driver finishes and returns its outcome.
func (tr *Tracking) Wait() (*Result, error) {
	<-tr.done
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.result, tr.err
}

// Cancel stops the driver at its next wait or request.
func (tr *Tracking) Cancel() {
	tr.cancel()
}
