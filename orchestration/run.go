package orchestration

import (
	"sync"

	"github.com/richinex/tsgpipe/stream"
)

// Run is one asynchronous pipeline execution. Callers must drain Events
// until it is closed; the last event is done or cancelled.
type Run struct {
	ID        string
	SessionID string
	Events    <-chan stream.Event

	events chan stream.Event
	cancel *stream.Canceller
	done   chan struct{}

	mu        sync.Mutex
	settled   bool
	fatalSent bool
	result    PipelineResult
	err       error
}

func newRun(id, sessionID string, buffer int) *Run {
	ch := make(chan stream.Event, buffer)
	return &Run{
		ID:        id,
		SessionID: sessionID,
		Events:    ch,
		events:    ch,
		cancel:    stream.NewCanceller(),
		done:      make(chan struct{}),
	}
}

// Result blocks until the run finishes.
func (r *Run) Result() (PipelineResult, error) {
	<-r.done
	return r.result, r.err
}

// Done is closed once the run has finished and Events is closed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel requests cooperative cancellation. It returns false once the run
// has committed to its outcome or was already cancelled.
func (r *Run) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	return r.cancel.Cancel()
}

// settle commits the run to a non-cancelled outcome. It fails if
// cancellation won the race.
func (r *Run) settle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel.Cancelled() {
		return false
	}
	r.settled = true
	return true
}

// emit forwards ev unless the run has been cancelled. Only the run
// goroutine calls it.
func (r *Run) emit(ev stream.Event) {
	if r.cancel.Cancelled() {
		return
	}
	r.send(ev)
}

func (r *Run) send(ev stream.Event) {
	ev.RunID = r.ID
	if ev.Type == stream.EventError {
		if fatal, _ := ev.Data["fatal"].(bool); fatal {
			r.fatalSent = true
		}
	}
	r.events <- ev
}

func (r *Run) finish(res PipelineResult, err error) {
	r.result = res
	r.err = err
	close(r.events)
	close(r.done)
}
