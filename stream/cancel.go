package stream

import "sync"

// Canceller is a one-shot cooperative cancellation signal for a run.
// The zero value is not usable; use NewCanceller. A nil *Canceller never fires.
type Canceller struct {
	once sync.Once
	ch   chan struct{}
}

// NewCanceller creates an armed canceller.
func NewCanceller() *Canceller {
	return &Canceller{ch: make(chan struct{})}
}

// Cancel fires the signal. It returns true only for the call that fired it.
func (c *Canceller) Cancel() bool {
	if c == nil {
		return false
	}
	fired := false
	c.once.Do(func() {
		close(c.ch)
		fired = true
	})
	return fired
}

// Done returns a channel closed once Cancel has been called.
func (c *Canceller) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.ch
}

// Cancelled reports whether Cancel has been called.
func (c *Canceller) Cancelled() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
