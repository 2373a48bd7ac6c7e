package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCancelled is returned to whoever awaits an operation that was cancelled.
	ErrCancelled = errors.New("operation cancelled")

	// ErrTimeout is returned when the operation deadline elapses first.
	ErrTimeout = errors.New("operation timed out")
)

// Token is the cancellation handle of one in-flight operation. It carries a
// cancel flag and a deadline and is observed cooperatively.
// A nil *Token is never cancelled.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewToken creates a token derived from parent. Cancelling parent cancels the token.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Start arms the deadline timer. A non-positive timeout means no deadline.
func (t *Token) Start(timeout time.Duration) {
	if t == nil || timeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(timeout, func() { t.cancel(ErrTimeout) })
}

// Cancel requests cancellation. Observers fail with ErrCancelled unless the
// deadline already fired.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.cancel(ErrCancelled)
}

// Finish disarms the deadline and releases the token's resources. Observers
// that check after Finish see ErrCancelled.
func (t *Token) Finish() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.cancel(ErrCancelled)
}

// IsCancelled reports whether the token was cancelled or timed out.
func (t *Token) IsCancelled() bool {
	return t.Err() != nil
}

// Err returns nil, ErrCancelled or ErrTimeout.
func (t *Token) Err() error {
	if t == nil || t.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(t.ctx)
	switch {
	case errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrCancelled
	}
}

// Done is closed once the token is cancelled or times out.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ctx.Done()
}

// Context returns a context cancelled together with the token, for passing to I/O.
func (t *Token) Context() context.Context {
	if t == nil {
		return context.Background()
	}
	return t.ctx
}
