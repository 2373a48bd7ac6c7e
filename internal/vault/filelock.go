package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// DefaultLockTimeout bounds how long a state save waits for another process.
	DefaultLockTimeout = 5 * time.Second

	lockSuffix = ".lock"
)

var (
	// ErrLockTimeout indicates the lock acquisition timed out
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrLockHeld indicates the lock is held by another process
	ErrLockHeld = errors.New("lock is held by another process")
)

// StateLock serializes state file writes across processes sharing a state
// file. It wraps an flock(2) on a sibling ".lock" file, which the kernel
// releases if the holder dies.
type StateLock struct {
	path string
	file *os.File
}

// NewStateLock creates the lock guarding statePath.
func NewStateLock(statePath string) *StateLock {
	return &StateLock{path: statePath + lockSuffix}
}

// Path returns the lock file path.
func (l *StateLock) Path() string {
	return l.path
}

// Held reports whether this instance holds the lock.
func (l *StateLock) Held() bool {
	return l.file != nil
}

// TryAcquire takes the lock without waiting. It returns ErrLockHeld when
// another process owns it.
func (l *StateLock) TryAcquire() error {
	if err := l.open(); err != nil {
		return err
	}
	ok, err := l.flock()
	if err != nil {
		l.release()
		return err
	}
	if !ok {
		l.release()
		return ErrLockHeld
	}
	return nil
}

// Acquire waits for the lock until timeout elapses or ctx is done.
func (l *StateLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if err := l.open(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := 5 * time.Millisecond
	for {
		ok, err := l.flock()
		if err != nil {
			l.release()
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			l.release()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrLockTimeout
			}
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 250*time.Millisecond)
		}
	}
}

// Release unlocks. Releasing an unheld lock is a no-op.
func (l *StateLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(err, closeErr)
}

// WithLock runs fn while holding the lock.
func (l *StateLock) WithLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}

// flock attempts a non-blocking exclusive lock. ok is false on contention.
func (l *StateLock) flock() (ok bool, err error) {
	err = syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, syscall.EWOULDBLOCK):
		return false, nil
	default:
		return false, fmt.Errorf("flock failed: %w", err)
	}
}

func (l *StateLock) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	l.file = f
	return nil
}

// release closes the file after a failed acquisition.
func (l *StateLock) release() {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}
