package lock

import (
	"context"
	"errors"
	"time"

	"tourism-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when the lock could not be acquired within the
// caller's wait timeout. Callers must abort the protected operation;
// proceeding without the lock is unsafe.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Store is the shared key-value backing store for locks. SetNX must be a
// conditional set-if-absent with expiry; CompareAndDelete must atomically
// delete the key only when it still holds the given token.
type Store interface {
	SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// Handle is returned by a successful acquire. Only the holder of the token
// can release the lock, even after lease expiry reassigns the key.
type Handle struct {
	ResourceKey string
	Token       string
	ExpiresAt   time.Time
}

// Lock is a named, leased mutual-exclusion lock shared across service
// instances. The lease guarantees forward progress if a holder crashes
// between acquire and release.
type Lock struct {
	store         Store
	lease         time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// New creates a distributed lock over the given backing store. The lease
// must exceed the expected critical-section duration with margin.
func New(store Store, lease, retryInterval time.Duration) *Lock {
	return &Lock{
		store:         store,
		lease:         lease,
		retryInterval: retryInterval,
		logger:        util.GetLogger(),
	}
}

// Acquire attempts to take the lock on resourceKey, retrying on a fixed
// interval until waitTimeout elapses. It returns ErrLockTimeout rather than
// blocking indefinitely; a backing-store failure also fails the acquisition
// so callers never proceed without the guarantee.
func (l *Lock) Acquire(ctx context.Context, resourceKey string, waitTimeout time.Duration) (*Handle, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(waitTimeout)

	start := time.Now()
	for {
		ok, err := l.store.SetNX(ctx, resourceKey, token, l.lease)
		if err != nil {
			util.LockAcquireTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if ok {
			util.LockAcquireTotal.WithLabelValues("acquired").Inc()
			util.LockWaitDuration.Observe(time.Since(start).Seconds())
			return &Handle{
				ResourceKey: resourceKey,
				Token:       token,
				ExpiresAt:   time.Now().Add(l.lease),
			}, nil
		}

		if time.Now().After(deadline) {
			util.LockAcquireTotal.WithLabelValues("timeout").Inc()
			l.logger.Warn("Lock acquisition timed out",
				zap.String("resource", resourceKey),
				zap.Duration("wait_timeout", waitTimeout))
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			util.LockAcquireTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

// Release removes the lock using the handle's token. It returns false when
// the stored token no longer matches, which happens when the lease expired
// and another holder took the lock.
func (l *Lock) Release(ctx context.Context, handle *Handle) bool {
	if handle == nil {
		return false
	}

	released, err := l.store.CompareAndDelete(ctx, handle.ResourceKey, handle.Token)
	if err != nil {
		l.logger.Error("Failed to release lock",
			zap.String("resource", handle.ResourceKey),
			zap.Error(err))
		return false
	}
	if !released {
		l.logger.Warn("Lock not released, token mismatch",
			zap.String("resource", handle.ResourceKey))
	}
	return released
}

// WithLock runs fn while holding the lock on resourceKey, releasing it
// afterwards regardless of the outcome.
func (l *Lock) WithLock(ctx context.Context, resourceKey string, waitTimeout time.Duration, fn func(ctx context.Context) error) error {
	handle, err := l.Acquire(ctx, resourceKey, waitTimeout)
	if err != nil {
		return err
	}
	defer l.Release(ctx, handle)

	return fn(ctx)
}
