package substrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another handle holds a store's file lock.
var ErrLocked = errors.New("store is locked by another handle")

const lockRetryDelay = 10 * time.Millisecond

// acquireLock takes an exclusive lock on path, waiting up to timeout.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (*flock.Flock, error) {
	lk := flock.New(path)
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := lk.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return lk, nil
}

// releaseLock unlocks and, if remove is set, deletes the lock file.
func releaseLock(lk *flock.Flock, remove bool) error {
	if lk == nil {
		return nil
	}
	if err := lk.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", lk.Path(), err)
	}
	if remove {
		if err := os.Remove(lk.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove lock %s: %w", lk.Path(), err)
		}
	}
	return nil
}
