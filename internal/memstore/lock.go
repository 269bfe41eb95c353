package memstore

import "context"

// rowLock is an exclusive row lock that gives up when ctx is done, the way a
// database lock wait ends at lock_timeout.
type rowLock chan struct{}

func newRowLock() rowLock { return make(rowLock, 1) }

func (l rowLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l rowLock) release() { <-l }
