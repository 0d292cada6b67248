package dbpool

import (
	"context"
	"runtime"
	"sync/atomic"
)

// Handle is the borrow token for one isolated database. It exposes the
// database's restricted connection pool and returns the database to its
// DatabasePool on Release. At most one live handle exists per database.
//
// Go has no destructors, so the return mechanism is an explicit Release
// call; defer it right after Pull so the database is returned on every
// path, including panics. A finalizer guard reports handles that were
// garbage collected without ever being released.
type Handle[P any] struct {
	pool     *DatabasePool[P]
	record   *databaseRecord[P]
	released atomic.Bool
}

func (p *DatabasePool[P]) newHandle(rec *databaseRecord[P]) *Handle[P] {
	rec.clean = false

	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()

	h := &Handle[P]{pool: p, record: rec}
	runtime.SetFinalizer(h, func(h *Handle[P]) {
		h.pool.logger.Error().Str("database", h.record.name).
			Msg("handle was never released; database not returned to the pool")
	})
	return h
}

// Pool returns the restricted connection pool bound to the borrowed
// database. Connections checked out from it must all be returned before the
// handle is released.
func (h *Handle[P]) Pool() P {
	return h.record.pool
}

// DatabaseName returns the name of the borrowed database.
func (h *Handle[P]) DatabaseName() string {
	return h.record.name
}

// Release cleans the borrowed database and returns it to the pool. Cleanup
// failures are not surfaced here; they are logged and the database is
// discarded instead of recycled (it is still dropped at pool teardown).
// Release is idempotent: calls after the first do nothing.
func (h *Handle[P]) Release(ctx context.Context) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.pool.releaseRecord(ctx, h.record)
}
