package dbpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yasamoka/db-pool/internal/stash"
)

// teardownConcurrency bounds the number of DROP DATABASE statements running
// at once during Close.
const teardownConcurrency = 4

// databaseRecord is the unit of checkout: one minted database together with
// its restricted connection pool.
type databaseRecord[P any] struct {
	id   DatabaseID
	name string
	pool P

	// clean is true while the record sits in the stash; the return path
	// only re-stashes records it successfully cleaned.
	clean bool
}

// DatabasePool orchestrates a pool of reusable isolated databases. It owns a
// Backend, a registry of every database it ever created, and a stash of idle
// records. Pools are created with NewDatabasePool, grow lazily as borrowers
// outnumber idle records, and drop all their databases on Close.
//
// All methods are safe for concurrent use.
type DatabasePool[P any] struct {
	backend Backend[P]
	logger  zerolog.Logger
	stash   *stash.Stash[*databaseRecord[P]]

	mu          sync.Mutex
	registry    map[DatabaseID]string
	outstanding int
	closed      bool
}

// Option configures a DatabasePool.
type Option[P any] func(*DatabasePool[P])

// WithLogger sets the sink for background errors: cleanup failures on
// release, drop failures during teardown, and leaked handles. The default
// discards everything.
func WithLogger[P any](logger zerolog.Logger) Option[P] {
	return func(p *DatabasePool[P]) {
		p.logger = logger
	}
}

// NewDatabasePool runs the backend's one-time initialization and returns an
// empty pool. No databases are created up front; the pool grows on demand
// during the run.
func NewDatabasePool[P any](ctx context.Context, backend Backend[P], opts ...Option[P]) (*DatabasePool[P], error) {
	if backend == nil {
		return nil, fmt.Errorf("dbpool: backend is required")
	}

	p := &DatabasePool[P]{
		backend:  backend,
		logger:   zerolog.Nop(),
		stash:    stash.New[*databaseRecord[P]](),
		registry: make(map[DatabaseID]string),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := backend.Init(ctx); err != nil {
		return nil, fmt.Errorf("dbpool: backend init: %w", err)
	}
	return p, nil
}

// Pull borrows one clean, isolated database from the pool. It reuses the
// most recently returned idle database when one exists and otherwise creates
// a new one; it never waits for another handle to be released. Two
// concurrent pulls that both miss create two databases, so the pool's size
// converges on the caller's parallelism.
//
// The returned handle must be released exactly once, typically with
//
//	handle, err := pool.Pull(ctx)
//	if err != nil { ... }
//	defer handle.Release(ctx)
func (p *DatabasePool[P]) Pull(ctx context.Context) (*Handle[P], error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	if rec, ok := p.stash.TryPop(); ok {
		return p.newHandle(rec), nil
	}

	rec, err := p.createRecord(ctx)
	if err != nil {
		return nil, err
	}
	return p.newHandle(rec), nil
}

// createRecord is the creation-on-miss path: mint an ID, create the
// database, run entity creation, build the restricted pool, and register
// the database for teardown. Any failure after the database may exist
// triggers a best-effort drop of the partial database before the original
// error propagates; if the drop fails too, the name prefix still lets an
// external sweep find it.
func (p *DatabasePool[P]) createRecord(ctx context.Context) (*databaseRecord[P], error) {
	id := NewDatabaseID()

	name, err := p.backend.CreateDatabase(ctx, id)
	if err != nil {
		p.dropPartial(ctx, id.DatabaseName())
		return nil, &SetupError{Step: StepCreateDatabase, Err: err}
	}

	if err := p.backend.CreateEntities(ctx, name); err != nil {
		p.dropPartial(ctx, name)
		return nil, &SetupError{Step: StepCreateEntities, Err: err}
	}

	pool, err := p.backend.BuildRestrictedPool(ctx, name)
	if err != nil {
		p.dropPartial(ctx, name)
		return nil, &SetupError{Step: StepBuildRestrictedPool, Err: err}
	}

	p.mu.Lock()
	if p.closed {
		// Teardown won the race; this database is not registered, so it
		// must be dismantled here.
		p.mu.Unlock()
		if err := p.backend.CloseRestrictedPool(ctx, pool); err != nil {
			p.logger.Warn().Err(err).Str("database", name).
				Msg("failed to close restricted pool of unregistered database")
		}
		p.dropPartial(ctx, name)
		return nil, ErrPoolClosed
	}
	p.registry[id] = name
	p.mu.Unlock()

	return &databaseRecord[P]{id: id, name: name, pool: pool, clean: true}, nil
}

func (p *DatabasePool[P]) dropPartial(ctx context.Context, name string) {
	if err := p.backend.DropDatabase(ctx, name); err != nil {
		p.logger.Warn().Err(err).Str("database", name).
			Msg("failed to drop partially created database")
	}
}

// releaseRecord is the return path shared by every handle release. The
// database is cleaned between users; on success the record goes back onto
// the stash, on failure it is discarded (its registry entry remains, so the
// database is still dropped at teardown). Cleanup errors are never surfaced
// to the borrower, only logged.
func (p *DatabasePool[P]) releaseRecord(ctx context.Context, rec *databaseRecord[P]) {
	p.mu.Lock()
	p.outstanding--
	closed := p.closed
	p.mu.Unlock()

	if closed {
		// Teardown already dropped (or is dropping) this database.
		if err := p.backend.CloseRestrictedPool(ctx, rec.pool); err != nil {
			p.logger.Warn().Err(err).Str("database", rec.name).
				Msg("failed to close restricted pool after teardown")
		}
		return
	}

	if err := p.backend.CleanDatabase(ctx, rec.name); err != nil {
		p.logger.Error().Err(err).Str("database", rec.name).
			Msg("failed to clean database; discarding it from the pool")
		if err := p.backend.CloseRestrictedPool(ctx, rec.pool); err != nil {
			p.logger.Warn().Err(err).Str("database", rec.name).
				Msg("failed to close restricted pool of discarded database")
		}
		return
	}
	rec.clean = true

	// Pushing under the pool mutex keeps the record from slipping into the
	// stash behind Close's drain.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if err := p.backend.CloseRestrictedPool(ctx, rec.pool); err != nil {
			p.logger.Warn().Err(err).Str("database", rec.name).
				Msg("failed to close restricted pool after teardown")
		}
		return
	}
	p.stash.Push(rec)
	p.mu.Unlock()
}

// Close tears the pool down: it drains the stash, closes every restricted
// pool, drops every database the pool ever created, and closes the backend.
// Teardown is best-effort; drop failures are logged and the remaining
// databases are still visited. Close is idempotent, and pulls issued after
// it fail with ErrPoolClosed.
//
// Handles still outstanding at Close keep their connection pools until they
// are released, but their databases are dropped out from under them.
func (p *DatabasePool[P]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.outstanding > 0 {
		p.logger.Warn().Int("handles", p.outstanding).
			Msg("closing database pool with handles still outstanding")
	}
	registry := make(map[DatabaseID]string, len(p.registry))
	for id, name := range p.registry {
		registry[id] = name
	}
	// Draining before the mutex drops means no release can re-stash a
	// record behind the drain.
	idle := p.stash.Drain()
	p.mu.Unlock()

	for _, rec := range idle {
		if err := p.backend.CloseRestrictedPool(ctx, rec.pool); err != nil {
			p.logger.Warn().Err(err).Str("database", rec.name).
				Msg("failed to close restricted pool during teardown")
		}
	}

	var g errgroup.Group
	g.SetLimit(teardownConcurrency)
	for _, name := range registry {
		g.Go(func() error {
			if err := p.backend.DropDatabase(ctx, name); err != nil {
				p.logger.Error().Err(err).Str("database", name).
					Msg("failed to drop database during teardown")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := p.backend.Close(ctx); err != nil {
		return fmt.Errorf("dbpool: close backend: %w", err)
	}
	return nil
}
