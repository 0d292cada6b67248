package dbpool

import "context"

// Backend is the capability set a DBMS adapter provides to the DatabasePool.
// The type parameter P is the adapter's restricted connection pool type
// (for example *pgxpool.Pool for the postgres adapter, *sql.DB for mysql).
//
// The core never branches on the DBMS kind; everything DBMS-specific lives
// behind this interface. Implementations must be safe for concurrent use:
// the pool calls CreateDatabase, CleanDatabase, and DropDatabase from
// multiple goroutines.
type Backend[P any] interface {
	// Init performs one-time setup against the admin database, such as
	// provisioning the restricted role. It is called once during
	// DatabasePool construction; failure is fatal.
	Init(ctx context.Context) error

	// CreateDatabase produces a fresh, empty database named after id and
	// accessible to the restricted role, returning the database name. It
	// must succeed when retried with the same id after an earlier failure
	// (drop-if-exists-then-create or equivalent).
	CreateDatabase(ctx context.Context, id DatabaseID) (string, error)

	// CreateEntities runs the user-supplied entity creation procedure
	// against the named database and makes the resulting objects available
	// to the restricted role. Which role executes the procedure is an
	// adapter choice; each adapter documents it and sticks to it.
	CreateEntities(ctx context.Context, name string) error

	// BuildRestrictedPool constructs a connection pool bound to the named
	// database as the restricted role. Pool sizing is controlled by the
	// user-supplied factory; the adapter only injects credentials and the
	// database name.
	BuildRestrictedPool(ctx context.Context, name string) (P, error)

	// CleanDatabase restores the named database to the state produced by
	// CreateEntities without dropping it: user tables emptied and
	// auto-increment counters reset. The table set is discovered from the
	// catalog at clean time.
	CleanDatabase(ctx context.Context, name string) error

	// DropDatabase unconditionally drops the named database, terminating
	// lingering connections where the DBMS requires it.
	DropDatabase(ctx context.Context, name string) error

	// CloseRestrictedPool closes a pool returned by BuildRestrictedPool.
	// Adapters may report connections still checked out at close time.
	CloseRestrictedPool(ctx context.Context, pool P) error

	// Close releases the backend's privileged resources. The backend is
	// not used again afterwards.
	Close(ctx context.Context) error
}
