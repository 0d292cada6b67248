// Package dbpool provides reusable, isolated databases for parallel
// database-touching tests.
//
// dbpool maintains a process-wide pool of throwaway databases, each paired
// with a connection pool bound to a low-privilege role. A test borrows one
// database via [DatabasePool.Pull], works through the handle's restricted
// connection pool, and releases the handle when done. Released databases are
// cleaned (user tables truncated, counters reset) and recycled, so the cost
// of creating databases is paid at most once per unit of test parallelism.
// All databases ever created are dropped when the pool is closed.
//
// # Key properties
//
//   - Complete isolation: concurrent borrowers always see distinct databases
//   - Lazy growth: databases are created only when the pool runs dry, so the
//     pool size converges on the test harness's parallelism
//   - LIFO reuse: the most recently returned database, whose connections are
//     still warm, is handed out first
//   - Restricted access: borrowers connect as a DML-only role and cannot run
//     DDL or manage roles
//   - Pull never waits for another borrower; a miss creates a new database
//
// # Basic usage
//
// The typical pattern sets up one pool in TestMain and shares it across test
// functions:
//
//	var pool *dbpool.DatabasePool[*pgxpool.Pool]
//
//	func TestMain(m *testing.M) {
//		ctx := context.Background()
//
//		config, err := dbpool.PostgresConfigFromEnv()
//		if err != nil {
//			panic(err)
//		}
//
//		backend, err := postgres.NewBackend(ctx, postgres.Config{
//			Config:               config,
//			CreatePrivilegedPool: postgres.DefaultPoolFactory,
//			CreateRestrictedPool: postgres.DefaultPoolFactory,
//			CreateEntities: func(ctx context.Context, conn *pgx.Conn) error {
//				_, err := conn.Exec(ctx, `CREATE TABLE book (id SERIAL PRIMARY KEY, title TEXT NOT NULL)`)
//				return err
//			},
//		})
//		if err != nil {
//			panic(err)
//		}
//
//		pool, err = dbpool.NewDatabasePool[*pgxpool.Pool](ctx, backend)
//		if err != nil {
//			panic(err)
//		}
//
//		code := m.Run()
//
//		pool.Close(ctx)
//		os.Exit(code)
//	}
//
//	func TestBooks(t *testing.T) {
//		ctx := context.Background()
//
//		handle, err := pool.Pull(ctx)
//		if err != nil {
//			t.Fatal(err)
//		}
//		defer handle.Release(ctx)
//
//		_, err = handle.Pool().Exec(ctx, `INSERT INTO book (title) VALUES ($1)`, "Title")
//		if err != nil {
//			t.Fatal(err)
//		}
//	}
//
// Deferring Release guarantees the database is cleaned and returned even when
// the test panics. Release all connections checked out from the handle's pool
// before releasing the handle itself.
//
// # Backends
//
// The core is DBMS-agnostic: it drives a [Backend], the capability set a
// DBMS adapter implements. Two adapters ship with this module: postgres
// (pgx/v5) and mysql (database/sql with go-sql-driver). The type parameter of
// [DatabasePool] is the adapter's restricted pool type, so tests get a fully
// typed connection pool back from Pull.
//
// # Orphaned databases
//
// Databases are named "db_pool_" followed by 32 hex characters. If a test run
// is killed before teardown, leftover databases are recognizable by prefix
// and can be removed with the db-pool-sweep command or the adapters' sweep
// functions.
package dbpool
