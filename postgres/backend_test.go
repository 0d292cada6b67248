package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	dbpool "github.com/yasamoka/db-pool"
	"github.com/yasamoka/db-pool/postgres"
)

// insufficientPrivilege is the SQLSTATE raised when the restricted role
// attempts DDL.
const insufficientPrivilege = "42501"

func testConfig(t *testing.T) dbpool.PrivilegedPostgresConfig {
	t.Helper()

	config := dbpool.NewPrivilegedPostgresConfig(getEnvOrDefault("POSTGRES_USERNAME", "postgres"))
	config.Password = getEnvOrDefault("POSTGRES_PASSWORD", "postgres")
	config.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		parsed, err := strconv.ParseUint(port, 10, 16)
		require.NoError(t, err, "invalid POSTGRES_PORT")
		config.Port = uint16(parsed)
	}
	return config
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newTestPool builds a pool whose entity creation produces the book table.
func newTestPool(t *testing.T) *dbpool.DatabasePool[*pgxpool.Pool] {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	backend, err := postgres.NewBackend(ctx, postgres.Config{
		Config:               testConfig(t),
		CreatePrivilegedPool: postgres.DefaultPoolFactory,
		CreateRestrictedPool: postgres.DefaultPoolFactory,
		CreateEntities: func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, `CREATE TABLE book (id SERIAL PRIMARY KEY, title TEXT NOT NULL)`)
			return err
		},
	})
	require.NoError(t, err)

	pool, err := dbpool.NewDatabasePool[*pgxpool.Pool](ctx, backend)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pool.Close(context.Background()))
	})
	return pool
}

func adminPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), testConfig(t).DefaultConnectionURL())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func countPoolDatabases(t *testing.T, admin *pgxpool.Pool) int {
	t.Helper()

	var count int
	err := admin.QueryRow(context.Background(),
		`SELECT count(*) FROM pg_catalog.pg_database WHERE datname LIKE 'db_pool_%'`).Scan(&count)
	require.NoError(t, err)
	return count
}

func insertAndCount(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	if _, err := pool.Exec(ctx, `INSERT INTO book (title) VALUES ($1)`, "Title"); err != nil {
		return 0, err
	}
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM book`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func TestParallelInsertCount(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	var g errgroup.Group
	for range 2 {
		g.Go(func() error {
			handle, err := pool.Pull(ctx)
			if err != nil {
				return err
			}
			defer handle.Release(ctx)

			count, err := insertAndCount(ctx, handle.Pool())
			if err != nil {
				return err
			}
			if count != 1 {
				return fmt.Errorf("expected to see only my own row, got %d", count)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestIsolation(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	first, err := pool.Pull(ctx)
	require.NoError(t, err)
	defer first.Release(ctx)
	second, err := pool.Pull(ctx)
	require.NoError(t, err)
	defer second.Release(ctx)

	require.NotEqual(t, first.DatabaseName(), second.DatabaseName())

	_, err = first.Pool().Exec(ctx, `INSERT INTO book (title) VALUES ('only in first')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, second.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM book`).Scan(&count))
	require.Zero(t, count, "writes must be invisible across handles")
}

func TestSequentialReuse(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	admin := adminPool(t)

	// Push the pool to a size of two.
	first, err := pool.Pull(ctx)
	require.NoError(t, err)
	second, err := pool.Pull(ctx)
	require.NoError(t, err)
	created := countPoolDatabases(t, admin)
	first.Release(ctx)
	second.Release(ctx)

	// Three sequential borrowers all fit in those two databases.
	for range 3 {
		handle, err := pool.Pull(ctx)
		require.NoError(t, err)

		count, err := insertAndCount(ctx, handle.Pool())
		require.NoError(t, err)
		require.Equal(t, 1, count)

		handle.Release(ctx)
	}
	require.Equal(t, created, countPoolDatabases(t, admin), "sequential reuse must not create databases")

	require.NoError(t, pool.Close(ctx))
	require.Equal(t, created-2, countPoolDatabases(t, admin), "teardown must drop the pool's databases")
}

func TestPanicRelease(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	var name string
	func() {
		defer func() { _ = recover() }()

		handle, err := pool.Pull(ctx)
		require.NoError(t, err)
		defer handle.Release(ctx)
		name = handle.DatabaseName()

		for range 5 {
			_, err := handle.Pool().Exec(ctx, `INSERT INTO book (title) VALUES ('doomed')`)
			require.NoError(t, err)
		}
		panic("test blew up after writing")
	}()

	handle, err := pool.Pull(ctx)
	require.NoError(t, err)
	defer handle.Release(ctx)

	require.Equal(t, name, handle.DatabaseName(), "the panicking test's database is reused")
	var count int
	require.NoError(t, handle.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM book`).Scan(&count))
	require.Zero(t, count, "the database must be clean despite the panic")
}

func TestPrivilegeEnforcement(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	handle, err := pool.Pull(ctx)
	require.NoError(t, err)
	defer handle.Release(ctx)

	for _, ddl := range []string{
		`CREATE TABLE extra (id INT)`,
		`DROP TABLE book`,
		`CREATE ROLE intruder`,
	} {
		_, err := handle.Pool().Exec(ctx, ddl)
		require.Error(t, err, "restricted role must not run %q", ddl)

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			require.Equal(t, insufficientPrivilege, pgErr.Code, "unexpected SQLSTATE for %q", ddl)
		}
	}

	// DML still works.
	count, err := insertAndCount(ctx, handle.Pool())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCleanRestartsIdentity(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	for range 3 {
		handle, err := pool.Pull(ctx)
		require.NoError(t, err)

		var id int
		err = handle.Pool().
			QueryRow(ctx, `INSERT INTO book (title) VALUES ('Title') RETURNING id`).Scan(&id)
		require.NoError(t, err)
		require.Equal(t, 1, id, "serial counter must restart on every borrow")

		handle.Release(ctx)
	}
}

func TestSweepOrphans(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	admin := adminPool(t)

	orphan := dbpool.NewDatabaseID().DatabaseName()
	_, err := admin.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s`, pgx.Identifier{orphan}.Sanitize()))
	require.NoError(t, err)

	dropped, err := postgres.SweepOrphans(ctx, admin)
	require.NoError(t, err)
	require.Contains(t, dropped, orphan)
	require.Zero(t, countPoolDatabases(t, admin))
}
