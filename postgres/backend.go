// Package postgres implements the dbpool backend for PostgreSQL using
// pgx/v5. Restricted pools are *pgxpool.Pool instances built by a
// user-supplied factory.
//
// Entity creation runs as the privileged role connected to the database
// being prepared; afterwards the restricted role is granted DML on
// everything the callback created. Cleaning truncates base tables with
// RESTART IDENTITY CASCADE and restarts free-standing sequences; views,
// routines, and triggers built by the callback survive cleaning. The
// restricted role db_pool_restricted is provisioned by Init with a random
// password drawn when the backend is constructed, so it is never a
// deployment prerequisite.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpool "github.com/yasamoka/db-pool"
	"github.com/yasamoka/db-pool/internal/secret"
	"github.com/yasamoka/db-pool/internal/statement"
)

// RestrictedRole is the fixed login role restricted pools connect as. It has
// CONNECT on each created database and DML on its public schema, and cannot
// run DDL or manage roles.
const RestrictedRole = "db_pool_restricted"

// PoolFactory builds a pgxpool.Pool from a connection string. The factory
// controls pool sizing and any other pgxpool configuration; the backend only
// decides the credentials and database name baked into connString.
type PoolFactory func(ctx context.Context, connString string) (*pgxpool.Pool, error)

// DefaultPoolFactory builds a pool with pgxpool's defaults.
func DefaultPoolFactory(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, connString)
}

// Config configures a Backend.
type Config struct {
	// Config carries the privileged credentials and server address.
	Config dbpool.PrivilegedPostgresConfig

	// CreatePrivilegedPool builds the pool used for administrative
	// statements: role provisioning and CREATE/DROP DATABASE. Its size
	// bounds only those; entity creation and cleaning open one-off
	// connections to the target database outside this pool.
	CreatePrivilegedPool PoolFactory

	// CreateRestrictedPool builds the pool handed to each borrower.
	CreateRestrictedPool PoolFactory

	// CreateEntities prepares the schema of a freshly created database. It
	// runs as the privileged role connected to that database, so it may use
	// DDL freely.
	CreateEntities func(ctx context.Context, conn *pgx.Conn) error
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.CreatePrivilegedPool == nil {
		return errors.New("CreatePrivilegedPool is required")
	}
	if c.CreateRestrictedPool == nil {
		return errors.New("CreateRestrictedPool is required")
	}
	if c.CreateEntities == nil {
		return errors.New("CreateEntities is required")
	}
	return nil
}

// Backend implements dbpool.Backend[*pgxpool.Pool].
type Backend struct {
	config             Config
	privileged         *pgxpool.Pool
	restrictedPassword string
}

// NewBackend validates the configuration and builds the privileged pool.
// The server is first reached during Init, so construction succeeds even
// while the DBMS is still coming up.
func NewBackend(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, &dbpool.SetupError{Step: dbpool.StepConfig, Err: err}
	}

	privileged, err := config.CreatePrivilegedPool(ctx, config.Config.DefaultConnectionURL())
	if err != nil {
		return nil, &dbpool.SetupError{Step: dbpool.StepConnect, Err: err}
	}

	password, err := secret.GeneratePassword()
	if err != nil {
		privileged.Close()
		return nil, fmt.Errorf("generate restricted password: %w", err)
	}

	return &Backend{
		config:             config,
		privileged:         privileged,
		restrictedPassword: password,
	}, nil
}

// Init provisions the restricted role: created when missing, re-keyed to
// this process's password when it already exists from an earlier run.
func (b *Backend) Init(ctx context.Context) error {
	conn, err := b.privileged.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire privileged connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	if err := conn.QueryRow(ctx, statement.PostgresRoleExists, RestrictedRole).Scan(&exists); err != nil {
		return fmt.Errorf("check restricted role: %w", err)
	}

	stmt := statement.PostgresCreateRole(RestrictedRole, b.restrictedPassword)
	if exists {
		stmt = statement.PostgresAlterRolePassword(RestrictedRole, b.restrictedPassword)
	}
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("provision restricted role %s: %w", RestrictedRole, err)
	}
	return nil
}

// CreateDatabase creates the database named after id and grants the
// restricted role access to it. A leftover database with the same name from
// an earlier failed attempt is dropped first, so retrying the same id works.
func (b *Backend) CreateDatabase(ctx context.Context, id dbpool.DatabaseID) (string, error) {
	name := id.DatabaseName()

	conn, err := b.privileged.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire privileged connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, statement.PostgresDropDatabase(name)); err != nil {
		return "", fmt.Errorf("drop leftover database %s: %w", name, err)
	}
	if _, err := conn.Exec(ctx, statement.PostgresCreateDatabase(name)); err != nil {
		return "", fmt.Errorf("create database %s: %w", name, err)
	}
	if _, err := conn.Exec(ctx, statement.PostgresGrantConnect(name, RestrictedRole)); err != nil {
		return "", fmt.Errorf("grant connect on %s: %w", name, err)
	}
	return name, nil
}

// CreateEntities runs the user callback against the named database as the
// privileged role, then grants the restricted role DML on everything the
// callback created.
func (b *Backend) CreateEntities(ctx context.Context, name string) error {
	conn, err := b.connect(ctx, name)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", name, err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if err := b.config.CreateEntities(ctx, conn); err != nil {
		return fmt.Errorf("create entities in %s: %w", name, err)
	}

	if _, err := conn.Exec(ctx, statement.PostgresRevokePublicCreate); err != nil {
		return fmt.Errorf("revoke public create in %s: %w", name, err)
	}
	if _, err := conn.Exec(ctx, statement.PostgresGrantTablePrivileges(RestrictedRole)); err != nil {
		return fmt.Errorf("grant table privileges in %s: %w", name, err)
	}
	if _, err := conn.Exec(ctx, statement.PostgresGrantSequencePrivileges(RestrictedRole)); err != nil {
		return fmt.Errorf("grant sequence privileges in %s: %w", name, err)
	}
	return nil
}

// BuildRestrictedPool builds a pool bound to the named database as the
// restricted role, using the user-supplied factory.
func (b *Backend) BuildRestrictedPool(ctx context.Context, name string) (*pgxpool.Pool, error) {
	connString := b.config.Config.RestrictedDatabaseURL(RestrictedRole, b.restrictedPassword, name)
	pool, err := b.config.CreateRestrictedPool(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("build restricted pool for %s: %w", name, err)
	}
	return pool, nil
}

// CleanDatabase truncates every user table of the named database with
// RESTART IDENTITY CASCADE and restarts user sequences, discovering both
// sets from the catalog at clean time.
func (b *Backend) CleanDatabase(ctx context.Context, name string) error {
	conn, err := b.connect(ctx, name)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", name, err)
	}
	defer func() { _ = conn.Close(ctx) }()

	tables, err := queryIdentifiers(ctx, conn, statement.PostgresTableNames)
	if err != nil {
		return fmt.Errorf("list tables of %s: %w", name, err)
	}
	if len(tables) > 0 {
		if _, err := conn.Exec(ctx, statement.PostgresTruncateTables(tables)); err != nil {
			return fmt.Errorf("truncate tables of %s: %w", name, err)
		}
	}

	// TRUNCATE RESTART IDENTITY only reaches sequences owned by the
	// truncated tables; free-standing ones are restarted here.
	sequences, err := queryIdentifiers(ctx, conn, statement.PostgresSequenceNames)
	if err != nil {
		return fmt.Errorf("list sequences of %s: %w", name, err)
	}
	for _, sequence := range sequences {
		if _, err := conn.Exec(ctx, statement.PostgresRestartSequence(sequence)); err != nil {
			return fmt.Errorf("restart sequence %s in %s: %w", sequence.Sanitize(), name, err)
		}
	}
	return nil
}

// DropDatabase drops the named database, forcing lingering connections off.
func (b *Backend) DropDatabase(ctx context.Context, name string) error {
	conn, err := b.privileged.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire privileged connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, statement.PostgresDropDatabase(name)); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

// CloseRestrictedPool closes the pool. It reports an error when connections
// were still checked out at close time: borrowers must return every
// connection before releasing their handle.
func (b *Backend) CloseRestrictedPool(_ context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return nil
	}
	acquired := pool.Stat().AcquiredConns()
	pool.Close()
	if acquired > 0 {
		return fmt.Errorf("restricted pool closed with %d connections still checked out", acquired)
	}
	return nil
}

// Close closes the privileged pool.
func (b *Backend) Close(context.Context) error {
	b.privileged.Close()
	return nil
}

// connect opens a one-off privileged connection to the named database by
// rebinding the privileged pool's connection config.
func (b *Backend) connect(ctx context.Context, name string) (*pgx.Conn, error) {
	config := b.privileged.Config().ConnConfig.Copy()
	config.Database = name
	return pgx.ConnectConfig(ctx, config)
}

func queryIdentifiers(ctx context.Context, conn *pgx.Conn, query string) ([]pgx.Identifier, error) {
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identifiers []pgx.Identifier
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, err
		}
		identifiers = append(identifiers, pgx.Identifier{schema, name})
	}
	return identifiers, rows.Err()
}
