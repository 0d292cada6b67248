// Package mysql implements the dbpool backend for MySQL and MariaDB using
// database/sql with the go-sql-driver driver. Restricted pools are *sql.DB
// instances built by a user-supplied factory.
//
// Entity creation runs as the privileged user connected to the database
// being prepared; the restricted user holds a database-level DML grant, so
// no per-object grants are needed afterwards. Cleaning truncates base
// tables with foreign key checks disabled for the session, which also
// resets AUTO_INCREMENT counters; views, routines, and triggers built by
// the callback survive cleaning. The restricted user db_pool_restricted is
// provisioned by Init with a random password drawn when the backend is
// constructed, so it is never a deployment prerequisite.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	dbpool "github.com/yasamoka/db-pool"
	"github.com/yasamoka/db-pool/internal/secret"
	"github.com/yasamoka/db-pool/internal/statement"
)

// RestrictedUser is the fixed account restricted pools connect as. It has
// DML on each created database and cannot run DDL or manage users.
const RestrictedUser = "db_pool_restricted"

// PoolFactory builds a *sql.DB from a go-sql-driver DSN. The factory
// controls pool sizing (SetMaxOpenConns and friends); the backend only
// decides the credentials and database name baked into dsn.
type PoolFactory func(dsn string) (*sql.DB, error)

// DefaultPoolFactory opens a *sql.DB with database/sql defaults.
func DefaultPoolFactory(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// Config configures a Backend.
type Config struct {
	// Config carries the privileged credentials and server address.
	Config dbpool.PrivilegedMySQLConfig

	// CreatePrivilegedPool builds the pool used for administrative
	// statements: user provisioning, CREATE/DROP DATABASE, and cleaning.
	// Its size bounds only those; entity creation opens a one-off pool to
	// the target database outside this pool.
	CreatePrivilegedPool PoolFactory

	// CreateRestrictedPool builds the pool handed to each borrower.
	CreateRestrictedPool PoolFactory

	// CreateEntities prepares the schema of a freshly created database. It
	// runs as the privileged user connected to that database, so it may use
	// DDL freely.
	CreateEntities func(ctx context.Context, db *sql.DB) error
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

// Backend implements dbpool.Backend[*sql.DB].
type Backend struct {
	config             Config
	privileged         *sql.DB
	restrictedPassword string
}

// NewBackend validates the configuration and builds the privileged pool.
// database/sql connects lazily, so the server is first reached during Init.
func NewBackend(config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, &dbpool.SetupError{Step: dbpool.StepConfig, Err: err}
	}

	privileged, err := config.CreatePrivilegedPool(config.Config.DefaultDSN())
	if err != nil {
		return nil, &dbpool.SetupError{Step: dbpool.StepConnect, Err: err}
	}

	password, err := secret.GeneratePassword()
	if err != nil {
		_ = privileged.Close()
		return nil, fmt.Errorf("generate restricted password: %w", err)
	}

	return &Backend{
		config:             config,
		privileged:         privileged,
		restrictedPassword: password,
	}, nil
}

// Init verifies the server is reachable and provisions the restricted user:
// created when missing, re-keyed to this process's password when it already
// exists from an earlier run.
func (b *Backend) Init(ctx context.Context) error {
	if err := b.privileged.PingContext(ctx); err != nil {
		return &dbpool.SetupError{Step: dbpool.StepConnect, Err: err}
	}

	var exists bool
	if err := b.privileged.QueryRowContext(ctx, statement.MySQLUserExists, RestrictedUser).Scan(&exists); err != nil {
		return fmt.Errorf("check restricted user: %w", err)
	}

	stmt := statement.MySQLCreateUser(RestrictedUser, b.restrictedPassword)
	if exists {
		stmt = statement.MySQLAlterUserPassword(RestrictedUser, b.restrictedPassword)
	}
	if _, err := b.privileged.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("provision restricted user %s: %w", RestrictedUser, err)
	}
	return nil
}

// CreateDatabase creates the database named after id and grants the
// restricted user DML on it. A leftover database with the same name from an
// earlier failed attempt is dropped first, so retrying the same id works.
func (b *Backend) CreateDatabase(ctx context.Context, id dbpool.DatabaseID) (string, error) {
	name := id.DatabaseName()

	if _, err := b.privileged.ExecContext(ctx, statement.MySQLDropDatabase(name)); err != nil {
		return "", fmt.Errorf("drop leftover database %s: %w", name, err)
	}
	if _, err := b.privileged.ExecContext(ctx, statement.MySQLCreateDatabase(name)); err != nil {
		return "", fmt.Errorf("create database %s: %w", name, err)
	}
	if _, err := b.privileged.ExecContext(ctx, statement.MySQLGrantRestrictedPrivileges(name, RestrictedUser)); err != nil {
		return "", fmt.Errorf("grant privileges on %s: %w", name, err)
	}
	return name, nil
}

// CreateEntities runs the user callback against the named database as the
// privileged user over a one-off connection pool bound to that database.
func (b *Backend) CreateEntities(ctx context.Context, name string) error {
	db, err := sql.Open("mysql", b.config.Config.PrivilegedDSN(name))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = db.Close() }()

	if err := b.config.CreateEntities(ctx, db); err != nil {
		return fmt.Errorf("create entities in %s: %w", name, err)
	}
	return nil
}

// BuildRestrictedPool builds a pool bound to the named database as the
// restricted user, using the user-supplied factory.
func (b *Backend) BuildRestrictedPool(_ context.Context, name string) (*sql.DB, error) {
	dsn := b.config.Config.RestrictedDSN(RestrictedUser, b.restrictedPassword, name)
	db, err := b.config.CreateRestrictedPool(dsn)
	if err != nil {
		return nil, fmt.Errorf("build restricted pool for %s: %w", name, err)
	}
	return db, nil
}

// CleanDatabase truncates every base table of the named database. Foreign
// key checks are disabled for the session running the truncations, so the
// table order does not matter; TRUNCATE resets AUTO_INCREMENT counters. The
// table set is discovered from information_schema at clean time.
func (b *Backend) CleanDatabase(ctx context.Context, name string) error {
	rows, err := b.privileged.QueryContext(ctx, statement.MySQLTableNames, name)
	if err != nil {
		return fmt.Errorf("list tables of %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list tables of %s: %w", name, err)
	}
	if len(tables) == 0 {
		return nil
	}

	// A dedicated connection keeps the FOREIGN_KEY_CHECKS toggle and the
	// truncations in the same session.
	conn, err := b.privileged.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire privileged connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, statement.MySQLDisableForeignKeyChecks); err != nil {
		return fmt.Errorf("disable foreign key checks: %w", err)
	}
	var truncateErr error
	for _, table := range tables {
		if _, err := conn.ExecContext(ctx, statement.MySQLTruncateTable(name, table)); err != nil {
			truncateErr = fmt.Errorf("truncate %s.%s: %w", name, table, err)
			break
		}
	}
	if _, err := conn.ExecContext(ctx, statement.MySQLEnableForeignKeyChecks); err != nil && truncateErr == nil {
		truncateErr = fmt.Errorf("enable foreign key checks: %w", err)
	}
	return truncateErr
}

// DropDatabase drops the named database.
func (b *Backend) DropDatabase(ctx context.Context, name string) error {
	if _, err := b.privileged.ExecContext(ctx, statement.MySQLDropDatabase(name)); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

// CloseRestrictedPool closes the pool. It reports an error when connections
// were still in use at close time: borrowers must return every connection
// before releasing their handle.
func (b *Backend) CloseRestrictedPool(_ context.Context, db *sql.DB) error {
	if db == nil {
		return nil
	}
	inUse := db.Stats().InUse
	err := db.Close()
	if inUse > 0 {
		return fmt.Errorf("restricted pool closed with %d connections still checked out", inUse)
	}
	return err
}

// Close closes the privileged pool.
func (b *Backend) Close(context.Context) error {
	return b.privileged.Close()
}
