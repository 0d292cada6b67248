// Package statement builds the SQL text used by the backend adapters. The
// core engine never sees SQL; everything DBMS-specific is concentrated here
// and in the adapters.
package statement

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Catalog queries for the PostgreSQL adapter.
const (
	// PostgresDatabaseNames lists databases carrying the pool prefix.
	PostgresDatabaseNames = `SELECT datname FROM pg_catalog.pg_database WHERE datname LIKE 'db_pool_%'`

	// PostgresTableNames lists the user tables of the current database.
	PostgresTableNames = `SELECT schemaname, tablename FROM pg_catalog.pg_tables WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`

	// PostgresSequenceNames lists the user sequences of the current
	// database, including ones not attached to any table.
	PostgresSequenceNames = `SELECT schemaname, sequencename FROM pg_catalog.pg_sequences WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`

	// PostgresRoleExists checks for a role by name; takes one parameter.
	PostgresRoleExists = `SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_roles WHERE rolname = $1)`

	// PostgresRevokePublicCreate closes the pre-PostgreSQL-15 loophole of a
	// world-writable public schema, so the restricted role cannot create
	// tables on any server version.
	PostgresRevokePublicCreate = `REVOKE CREATE ON SCHEMA public FROM PUBLIC`
)

func PostgresCreateDatabase(name string) string {
	return fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())
}

// PostgresDropDatabase forces lingering connections off before the drop.
func PostgresDropDatabase(name string) string {
	return fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{name}.Sanitize())
}

func PostgresCreateRole(role, password string) string {
	return fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s",
		pgx.Identifier{role}.Sanitize(), pgLiteral(password))
}

func PostgresAlterRolePassword(role, password string) string {
	return fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s",
		pgx.Identifier{role}.Sanitize(), pgLiteral(password))
}

func PostgresGrantConnect(dbName, role string) string {
	return fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s",
		pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{role}.Sanitize())
}

// PostgresGrantTablePrivileges grants DML, and nothing more, on the public
// schema's tables.
func PostgresGrantTablePrivileges(role string) string {
	return fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s",
		pgx.Identifier{role}.Sanitize())
}

func PostgresGrantSequencePrivileges(role string) string {
	return fmt.Sprintf("GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s",
		pgx.Identifier{role}.Sanitize())
}

// PostgresTruncateTables empties the given schema-qualified tables in one
// statement, restarting identity columns and cascading through foreign keys.
func PostgresTruncateTables(tables []pgx.Identifier) string {
	sanitized := make([]string, len(tables))
	for i, table := range tables {
		sanitized[i] = table.Sanitize()
	}
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(sanitized, ", "))
}

func PostgresRestartSequence(sequence pgx.Identifier) string {
	return fmt.Sprintf("ALTER SEQUENCE %s RESTART", sequence.Sanitize())
}

// pgLiteral quotes a string literal for embedding in DDL that does not
// accept bind parameters.
func pgLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
