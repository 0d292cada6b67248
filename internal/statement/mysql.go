package statement

import (
	"fmt"
	"strings"
)

// Catalog queries and session statements for the MySQL adapter.
const (
	// MySQLDatabaseNames lists schemas carrying the pool prefix.
	MySQLDatabaseNames = `SELECT schema_name FROM information_schema.schemata WHERE schema_name LIKE 'db_pool_%'`

	// MySQLTableNames lists the base tables of a schema; takes the schema
	// name as its parameter. Views are excluded: truncation only targets
	// base tables, and whatever else entity creation built survives
	// cleaning.
	MySQLTableNames = `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`

	// MySQLUserExists checks for a user by name; takes one parameter.
	MySQLUserExists = `SELECT EXISTS(SELECT 1 FROM mysql.user WHERE user = ?)`

	// Foreign key checks are session-scoped: both statements must run on
	// the same connection as the truncations between them.
	MySQLDisableForeignKeyChecks = "SET FOREIGN_KEY_CHECKS = 0"
	MySQLEnableForeignKeyChecks  = "SET FOREIGN_KEY_CHECKS = 1"
)

// restrictedUserHost is the host part of the restricted account. The pool
// may run anywhere relative to the server, so the account is not pinned.
const restrictedUserHost = "%"

func MySQLCreateDatabase(name string) string {
	return fmt.Sprintf("CREATE DATABASE %s", mysqlIdent(name))
}

func MySQLDropDatabase(name string) string {
	return fmt.Sprintf("DROP DATABASE IF EXISTS %s", mysqlIdent(name))
}

func MySQLCreateUser(user, password string) string {
	return fmt.Sprintf("CREATE USER %s@'%s' IDENTIFIED BY %s",
		mysqlIdent(user), restrictedUserHost, mysqlLiteral(password))
}

func MySQLAlterUserPassword(user, password string) string {
	return fmt.Sprintf("ALTER USER %s@'%s' IDENTIFIED BY %s",
		mysqlIdent(user), restrictedUserHost, mysqlLiteral(password))
}

// MySQLGrantRestrictedPrivileges grants DML, and nothing more, on every
// object in the database.
func MySQLGrantRestrictedPrivileges(dbName, user string) string {
	return fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON %s.* TO %s@'%s'",
		mysqlIdent(dbName), mysqlIdent(user), restrictedUserHost)
}

// MySQLTruncateTable truncates one table, qualified so it can run from a
// session with no default database. TRUNCATE also resets AUTO_INCREMENT.
func MySQLTruncateTable(dbName, table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s.%s", mysqlIdent(dbName), mysqlIdent(table))
}

func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func mysqlLiteral(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "'", "''")
	return "'" + value + "'"
}
