package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yasamoka/db-pool/internal/statement"
)

// SweepOrphans drops every database carrying the pool name prefix, returning
// the names it dropped. It is meant for cleaning up after runs that were
// killed before teardown; never run it while another pool is using the same
// server. The pool must be connected as a user that may drop databases.
func SweepOrphans(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, statement.PostgresDatabaseNames)
	if err != nil {
		return nil, fmt.Errorf("list pool databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pool databases: %w", err)
	}
	rows.Close()

	var dropped []string
	for _, name := range names {
		if _, err := pool.Exec(ctx, statement.PostgresDropDatabase(name)); err != nil {
			return dropped, fmt.Errorf("drop database %s: %w", name, err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
