// Command db-pool-sweep drops databases left behind by test runs that were
// killed before pool teardown. It recognizes them by the db_pool_ name
// prefix. Credentials come from the same environment variables the config
// loaders use (POSTGRES_* or MYSQL_*, with a .env file honored).
//
// Never run the sweep while a test run is using the same server: it cannot
// tell an orphan from a database currently checked out.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	dbpool "github.com/yasamoka/db-pool"
	"github.com/yasamoka/db-pool/mysql"
	"github.com/yasamoka/db-pool/postgres"
)

func main() {
	dbms := flag.String("dbms", "postgres", `target DBMS ("postgres" or "mysql")`)
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var dropped []string
	switch *dbms {
	case "postgres":
		dropped = sweepPostgres(ctx, logger)
	case "mysql":
		dropped = sweepMySQL(ctx, logger)
	default:
		logger.Fatal().Str("dbms", *dbms).Msg("unsupported dbms")
	}

	for _, name := range dropped {
		logger.Info().Str("database", name).Msg("dropped orphaned database")
	}
	logger.Info().Int("count", len(dropped)).Msg("sweep finished")
}

func sweepPostgres(ctx context.Context, logger zerolog.Logger) []string {
	config, err := dbpool.PostgresConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load postgres config")
	}

	pool, err := pgxpool.New(ctx, config.DefaultConnectionURL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer pool.Close()

	dropped, err := postgres.SweepOrphans(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweep failed")
	}
	return dropped
}

func sweepMySQL(ctx context.Context, logger zerolog.Logger) []string {
	config, err := dbpool.MySQLConfigFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load mysql config")
	}

	db, err := sql.Open("mysql", config.DefaultDSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer func() { _ = db.Close() }()

	dropped, err := mysql.SweepOrphans(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweep failed")
	}
	return dropped
}
