package dbpool

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// DatabaseNamePrefix starts every database name minted by a DatabasePool.
// The fixed prefix lets external tooling recognize and drop databases left
// behind by crashed runs.
const DatabaseNamePrefix = "db_pool_"

// DatabaseID uniquely identifies one database minted by a DatabasePool.
// IDs are random UUIDs and are never reused.
type DatabaseID uuid.UUID

// NewDatabaseID mints a fresh DatabaseID.
func NewDatabaseID() DatabaseID {
	return DatabaseID(uuid.New())
}

// DatabaseName derives the database name for this ID: the pool prefix
// followed by 32 lowercase hex characters. The derivation is deterministic,
// and the result is a valid unquoted identifier in both PostgreSQL and MySQL.
func (id DatabaseID) DatabaseName() string {
	u := uuid.UUID(id)
	return DatabaseNamePrefix + hex.EncodeToString(u[:])
}

func (id DatabaseID) String() string {
	return uuid.UUID(id).String()
}

// IsPoolDatabaseName reports whether name could have been minted by a
// DatabasePool.
func IsPoolDatabaseName(name string) bool {
	rest, ok := strings.CutPrefix(name, DatabaseNamePrefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil && rest == strings.ToLower(rest)
}
