package db

import (
	"context"
	"database/sql"

	"github.com/cyverse-de/dbutil"
	"github.com/pkg/errors"

	// Database drivers.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	// DriverPostgres is the driver name used for a shared PostgreSQL store.
	DriverPostgres = "postgres"

	// DriverSQLite is the driver name used for a local SQLite store.
	DriverSQLite = "sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS user_store (
	store_key TEXT PRIMARY KEY,
	store_value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// InitDatabase establishes a database connection and verifies tha the database can be reached.
func InitDatabase(driverName, databaseURI string) (*sql.DB, error) {
	wrapMsg := "unable to initialize the database"

	// SQLite databases are local files, so there's nothing to wait for.
	if driverName == DriverSQLite {
		db, err := sql.Open(DriverSQLite, databaseURI)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}

		// A single connection keeps in-memory databases intact and serializes writers.
		db.SetMaxOpenConns(1)
		if err = db.Ping(); err != nil {
			db.Close()
			return nil, errors.Wrap(err, wrapMsg)
		}
		return db, nil
	}

	// Create a database connector to establish the connection.
	connector, err := dbutil.NewDefaultConnector("1m")
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Establish the database connection.
	db, err := connector.Connect(driverName, databaseURI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return db, nil
}

// EnsureSchema creates the key-value table if it doesn't exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return errors.Wrap(err, "unable to create the user store table")
	}
	return nil
}
