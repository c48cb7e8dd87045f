package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	sq "github.com/Masterminds/squirrel"
)

// KV describes the per-user key-value store operations used by the ledger and the notification log.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// kv implements KV on top of either a database handle or a transaction.
type kv struct {
	q       queryer
	builder sq.StatementBuilderType
	now     func() time.Time
}

// Get returns the value stored for a key. The second return value is false if the key is absent.
func (s *kv) Get(ctx context.Context, key string) (string, bool, error) {
	wrapMsg := "unable to read from the user store"

	// Build the query.
	query, args, err := s.builder.
		Select("store_value").
		From("user_store").
		Where(sq.Eq{"store_key": key}).
		ToSql()
	if err != nil {
		return "", false, NewStorageError(err, "%s", wrapMsg)
	}

	// Query the database.
	var value string
	err = s.q.QueryRowContext(ctx, query, args...).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewStorageError(err, "%s: key `%s`", wrapMsg, key)
	}

	return value, true, nil
}

// Set stores a value for a key, replacing any existing value.
func (s *kv) Set(ctx context.Context, key, value string) error {
	wrapMsg := "unable to write to the user store"

	// Build the upsert statement.
	statement, args, err := s.builder.
		Insert("user_store").
		Columns("store_key", "store_value", "updated_at").
		Values(key, value, s.now().UTC()).
		Suffix("ON CONFLICT (store_key) DO UPDATE SET store_value = excluded.store_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return NewStorageError(err, "%s", wrapMsg)
	}

	// Execute the statement.
	if _, err = s.q.ExecContext(ctx, statement, args...); err != nil {
		return NewStorageError(err, "%s: key `%s`", wrapMsg, key)
	}

	return nil
}

// Store is the durable per-user key-value store.
type Store struct {
	kv
	db *sql.DB
}

// NewStore returns a store backed by the given database. The driver name selects the placeholder format.
func NewStore(db *sql.DB, driverName string) *Store {
	var placeholders sq.PlaceholderFormat = sq.Dollar
	if driverName == DriverSQLite {
		placeholders = sq.Question
	}

	return &Store{
		kv: kv{
			q:       db,
			builder: sq.StatementBuilder.PlaceholderFormat(placeholders),
			now:     time.Now,
		},
		db: db,
	}
}

// Atomically runs fn inside a single transaction. The transaction is committed if fn returns nil and
// rolled back otherwise, so no reader ever observes a partial update.
func (s *Store) Atomically(ctx context.Context, fn func(KV) error) error {
	wrapMsg := "unable to update the user store"

	// Begin a database transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError(err, "%s: unable to begin a transaction", wrapMsg)
	}
	defer tx.Rollback()

	// Run the update within the transaction.
	if err = fn(&kv{q: tx, builder: s.builder, now: s.now}); err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	// Commit the transaction.
	if err = tx.Commit(); err != nil {
		return NewStorageError(err, "%s: unable to commit the transaction", wrapMsg)
	}

	return nil
}
