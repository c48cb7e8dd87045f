package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestGetValue(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	// Set up the expectations.
	rows := sqlmock.NewRows([]string{"store_value"}).AddRow(`{"a":1}`)
	mock.ExpectQuery("SELECT store_value FROM user_store WHERE store_key = \\$1").
		WithArgs("ledger_7").
		WillReturnRows(rows)

	// Look up the value.
	store := NewStore(db, DriverPostgres)
	value, found, err := store.Get(ctx, "ledger_7")
	assert.NoError(err, "unexpected error occurred while reading the value")
	assert.True(found)
	assert.Equal(`{"a":1}`, value)

	// Verify that all mock expectations were met.
	err = mock.ExpectationsWereMet()
	assert.NoError(err, "not all mock expectations were met")
}

func TestGetMissingValue(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	// Set up the expectations.
	mock.ExpectQuery("SELECT store_value FROM user_store WHERE store_key = \\$1").
		WithArgs("ledger_7").
		WillReturnRows(sqlmock.NewRows([]string{"store_value"}))

	// Look up the value.
	store := NewStore(db, DriverPostgres)
	value, found, err := store.Get(ctx, "ledger_7")
	assert.NoError(err, "a missing key should not be an error")
	assert.False(found)
	assert.Equal("", value)

	err = mock.ExpectationsWereMet()
	assert.NoError(err, "not all mock expectations were met")
}

func TestGetValueFailure(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	mock.ExpectQuery("SELECT store_value FROM user_store").
		WillReturnError(errors.New("connection reset"))

	store := NewStore(db, DriverPostgres)
	_, _, err = store.Get(ctx, "ledger_7")
	assert.Error(err)

	var storageErr StorageError
	assert.True(errors.As(err, &storageErr), "the error should be a StorageError")
	assert.Contains(err.Error(), "connection reset")
}

func TestSetValue(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	// Set up the expectations.
	mock.ExpectExec("INSERT INTO user_store \\(store_key,store_value,updated_at\\) VALUES \\(\\$1,\\$2,\\$3\\) ON CONFLICT").
		WithArgs("ledger_7", "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// Store the value.
	store := NewStore(db, DriverPostgres)
	err = store.Set(ctx, "ledger_7", "{}")
	assert.NoError(err, "unexpected error occurred while storing the value")

	err = mock.ExpectationsWereMet()
	assert.NoError(err, "not all mock expectations were met")
}

func TestSetValueSQLitePlaceholders(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	mock.ExpectExec("INSERT INTO user_store \\(store_key,store_value,updated_at\\) VALUES \\(\\?,\\?,\\?\\)").
		WithArgs("ledger_7", "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewStore(db, DriverSQLite)
	err = store.Set(ctx, "ledger_7", "{}")
	assert.NoError(err)

	err = mock.ExpectationsWereMet()
	assert.NoError(err, "not all mock expectations were met")
}

func TestAtomicallyCommits(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	// Set up the expectations.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT store_value FROM user_store").
		WithArgs("ledger_7").
		WillReturnRows(sqlmock.NewRows([]string{"store_value"}).AddRow("old"))
	mock.ExpectExec("INSERT INTO user_store").
		WithArgs("ledger_7", "old+new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// Perform a read-modify-write.
	store := NewStore(db, DriverPostgres)
	err = store.Atomically(ctx, func(kv KV) error {
		value, _, err := kv.Get(ctx, "ledger_7")
		if err != nil {
			return err
		}
		return kv.Set(ctx, "ledger_7", value+"+new")
	})
	assert.NoError(err, "unexpected error occurred during the update")

	err = mock.ExpectationsWereMet()
	assert.NoError(err, "not all mock expectations were met")
}

func TestAtomicallyRollsBack(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	ctx := context.Background()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	// Set up the expectations.
	mock.ExpectBegin()
	mock.ExpectRollback()

	// Fail inside the transaction.
	store := NewStore(db, DriverPostgres)
	err = store.Atomically(ctx, func(kv KV) error {
		return errors.New("something went wrong")
	})
	assert.Error(err)
	assert.Contains(err.Error(), "something went wrong")

	err = mock.ExpectationsWereMet()
	assert.NoError(err, "not all mock expectations were met")
}

func TestSQLiteRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db, err := InitDatabase(DriverSQLite, ":memory:")
	assert.NoError(err, "unable to open the in-memory database")
	defer db.Close()
	assert.NoError(EnsureSchema(ctx, db))

	store := NewStore(db, DriverSQLite)
	store.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	_, found, err := store.Get(ctx, "notifications_7")
	assert.NoError(err)
	assert.False(found)

	assert.NoError(store.Set(ctx, "notifications_7", "first"))
	assert.NoError(store.Set(ctx, "notifications_7", "second"))

	value, found, err := store.Get(ctx, "notifications_7")
	assert.NoError(err)
	assert.True(found)
	assert.Equal("second", value)
}
