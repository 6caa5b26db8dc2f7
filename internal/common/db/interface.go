package db

import (
	"context"
)

// Database is a pooled relational store.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction. The transaction is committed when
	// fn returns nil and rolled back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Transaction is an open database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is the result of a query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
