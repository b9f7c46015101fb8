// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package postgres implements catalog.Store on top of PostgreSQL,
// using database/sql and hand-written parameterized queries rather
// than a reflective object mapper, per the Design Notes in spec.md §9.
package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Store is a PostgreSQL-backed catalog.Store. The zero value is not
// usable; construct with New.
type Store struct {
	db *sql.DB
}

// New opens a connection pool to the given PostgreSQL connection
// string and upgrades its schema to the latest migration, mirroring
// the teacher's postgres.New: the connection string may be an
// expanded PostgreSQL string, a "postgres:" URL, or a scheme-less URL.
// The returned Store carries the connection pool with it and should
// be constructed once and shared across the application.
func New(connectionString string) (*Store, error) {
	if len(connectionString) >= 2 && connectionString[0] == '/' && connectionString[1] == '/' {
		connectionString = "postgres:" + connectionString
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := Upgrade(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs f inside a transaction, retrying on PostgreSQL
// serialization failures (SQLSTATE 40001), and rolling back on any
// other error or panic. This is the same retry shape the teacher uses
// for its own "repeatable read" isolation level.
func withTx(db *sql.DB, readOnly bool, f func(*sql.Tx) error) (err error) {
	for {
		var tx *sql.Tx
		tx, err = db.Begin()
		if err != nil {
			return err
		}

		level := "REPEATABLE READ"
		if readOnly {
			level += " READ ONLY"
		}
		if _, err = tx.Exec("SET TRANSACTION ISOLATION LEVEL " + level); err != nil {
			_ = tx.Rollback()
			return err
		}

		err = func() error {
			defer func() {
				if p := recover(); p != nil {
					_ = tx.Rollback()
					panic(p)
				}
			}()
			return f(tx)
		}()
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		}

		if isSerializationFailure(err) {
			_ = tx.Rollback()
			continue
		}
		_ = tx.Rollback()
		return err
	}
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}
