// Package db opens the durable session index (spec.md SPEC_FULL §B, C10)
// behind a writer/reader split, adapted from the teacher's internal/db
// package: SQLite in WAL mode serializes writes through a single
// connection while readers fan out, and Postgres shares one pool for
// both since pgx handles pooling internally.
package db

import "github.com/jmoiron/sqlx"

// Pool provides separate read and write database handles.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the connection used for INSERT/UPDATE/DELETE.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection used for SELECT.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools, avoiding a double-close when they alias the
// same handle (Postgres mode).
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
