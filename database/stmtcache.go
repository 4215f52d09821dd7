package database

import (
	"database/sql"
	"sync"
)

// StmtCache owns a *sql.DB and keeps one prepared statement per query text.
// The SQLite-backed stores run every statement through it.
type StmtCache struct {
	db *sql.DB
	m  sync.Map
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db}
}

func (sc *StmtCache) Prepare(query string) (*sql.Stmt, error) {
	if cached, ok := sc.m.Load(query); ok {
		return cached.(*sql.Stmt), nil
	}
	stmt, err := sc.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	if prev, loaded := sc.m.LoadOrStore(query, stmt); loaded {
		// lost the race, keep the first one
		_ = stmt.Close()
		return prev.(*sql.Stmt), nil
	}
	return stmt, nil
}

func (sc *StmtCache) Exec(query string, args ...interface{}) (sql.Result, error) {
	stmt, err := sc.Prepare(query)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(args...)
}

func (sc *StmtCache) Query(query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := sc.Prepare(query)
	if err != nil {
		return nil, err
	}
	return stmt.Query(args...)
}

// QueryRow fails only when the statement cannot be prepared; query errors
// surface from Scan as usual.
func (sc *StmtCache) QueryRow(query string, args ...interface{}) (*sql.Row, error) {
	stmt, err := sc.Prepare(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRow(args...), nil
}

func (sc *StmtCache) Clear() {
	sc.m.Range(func(k, v interface{}) bool {
		_ = v.(*sql.Stmt).Close()
		sc.m.Delete(k)
		return true
	})
}

// Close drops every cached statement and closes the database.
func (sc *StmtCache) Close() error {
	sc.Clear()
	return sc.db.Close()
}
