package handlestore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/database"
)

const (
	handleTable = "contract_handle"

	insertOrReplace = "INSERT OR REPLACE INTO " + handleTable + " (id, family, status, tip, body) VALUES (?, ?, ?, ?, ?)"
	selectByID      = "SELECT body FROM " + handleTable + " WHERE id = ?"
	selectAll       = "SELECT body FROM " + handleTable + " ORDER BY id"
)

// SQLiteStore keeps one row per handle. The body column holds the binary
// encoding, the other columns are for humans poking at the file.
type SQLiteStore struct {
	sc *database.StmtCache
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS ` + handleTable + ` (
		id TEXT PRIMARY KEY,
		family TEXT,
		status TEXT,
		tip TEXT,
		body BLOB
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create handle table: %w", err)
	}
	return &SQLiteStore{sc: database.NewStmtCache(db)}, nil
}

func (s *SQLiteStore) Save(h *covenant.Handle) error {
	body, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	snap := h.Snapshot()
	_, err = s.sc.Exec(insertOrReplace, snap.ID, snap.Family, snap.Status.String(), h.Tip(), body)
	return err
}

func (s *SQLiteStore) Load(id string) (*covenant.Handle, error) {
	row, err := s.sc.QueryRow(selectByID, id)
	if err != nil {
		return nil, err
	}
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, id)
		}
		return nil, err
	}
	return covenant.DecodeHandle(body)
}

func (s *SQLiteStore) List() ([]*covenant.Handle, error) {
	rows, err := s.sc.Query(selectAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []*covenant.Handle
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		h, err := covenant.DecodeHandle(body)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.sc.Close()
}
