package btcvault

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/TEENet-io/covenant-go/database"
)

const vaultColumns = "tx_id, vout, amount, pkscript, pkscript_t, lockup, spent, timeout, linked_id"

// VaultSQLiteStorage implements VaultUTXOStorage for SQLite
type VaultSQLiteStorage struct {
	uniqueTableID string
	db            *sql.DB
	stmts         *database.StmtCache
}

// NewVaultSQLiteStorage creates a new SQLiteStorage
// dbFilePath is the path to the SQLite database file
func NewVaultSQLiteStorage(dbFilePath string, uniqueID string) (*VaultSQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbFilePath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	storage := &VaultSQLiteStorage{db: db, uniqueTableID: "vault_utxo_" + uniqueID, stmts: database.NewStmtCache(db)}
	if err := storage.init(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// init initializes the VaultUTXO table and creates indexes
// if not existed before.
func (s *VaultSQLiteStorage) init() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		tx_id TEXT,
		vout INTEGER,
		amount INTEGER,
		pkscript BLOB,
		pkscript_t INTEGER,
		lockup BOOLEAN,
		spent BOOLEAN,
		timeout INTEGER,
		linked_id TEXT,
		PRIMARY KEY (tx_id, vout)
	);
	CREATE INDEX IF NOT EXISTS idx_%s_linked_id ON %s (linked_id);
	`, s.uniqueTableID, s.uniqueTableID, s.uniqueTableID)
	_, err := s.db.Exec(query)
	return err
}

func (s *VaultSQLiteStorage) Close() error {
	return s.stmts.Close()
}

func (s *VaultSQLiteStorage) query(where string, args ...interface{}) ([]VaultUTXO, error) {
	rows, err := s.stmts.Query(fmt.Sprintf("SELECT %s FROM %s %s;", vaultColumns, s.uniqueTableID, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []VaultUTXO
	for rows.Next() {
		var utxo VaultUTXO
		if err := rows.Scan(&utxo.TxID, &utxo.Vout, &utxo.Amount, &utxo.PkScript, &utxo.PkScriptT, &utxo.Lockup, &utxo.Spent, &utxo.Timeout, &utxo.LinkedId); err != nil {
			return nil, err
		}
		utxos = append(utxos, utxo)
	}
	return utxos, rows.Err()
}

func (s *VaultSQLiteStorage) exec(query string, args ...interface{}) error {
	_, err := s.stmts.Exec(fmt.Sprintf(query, s.uniqueTableID), args...)
	return err
}

// InsertVaultUTXO inserts a new VaultUTXO into the database
func (s *VaultSQLiteStorage) InsertVaultUTXO(utxo VaultUTXO) error {
	return s.exec(`INSERT INTO %s (`+vaultColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		utxo.TxID, utxo.Vout, utxo.Amount, utxo.PkScript, utxo.PkScriptT, utxo.Lockup, utxo.Spent, utxo.Timeout, utxo.LinkedId)
}

func (s *VaultSQLiteStorage) QueryByLinkedID(linkedID string) ([]VaultUTXO, error) {
	return s.query("WHERE linked_id = ? AND lockup = 1", linkedID)
}

func (s *VaultSQLiteStorage) QueryAllUsableUTXOs() ([]VaultUTXO, error) {
	return s.query("WHERE lockup = 0 AND spent = 0 ORDER BY amount DESC")
}

// QueryByTxIDAndVout retrieves a VaultUTXO with the specified transaction ID and vout
func (s *VaultSQLiteStorage) QueryByTxIDAndVout(txID string, vout int32) (*VaultUTXO, error) {
	utxos, err := s.query("WHERE tx_id = ? AND vout = ?", txID, vout)
	if err != nil {
		return nil, err
	}
	if len(utxos) == 0 {
		return nil, nil // No matching UTXO found
	}
	return &utxos[0], nil
}

// QueryExpiredAndLockedUTXOs retrieves UTXOs whose lockup status is true and have expired
// t is the unix timepoint in seconds.
// all UTXOs with timeout < t are considered as expired.
func (s *VaultSQLiteStorage) QueryExpiredAndLockedUTXOs(t int64) ([]VaultUTXO, error) {
	return s.query("WHERE lockup = 1 AND spent = 0 AND timeout < ?", t)
}

func (s *VaultSQLiteStorage) SetLockup(txID string, vout int32, lockup bool, timeout int64, linkedID string) error {
	return s.exec(`UPDATE %s SET lockup = ?, timeout = ?, linked_id = ? WHERE tx_id = ? AND vout = ?;`,
		lockup, timeout, linkedID, txID, vout)
}

// SetSpent sets the spent status of a VaultUTXO identified by txID and vout
func (s *VaultSQLiteStorage) SetSpent(txID string, vout int32, spent bool) error {
	return s.exec(`UPDATE %s SET spent = ? WHERE tx_id = ? AND vout = ?;`, spent, txID, vout)
}

// SumMoney calculates the total amount of all VaultUTXOs
// Only the unspent & not locked up UTXOs are counted.
func (s *VaultSQLiteStorage) SumMoney() (int64, error) {
	// If SUM(amount) == NULL then will return 0
	row, err := s.stmts.QueryRow(fmt.Sprintf(`SELECT COALESCE(SUM(amount), 0) FROM %s WHERE lockup = 0 AND spent = 0;`, s.uniqueTableID))
	if err != nil {
		return 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
