package btcvault

// VaultUTXO is a wallet output as the vault tracks it.
type VaultUTXO struct {
	TxID      string // 64-character hexadecimal string (no 0x prefix)
	Vout      int32  // Output index
	Amount    int64  // Amount in satoshis
	PkScript  []byte // Public key script (shall use when unlocking this script)
	PkScriptT int    // utxo.PubKeyScriptType
	Lockup    bool   // Lockup status, default is false
	Spent     bool   // Spent status, default is false
	Timeout   int64  // Unix timestamp in seconds, set to 0 if untouched
	LinkedId  string // owner of the lockup, usually a contract handle id
}

// VaultUTXOStorage defines the interface for database operations on VaultUTXO
type VaultUTXOStorage interface {
	// InsertVaultUTXO inserts a new VaultUTXO into the database
	InsertVaultUTXO(utxo VaultUTXO) error

	// Select all UTXOs that are usable (not locked, not spent)
	QueryAllUsableUTXOs() ([]VaultUTXO, error)

	// QueryByTxIDAndVout retrieves a VaultUTXO with the specified transaction ID and vout
	QueryByTxIDAndVout(txID string, vout int32) (*VaultUTXO, error)

	// QueryByLinkedID retrieves the UTXOs locked up by one owner
	QueryByLinkedID(linkedID string) ([]VaultUTXO, error)

	// Query those utxos whose expired + lockup status is true
	QueryExpiredAndLockedUTXOs(t int64) ([]VaultUTXO, error)

	// SetLockup sets the lockup status, expiry and owner of a VaultUTXO.
	// Unlocking passes timeout 0 and an empty linkedID.
	SetLockup(txID string, vout int32, lockup bool, timeout int64, linkedID string) error

	// SetSpent sets the spent status of a VaultUTXO identified by txID and vout
	SetSpent(txID string, vout int32, spent bool) error

	// SumMoney calculates the total amount of all VaultUTXOs
	// Excludes locked UTXOs.
	// Excludes spent UTXOs.
	SumMoney() (int64, error)

	Close() error
}
