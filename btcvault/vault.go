package btcvault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/covenant-go/btcman/utxo"
)

const (
	TIMEOUT_DELAY int64 = 1800 // half an hour
)

var ErrUTXOExists = errors.New("utxo already exists")

// TreasureVault remembers which wallet UTXOs are locked up by an in-flight
// covenant transaction and which are spent. It is a durable utxo.Ledger:
// lockups survive a restart and expire after TimeoutDelay seconds.
type TreasureVault struct {
	BtcAddress   string           // the wallet holds the money
	TimeoutDelay int64            // seconds a lockup lives
	backend      VaultUTXOStorage // the backend engine
	updateMu     sync.Mutex       // prevent concurrent updates
	now          func() time.Time
}

var _ utxo.Ledger = (*TreasureVault)(nil)

// NewTreasureVault contains one btc address as identifier.
// And uses any backend that implements VaultUTXOStorage.
func NewTreasureVault(btcAddress string, backend VaultUTXOStorage) *TreasureVault {
	return &TreasureVault{BtcAddress: btcAddress, TimeoutDelay: TIMEOUT_DELAY, backend: backend, now: time.Now}
}

func toVault(u *utxo.UTXO) VaultUTXO {
	return VaultUTXO{
		TxID:      u.TxID,
		Vout:      int32(u.Vout),
		Amount:    u.Amount,
		PkScript:  u.PkScript,
		PkScriptT: int(u.PkScriptT),
	}
}

func (v VaultUTXO) toUTXO() (*utxo.UTXO, error) {
	hash, err := chainhash.NewHashFromStr(v.TxID)
	if err != nil {
		return nil, err
	}
	return utxo.NewUTXO(*hash, uint32(v.Vout), wire.NewTxOut(v.Amount, v.PkScript), utxo.PubKeyScriptType(v.PkScriptT)), nil
}

// AddUTXO adds a new UTXO to the treasure vault
// It returns ErrUTXOExists if the UTXO is already known (won't insert duplicates)
func (tv *TreasureVault) AddUTXO(u *utxo.UTXO) error {
	tv.updateMu.Lock()
	defer tv.updateMu.Unlock()

	// Don't duplicate insert!
	old_utxo, err := tv.backend.QueryByTxIDAndVout(u.TxID, int32(u.Vout))
	if err != nil {
		return err
	}
	if old_utxo != nil {
		return fmt.Errorf("%w: %s", ErrUTXOExists, u.Key())
	}
	return tv.backend.InsertVaultUTXO(toVault(u))
}

func (tv *TreasureVault) usable(v *VaultUTXO) bool {
	if v == nil {
		return true
	}
	if v.Spent {
		return false
	}
	return !v.Lockup || v.Timeout < tv.now().Unix()
}

// IsUsable reports false for spent outputs and for live lockups.
// Outputs the vault never saw are usable.
func (tv *TreasureVault) IsUsable(u *utxo.UTXO) (bool, error) {
	v, err := tv.backend.QueryByTxIDAndVout(u.TxID, int32(u.Vout))
	if err != nil {
		return false, err
	}
	return tv.usable(v), nil
}

// Reserve locks up all utxos for owner, or none of them.
func (tv *TreasureVault) Reserve(owner string, utxos []*utxo.UTXO) error {
	// protection against concurrent updates
	tv.updateMu.Lock()
	defer tv.updateMu.Unlock()

	known := make([]*VaultUTXO, len(utxos))
	for i, u := range utxos {
		v, err := tv.backend.QueryByTxIDAndVout(u.TxID, int32(u.Vout))
		if err != nil {
			return err
		}
		if !tv.usable(v) {
			return fmt.Errorf("utxo %s is locked up by %s or spent", u.Key(), v.LinkedId)
		}
		known[i] = v
	}

	timepoint := tv.now().Unix() + tv.TimeoutDelay
	for i, u := range utxos {
		if known[i] == nil {
			if err := tv.backend.InsertVaultUTXO(toVault(u)); err != nil {
				return err
			}
		}
		if err := tv.backend.SetLockup(u.TxID, int32(u.Vout), true, timepoint, owner); err != nil {
			return err
		}
	}
	return nil
}

func (tv *TreasureVault) Release(utxos []*utxo.UTXO) error {
	tv.updateMu.Lock()
	defer tv.updateMu.Unlock()
	for _, u := range utxos {
		if err := tv.backend.SetLockup(u.TxID, int32(u.Vout), false, 0, ""); err != nil {
			return err
		}
	}
	return nil
}

func (tv *TreasureVault) MarkSpent(utxos []*utxo.UTXO) error {
	tv.updateMu.Lock()
	defer tv.updateMu.Unlock()
	for _, u := range utxos {
		if err := tv.backend.SetSpent(u.TxID, int32(u.Vout), true); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseByExpire releases UTXOs that have passed their timeout
func (tv *TreasureVault) ReleaseByExpire() (int, error) {
	tv.updateMu.Lock()
	defer tv.updateMu.Unlock()

	utxos, err := tv.backend.QueryExpiredAndLockedUTXOs(tv.now().Unix())
	if err != nil {
		return 0, err
	}
	for _, utxo := range utxos {
		if err := tv.backend.SetLockup(utxo.TxID, utxo.Vout, false, 0, ""); err != nil {
			return 0, err
		}
	}
	if len(utxos) > 0 {
		logger.WithField("count", len(utxos)).Info("released expired utxo lockups")
	}
	return len(utxos), nil
}

// ReleaseByOwner drops every lockup held by owner, e.g. after a crash mid-call.
func (tv *TreasureVault) ReleaseByOwner(owner string) (int, error) {
	tv.updateMu.Lock()
	defer tv.updateMu.Unlock()

	utxos, err := tv.backend.QueryByLinkedID(owner)
	if err != nil {
		return 0, err
	}
	for _, utxo := range utxos {
		if err := tv.backend.SetLockup(utxo.TxID, utxo.Vout, false, 0, ""); err != nil {
			return 0, err
		}
	}
	return len(utxos), nil
}

// Sync records wallet outputs the vault has not seen yet, so Balance
// covers funds no call has touched. It returns how many were added.
func (tv *TreasureVault) Sync(utxos []*utxo.UTXO) (int, error) {
	added := 0
	for _, u := range utxos {
		err := tv.AddUTXO(u)
		switch {
		case errors.Is(err, ErrUTXOExists):
		case err != nil:
			return added, err
		default:
			added++
		}
	}
	return added, nil
}

// Usable lists the outputs free to spend.
func (tv *TreasureVault) Usable() ([]*utxo.UTXO, error) {
	vs, err := tv.backend.QueryAllUsableUTXOs()
	if err != nil {
		return nil, err
	}
	res := make([]*utxo.UTXO, 0, len(vs))
	for _, v := range vs {
		u, err := v.toUTXO()
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

// Balance sums the usable outputs.
func (tv *TreasureVault) Balance() (int64, error) {
	return tv.backend.SumMoney()
}
