/*
This file contains low-level custom data structures used accross the engine related to bitcoin.
  - PubKeyScriptType: the locking script type (as part of UTXO)
  - UTXO, the unspend transaction output (wallet owned or contract owned).
  - FeePolicy, how much to pay the miners and where the change goes.
*/
package utxo

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// PubKeyScript (LockingScript) type
type PubKeyScriptType int

// Enumerate of PubKeyScriptType
const (
	ANY_SCRIPT_T = iota
	P2PKH_SCRIPT_T
	P2WPKH_SCRIPT_T
	COVENANT_SCRIPT_T // stateful contract locking script
)

// Represents the unspent transaction output (UTXO)
// in our program. Immutable once observed.
type UTXO struct {
	TxID      string           // Identifier, human readable
	TxHash    *chainhash.Hash  // Identifier, used for tx search
	Vout      uint32           // exact index of the Tx's outputs to be spent
	Amount    int64            // in satoshi
	PkScriptT PubKeyScriptType // Type of the locking script
	PkScript  []byte           // Locking Script itself
}

// NewUTXO builds a UTXO from a tx hash and the output it points at.
func NewUTXO(txHash chainhash.Hash, vout uint32, out *wire.TxOut, t PubKeyScriptType) *UTXO {
	h := txHash
	script := make([]byte, len(out.PkScript))
	copy(script, out.PkScript)
	return &UTXO{
		TxID:      h.String(),
		TxHash:    &h,
		Vout:      vout,
		Amount:    out.Value,
		PkScriptT: t,
		PkScript:  script,
	}
}

// OutPoint returns the wire outpoint that spends this UTXO.
func (u *UTXO) OutPoint() wire.OutPoint {
	return *wire.NewOutPoint(u.TxHash, u.Vout)
}

// Key is the "txid:vout" identifier used by reservation ledgers.
func (u *UTXO) Key() string {
	return OutPointKey(u.TxID, u.Vout)
}

func OutPointKey(txID string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txID, vout)
}

// FeePolicy tells how much fee to pay and who receives the change.
type FeePolicy struct {
	SatoshisPerKb int64  // relay fee rate
	ChangeAddress string // receiver of the change output
}

// FeeForSize returns the fee in satoshi for a tx of size bytes, rounded up.
func (p FeePolicy) FeeForSize(size int) int64 {
	if size <= 0 || p.SatoshisPerKb <= 0 {
		return 0
	}
	return (int64(size)*p.SatoshisPerKb + 999) / 1000
}

// Bumped returns a copy of the policy with the fee rate increased by percent.
func (p FeePolicy) Bumped(percent int64) FeePolicy {
	bumped := p
	inc := p.SatoshisPerKb * percent / 100
	if inc < 1 {
		inc = 1
	}
	bumped.SatoshisPerKb += inc
	return bumped
}
