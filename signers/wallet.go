package signers

import (
	"context"

	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SigRequest asks a wallet to sign one input of a raw tx.
// Only plain data crosses the wallet boundary.
type SigRequest struct {
	PrevTxID    string `json:"prevTxid"`
	OutIndex    uint32 `json:"outputIndex"`
	InputIndex  int    `json:"inputIndex"`
	Satoshis    int64  `json:"satoshis"`
	Script      string `json:"script"` // hex locking script of the prevout
	SigHashType uint32 `json:"sigHashType"`
}

type SigResponse struct {
	InputIndex int    `json:"inputIndex"`
	Sig        string `json:"sig"` // hex DER || sighash byte
	PubKey     string `json:"pubKey"`
}

// Wallet is the native interface of an external wallet.
type Wallet interface {
	GetAddress(ctx context.Context) (string, error)
	GetPaymentUtxos(ctx context.Context) ([]*utxo.UTXO, error)
	GetSignatures(ctx context.Context, rawTxHex string, reqs []SigRequest) ([]SigResponse, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}
