package assembler

/*
Locking scripts for plain outputs: payouts to wallets and change.

They need no private key, so they are universal to all wallet
implementations.
*/

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PayToAddress builds an output paying amount to dst_addr.
func PayToAddress(dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.TxOut, error) {
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	txOutScript, err := txscript.PayToAddrScript(btcDstAddress) // simple
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(amount, txOutScript), nil
}

// PayToP2PKH is PayToAddress restricted to legacy addresses,
// the only kind a fee input can be unlocked from. Change goes here.
func PayToP2PKH(dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.TxOut, error) {
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	// Check if dst_addr is really a P2PKH address
	if _, ok := btcDstAddress.(*btcutil.AddressPubKeyHash); !ok {
		return nil, fmt.Errorf("%s is not a P2PKH (legacy) address", dst_addr)
	}
	return PayToAddress(dst_chain_cfg, dst_addr, amount)
}
