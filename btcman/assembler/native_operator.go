// NativeOperator holds a local private key.
// 1) Receives fee funds and change via a legacy address (P2PKH).
// 2) Signs covenant digests and unlocks its own fee inputs.

package assembler

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Basic single private key signer
// various private key formats see README.
type NativeSigner struct {
	ChainConfig *chaincfg.Params  // which BTC chain it is on. (mainnet, testnet, regtest)
	PrivKey     *btcec.PrivateKey // private key
	PubKey      *btcec.PublicKey  // public key accordingly
}

// Recover a basic signer from
// private key string (aka wallet-import-format, WIF)
// This is the standard private key string that bitcoin-core software exports.
func NewNativeSigner(priv_key_wif_str string, chain_config *chaincfg.Params) (*NativeSigner, error) {
	priv_key_wif, err := DecodeWIF(priv_key_wif_str)
	if err != nil {
		return nil, err
	}
	return &NativeSigner{chain_config, priv_key_wif.PrivKey, priv_key_wif.PrivKey.PubKey()}, nil
}

// NativeOperator receives funds via a legacy address (P2PKH).
type NativeOperator struct {
	NativeSigner
	P2PKH    *btcutil.AddressPubKeyHash // legacy address, call .EncodeAddress() to get human readable address
	PkScript []byte                     // locking script of P2PKH
}

func NewNativeOperator(bw NativeSigner) (*NativeOperator, error) {
	// Convert Public Key to a P2PKH address
	p2pkhAddr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(bw.PubKey.SerializeCompressed()), bw.ChainConfig)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(p2pkhAddr)
	if err != nil {
		return nil, err
	}
	return &NativeOperator{bw, p2pkhAddr, script}, nil
}

// SerializedPubKey is the compressed public key pushed in unlocking scripts.
func (lo *NativeOperator) SerializedPubKey() []byte {
	return lo.PubKey.SerializeCompressed()
}

// SignDigest signs a 32 byte digest, returning DER without the sighash byte.
func (lo *NativeOperator) SignDigest(digest []byte) []byte {
	return ecdsa.Sign(lo.PrivKey, digest).Serialize()
}
