package assembler

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultDustLimit is the smallest change output worth creating.
	DefaultDustLimit = int64(546)

	outPointSize = 32 + 4
	// outpoint, sequence, script length and <sig(73)> <pubkey(33)> with push ops
	p2pkhInputSize = outPointSize + 4 + 1 + 1 + 73 + 1 + 33
	// value, script length and a 25 byte P2PKH script
	p2pkhOutputSize = 8 + 1 + 25
)

// DecodeWIF decodes a string private key to *btcutil.WIF
func DecodeWIF(privKeyStr string) (*btcutil.WIF, error) {
	decoded := base58.Decode(privKeyStr)
	if len(decoded) == 0 {
		return nil, errors.New("invalid private key string (cannot pass base58 decode)")
	}

	wif, err := btcutil.DecodeWIF(privKeyStr)
	if err != nil {
		return nil, err
	}

	return wif, nil
}

func outputSize(out *wire.TxOut) int {
	return out.SerializeSize()
}

func inputSize(unlockSize int) int {
	return outPointSize + 4 + wire.VarIntSerializeSize(uint64(unlockSize)) + unlockSize
}
