package common

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// ChainParams maps a network name to its parameters.
func ChainParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown btc chain %q", name)
	}
}
