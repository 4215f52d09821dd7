package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	btcutils "github.com/TEENet-io/covenant-go/btcman/utils"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
)

const (
	CONFIRM_SAFE = 6 // minimum confirm threshold to consider Tx is finalized.
	MAX_CONFIRM  = 9999999

	// blocks ahead the fee estimate targets
	FEE_CONF_TARGET = 6
)

var (
	ErrTxNotFound    = errors.New("transaction not found")
	ErrNoFeeEstimate = errors.New("node has no fee estimate")
)

type RpcClientConfig struct {
	ServerAddr  string // ip address of server
	Port        string // port of server
	Username    string
	Pwd         string
	ChainConfig *chaincfg.Params
	// confirmations a payment utxo needs to be listed
	MinConf int
}

// Wrapper of btc rpc client.
type RpcClient struct {
	ServerAddr  string // ip address of server
	Port        string // port of server
	Username    string
	Pwd         string
	ChainConfig *chaincfg.Params
	MinConf     int
	client      *rpcclient.Client
}

// Create a new RPC client which
// contains several useful functions
// to interact with bitcoin node.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	// Connect to local Bitcoin mining node using HTTP
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)

	if err != nil {
		return nil, err
	}

	params := rcc.ChainConfig
	if params == nil {
		params = &chaincfg.RegressionNetParams
	}
	return &RpcClient{rcc.ServerAddr, rcc.Port, rcc.Username, rcc.Pwd, params, rcc.MinConf, client}, nil
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// Get the latest block height.
func (r *RpcClient) GetLatestBlockHeight() (int64, error) {
	latestHeight, err := r.client.GetBlockCount()
	if err != nil {
		return 0, err
	}
	return latestHeight, nil
}

// BlockHeight is GetLatestBlockHeight for callers holding a context.
func (r *RpcClient) BlockHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.GetLatestBlockHeight()
}

// ScriptType tells what kind of locking script pkScript is.
func ScriptType(pkScript []byte) utxo.PubKeyScriptType {
	switch {
	case txscript.IsPayToPubKeyHash(pkScript):
		return utxo.P2PKH_SCRIPT_T
	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		return utxo.P2WPKH_SCRIPT_T
	default:
		return utxo.ANY_SCRIPT_T
	}
}

// Get the UTXO(s) of an address.
// Notice: The address must be watched by the node wallet (see ImportPrivateKey).
// Notice: You fill in either P2PKH or P2WPKH address, the result is specific to that address type.
func (r *RpcClient) GetUtxoList(myAddress btcutil.Address, minConf int) ([]*utxo.UTXO, error) {
	// Get the list of unspent transaction outputs
	unspentOutputs, err := r.client.ListUnspentMinMaxAddresses(minConf, MAX_CONFIRM, []btcutil.Address{myAddress})
	if err != nil {
		return nil, err
	}

	var u []*utxo.UTXO
	for _, item := range unspentOutputs {
		txHash, err := chainhash.NewHashFromStr(item.TxID)
		if err != nil {
			return nil, err
		}
		pkScript, err := hex.DecodeString(item.ScriptPubKey)
		if err != nil {
			return nil, err
		}
		amount, err := btcutil.NewAmount(item.Amount)
		if err != nil {
			return nil, err
		}
		u = append(u, utxo.NewUTXO(*txHash, item.Vout, wire.NewTxOut(int64(amount), pkScript), ScriptType(pkScript)))
	}
	sort.Slice(u, func(i, j int) bool { return u[i].Key() < u[j].Key() })
	return u, nil
}

// GetPaymentUtxos lists the spendable outputs of address.
func (r *RpcClient) GetPaymentUtxos(ctx context.Context, address string) ([]*utxo.UTXO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(address, r.ChainConfig)
	if err != nil {
		return nil, err
	}
	return r.GetUtxoList(addr, r.MinConf)
}

// Send raw transaction to bitcoin network.
func (r *RpcClient) SendRawTx(tx *wire.MsgTx) (*chainhash.Hash, error) {
	// Explanation on allowHighFees=true
	// It is a protection.
	// if bitcoin node thinks your fee is too high (maybe due to program mistakes) it can reject you.
	// false = may reject; true = accept it anyway
	txHash, err := r.client.SendRawTransaction(tx, true)
	return txHash, err
}

// Broadcast sends tx and classifies a rejection as a *BroadcastError.
func (r *RpcClient) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := r.SendRawTx(tx)
	if err != nil {
		berr := ClassifyRejection(err)
		logger.WithFields(logger.Fields{
			"txid":   tx.TxHash().String(),
			"kind":   berr.Kind.String(),
			"reason": berr.Reason,
		}).Warn("node rejected tx")
		return nil, berr
	}
	return hash, nil
}

// GetConfirmations returns 0 for a mempool tx and ErrTxNotFound for an unknown one.
func (r *RpcClient) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return 0, err
	}
	res, err := r.client.GetRawTransactionVerbose(hash)
	if err != nil {
		var rpcErr *btcjson.RPCError
		// -5, no such mempool or blockchain transaction
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return 0, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
		}
		return 0, err
	}
	return int64(res.Confirmations), nil
}

// FeeRate returns the node's estimate in satoshi per kB.
func (r *RpcClient) FeeRate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	mode := btcjson.EstimateModeConservative
	res, err := r.client.EstimateSmartFee(FEE_CONF_TARGET, &mode)
	if err != nil {
		return 0, err
	}
	if res.FeeRate == nil {
		return 0, fmt.Errorf("%w: %v", ErrNoFeeEstimate, res.Errors)
	}
	return btcutils.BtcToSatoshi(*res.FeeRate), nil
}

// Unfortunately there is no direct "get balance of an address" on btc node.
// To get the total balance of an address,
// this function sums up the value of all UTXOs associated with the given address.
// Note: if balance = 0, it can mean
// 1) the address really doesn't have any money.
// 2) the address is not tracked by the node.
func (r *RpcClient) GetBalance(myAddress btcutil.Address, minConf int) (int64, error) {
	utxos, err := r.GetUtxoList(myAddress, minConf)
	if err != nil {
		return 0, err
	}

	var totalBalance int64
	for _, utxo := range utxos {
		totalBalance += utxo.Amount
	}

	return totalBalance, nil
}

// Import a private key to the Bitcoin node's wallet.
// Note: Only imported private keys are monitored by bitcoin core!
// Note: If the priv key exists, it won't raise exception.
func (r *RpcClient) ImportPrivateKey(wif *btcutil.WIF, label string) error {
	err := r.client.ImportPrivKeyRescan(wif, label, true)
	if err != nil {
		return err
	}
	return nil
}

// Generate a given number of blocks.
// This function is useful for testing purposes.
// Unfortunately, the original r.client.Generate() is deprecated in the library.
func (r *RpcClient) GenerateBlocks(numBlocks int64, coinbase btcutil.Address) ([]*chainhash.Hash, error) {
	blockHashes, err := r.client.GenerateToAddress(numBlocks, coinbase, nil)
	if err != nil {
		return nil, err
	}
	return blockHashes, nil
}
