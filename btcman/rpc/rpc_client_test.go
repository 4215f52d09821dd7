package rpc

import (
	"context"
	"os"
	"testing"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	btcutils "github.com/TEENet-io/covenant-go/btcman/utils"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	MIN_BLOCKS = 1 // Minimum step to generate blocks

	// This wallet holds a lot of money.
	// Also the coinbase receiver (block mines and reward goes to this address)
	p1_legacy_priv_key_str = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"
	p1_legacy_addr_str     = "mkVXZnqaaKt4puQNr4ovPHYg48mjguFCnT"

	// Represents a user's wallet
	p2_legacy_priv_key_str = "cQthTMaKUU9f6br1hMXdGFXHwGaAfFFerNkn632BpGE6KXhTMmGY"
	p2_legacy_addr_str     = "moHYHpgk4YgTCeLBmDE2teQ3qVLUtM95Fn"
)

var (
	server   string
	port     string
	username string
	password string
)

// Initial setup for bitcoin rpc server
func setup() bool {
	server = os.Getenv("SERVER")
	port = os.Getenv("PORT")
	username = os.Getenv("USER")
	password = os.Getenv("PASS")
	return server != "" && port != "" && username != "" && password != ""
}

// setupClient skips the test unless a regtest node is configured.
func setupClient(t *testing.T) *RpcClient {
	if !setup() {
		t.Skip("export env variables first: SERVER, PORT, USER, PASS to run against a regtest node")
	}

	r, err := NewRpcClient(&RpcClientConfig{
		ServerAddr:  server,
		Port:        port,
		Username:    username,
		Pwd:         password,
		ChainConfig: &chaincfg.RegressionNetParams,
		MinConf:     1,
	})
	require.NoError(t, err, "cannot create RpcClient with given credentials")
	t.Cleanup(r.Close)
	return r
}

func TestBalance(t *testing.T) {
	r := setupClient(t)

	addr, err := btcutil.DecodeAddress(p1_legacy_addr_str, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	balance, err := r.GetBalance(addr, 1)
	require.NoError(t, err)
	t.Logf("Balance (satoshi): %d", balance)
	t.Logf("Balance (btc): %f", btcutils.SatoshiToBtc(balance))
}

func TestGetPaymentUtxos(t *testing.T) {
	r := setupClient(t)

	utxos, err := r.GetPaymentUtxos(context.Background(), p1_legacy_addr_str)
	require.NoError(t, err)
	if len(utxos) == 0 {
		t.Fatalf("no utxos to spend, send some bitcoin to address %s first", p1_legacy_addr_str)
	}
	for _, u := range utxos {
		assert.Positive(t, u.Amount)
	}
}

func TestFeeRate(t *testing.T) {
	r := setupClient(t)

	rate, err := r.FeeRate(context.Background())
	if err != nil {
		// fresh regtest nodes have no estimate yet
		assert.ErrorIs(t, err, ErrNoFeeEstimate)
		return
	}
	assert.Positive(t, rate)
}

func TestGenerateBlocksAndConfirm(t *testing.T) {
	r := setupClient(t)

	addr, err := btcutil.DecodeAddress(p1_legacy_addr_str, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	blockHashes, err := r.GenerateBlocks(MIN_BLOCKS, addr)
	require.NoError(t, err)
	assert.Len(t, blockHashes, MIN_BLOCKS)

	_, err = r.GetConfirmations(context.Background(), "00000000000000000000000000000000000000000000000000000000000000ff")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestImportPrivateKey(t *testing.T) {
	r := setupClient(t)

	wif, err := assembler.DecodeWIF(p2_legacy_priv_key_str)
	require.NoError(t, err)
	require.NoError(t, r.ImportPrivateKey(wif, "p2_legacy_priv_key"))
}
