package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spend builds a tx moving u to p2 minus fee, with a placeholder unlock.
func spend(t *testing.T, u *utxo.UTXO, fee int64) *wire.MsgTx {
	out, err := assembler.PayToP2PKH(&chaincfg.RegressionNetParams, p2_legacy_addr_str, u.Amount-fee)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	op := u.OutPoint()
	tx.AddTxIn(wire.NewTxIn(&op, []byte{0x51}, nil))
	tx.AddTxOut(out)
	return tx
}

func TestSimulatedChainBroadcastAndConfirm(t *testing.T) {
	ctx := context.Background()
	c := NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)

	u, err := c.Fund(p1_legacy_addr_str, 100000)
	require.NoError(t, err)
	utxos, err := c.GetPaymentUtxos(ctx, p1_legacy_addr_str)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, utxo.PubKeyScriptType(utxo.P2PKH_SCRIPT_T), utxos[0].PkScriptT)

	tx := spend(t, u, 1000)
	hash, err := c.Broadcast(ctx, tx)
	require.NoError(t, err)

	n, err := c.GetConfirmations(ctx, hash.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	c.Mine(3)
	n, err = c.GetConfirmations(ctx, hash.String())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.False(t, c.Unspent(u.TxID, u.Vout))
	got, err := c.GetPaymentUtxos(ctx, p2_legacy_addr_str)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(99000), got[0].Amount)

	// rebroadcast is a no-op
	again, err := c.Broadcast(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, err = c.GetConfirmations(ctx, "ff")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestSimulatedChainRejections(t *testing.T) {
	ctx := context.Background()
	c := NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	u, err := c.Fund(p1_legacy_addr_str, 100000)
	require.NoError(t, err)

	_, err = c.Broadcast(ctx, spend(t, u, 10))
	var berr *BroadcastError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, RejectFeeTooLow, berr.Kind)
	assert.ErrorIs(t, err, ErrBroadcastRejected)

	_, err = c.Broadcast(ctx, spend(t, u, 1000))
	require.NoError(t, err)
	_, err = c.Broadcast(ctx, spend(t, u, 2000))
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, RejectDoubleSpend, berr.Kind)

	unsigned := spend(t, u, 1000)
	unsigned.TxIn[0].SignatureScript = nil
	unsigned.TxIn[0].PreviousOutPoint.Index = 7
	_, err = c.Broadcast(ctx, unsigned)
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, RejectDoubleSpend, berr.Kind)
}

func TestSimulatedChainInjectedFailure(t *testing.T) {
	ctx := context.Background()
	c := NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	u, err := c.Fund(p1_legacy_addr_str, 100000)
	require.NoError(t, err)

	c.InjectBroadcastFailure(btcjson.NewRPCError(-26, "non-mandatory-script-verify-flag"))
	_, err = c.Broadcast(ctx, spend(t, u, 1000))
	var berr *BroadcastError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, RejectPolicy, berr.Kind)

	// the failure is consumed
	_, err = c.Broadcast(ctx, spend(t, u, 1000))
	assert.NoError(t, err)
}

func TestSimulatedChainAutoMineAndFeeRate(t *testing.T) {
	ctx := context.Background()
	c := NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	c.AutoMine = true
	u, err := c.Fund(p1_legacy_addr_str, 100000)
	require.NoError(t, err)

	hash, err := c.Broadcast(ctx, spend(t, u, 1000))
	require.NoError(t, err)
	n, err := c.GetConfirmations(ctx, hash.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rate, err := c.FeeRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rate)
	c.Rate = 0
	_, err = c.FeeRate(ctx)
	assert.ErrorIs(t, err, ErrNoFeeEstimate)
}

func TestClassifyRejection(t *testing.T) {
	cases := []struct {
		err  error
		kind RejectKind
	}{
		{btcjson.NewRPCError(-26, "min relay fee not met, 100 < 226"), RejectFeeTooLow},
		{btcjson.NewRPCError(-26, "mempool min fee not met"), RejectFeeTooLow},
		{btcjson.NewRPCError(-26, "txn-mempool-conflict"), RejectDoubleSpend},
		{btcjson.NewRPCError(-25, "bad-txns-inputs-missingorspent"), RejectDoubleSpend},
		{btcjson.NewRPCError(-26, "dust"), RejectPolicy},
		{errors.New("connection refused"), RejectOther},
	}
	for _, c := range cases {
		got := ClassifyRejection(c.err)
		assert.Equal(t, c.kind, got.Kind, c.err.Error())
		assert.ErrorIs(t, got, c.err)
	}

	berr := ClassifyRejection(cases[0].err)
	assert.Same(t, berr, ClassifyRejection(berr))
}

func TestSimulatedChainRejectsNonFinal(t *testing.T) {
	ctx := context.Background()
	c := NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	u, err := c.Fund(p1_legacy_addr_str, 100000)
	require.NoError(t, err)

	tx := spend(t, u, 1000)
	tx.LockTime = 10
	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 1
	_, err = c.Broadcast(ctx, tx)
	var berr *BroadcastError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, RejectPolicy, berr.Kind)

	c.Mine(9)
	h, err := c.BlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), h)
	_, err = c.Broadcast(ctx, tx)
	assert.NoError(t, err)
}
