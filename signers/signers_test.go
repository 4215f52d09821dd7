package signers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	priv_key_str = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"
	addr_str     = "mkVXZnqaaKt4puQNr4ovPHYg48mjguFCnT"
)

var contractScript = []byte{txscript.OP_2DROP, txscript.OP_DROP, txscript.OP_TRUE, txscript.OP_RETURN, 0x01, 0x07}

type staticSource struct {
	utxos []*utxo.UTXO
}

func (s *staticSource) GetPaymentUtxos(ctx context.Context, address string) ([]*utxo.UTXO, error) {
	return s.utxos, nil
}

type badProvider struct{ *LocalProvider }

func (p badProvider) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	other := make([]byte, len(digest))
	copy(other, digest)
	other[0] ^= 0xff
	return p.LocalProvider.SignDigest(ctx, other)
}

type failingProvider struct{ *LocalProvider }

func (p failingProvider) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	return nil, errors.New("hsm offline")
}

func newProvider(t *testing.T) *LocalProvider {
	p, err := NewLocalProvider(priv_key_str, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return p
}

// unsignedCall lays out a call tx with a contract input and one fee input.
func unsignedCall(t *testing.T, p *LocalProvider, engine *sighash.Engine) *assembler.UnsignedTx {
	fee := utxo.NewUTXO(chainhash.DoubleHashH([]byte("fee")), 1, wire.NewTxOut(30000, p.Operator().PkScript), utxo.P2PKH_SCRIPT_T)
	contract := utxo.NewUTXO(chainhash.DoubleHashH([]byte("contract")), 0, wire.NewTxOut(10000, contractScript), utxo.COVENANT_SCRIPT_T)

	b := assembler.NewBuilder(&chaincfg.RegressionNetParams, utxo.NewSelector(utxo.NewMemLedger()), engine, 0)
	u, err := b.Build(&assembler.BuildRequest{
		Contract:           contract,
		RequiredSpec:       sighash.SpecAnyoneCanPaySingle,
		ContractUnlockSize: 300,
		Unlocker: func(sig *sighash.Signature, preimage []byte) ([]byte, error) {
			return txscript.NewScriptBuilder().AddData(sig.ScriptSig(engine.ForkID)).AddFullData(preimage).Script()
		},
		Payouts:    []*wire.TxOut{wire.NewTxOut(10000, contractScript)},
		Policy:     utxo.FeePolicy{SatoshisPerKb: 1000, ChangeAddress: addr_str},
		Candidates: []*utxo.UTXO{fee},
		Owner:      "test",
	})
	require.NoError(t, err)
	return u
}

func assertSignedAsAsked(t *testing.T, engine *sighash.Engine, u *assembler.UnsignedTx, sigs []*sighash.Signature) {
	require.Len(t, sigs, len(u.Requests))
	for i, req := range u.Requests {
		assert.Equal(t, req.InputIndex, sigs[i].InputIndex)
		assert.Equal(t, req.Spec, sigs[i].Spec)
	}
	b := assembler.NewBuilder(&chaincfg.RegressionNetParams, nil, engine, 0)
	_, err := b.Finalize(u, sigs)
	assert.NoError(t, err)
}

func TestDirectSigner(t *testing.T) {
	for _, forkID := range []bool{false, true} {
		engine := sighash.NewEngine(forkID)
		p := newProvider(t)
		u := unsignedCall(t, p, engine)
		wallet := NewSimulatedWallet(p, engine, &staticSource{}, nil)

		sigs, err := NewDirectSigner(wallet, engine).Sign(context.Background(), u)
		require.NoError(t, err)
		assertSignedAsAsked(t, engine, u, sigs)
	}
}

func TestDirectSignerAddressAndUTXOs(t *testing.T) {
	engine := sighash.NewEngine(false)
	p := newProvider(t)
	funds := []*utxo.UTXO{utxo.NewUTXO(chainhash.DoubleHashH([]byte("x")), 0, wire.NewTxOut(1, p.Operator().PkScript), utxo.P2PKH_SCRIPT_T)}
	s := NewDirectSigner(NewSimulatedWallet(p, engine, &staticSource{utxos: funds}, nil), engine)

	addr, err := s.ChangeAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr_str, addr)

	got, err := s.PaymentUTXOs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, funds, got)
}

func TestDirectSignerRejectsSwappedFlags(t *testing.T) {
	engine := sighash.NewEngine(false)
	p := newProvider(t)
	u := unsignedCall(t, p, engine)
	wallet := NewSimulatedWallet(p, engine, nil, nil)
	all := sighash.SpecAll
	wallet.ForceSpec = &all

	sigs, err := NewDirectSigner(wallet, engine).Sign(context.Background(), u)
	assert.ErrorIs(t, err, ErrSignerRejected)
	assert.Nil(t, sigs)
}

func TestDirectSignerRejection(t *testing.T) {
	engine := sighash.NewEngine(false)
	p := newProvider(t)
	u := unsignedCall(t, p, engine)
	wallet := NewSimulatedWallet(p, engine, nil, nil)
	wallet.Reject = errors.New("user declined")

	_, err := NewDirectSigner(wallet, engine).Sign(context.Background(), u)
	assert.ErrorIs(t, err, ErrSignerRejected)
}

func TestDirectSignerTimeout(t *testing.T) {
	engine := sighash.NewEngine(false)
	p := newProvider(t)
	u := unsignedCall(t, p, engine)
	wallet := NewSimulatedWallet(p, engine, nil, nil)
	wallet.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewDirectSigner(wallet, engine).Sign(ctx, u)
	assert.ErrorIs(t, err, ErrSignerRejected)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDirectSignerCanceled(t *testing.T) {
	engine := sighash.NewEngine(false)
	p := newProvider(t)
	u := unsignedCall(t, p, engine)
	wallet := NewSimulatedWallet(p, engine, nil, nil)
	wallet.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := NewDirectSigner(wallet, engine).Sign(ctx, u)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSignerRejected)
}

func TestSignerUnavailable(t *testing.T) {
	engine := sighash.NewEngine(false)
	u := unsignedCall(t, newProvider(t), engine)

	_, err := NewDirectSigner(nil, engine).Sign(context.Background(), u)
	assert.ErrorIs(t, err, ErrSignerUnavailable)
	_, err = NewSDKSigner(nil, nil, engine, &chaincfg.RegressionNetParams).Sign(context.Background(), u)
	assert.ErrorIs(t, err, ErrSignerUnavailable)
	_, err = NewSDKSigner(newProvider(t), nil, engine, &chaincfg.RegressionNetParams).PaymentUTXOs(context.Background())
	assert.ErrorIs(t, err, ErrSignerUnavailable)
}

func TestSDKSigner(t *testing.T) {
	engine := sighash.NewEngine(true)
	p := newProvider(t)
	u := unsignedCall(t, p, engine)
	s := NewSDKSigner(p, &staticSource{}, engine, &chaincfg.RegressionNetParams)

	addr, err := s.ChangeAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr_str, addr)

	sigs, err := s.Sign(context.Background(), u)
	require.NoError(t, err)
	assertSignedAsAsked(t, engine, u, sigs)
}

func TestSDKSignerBadProvider(t *testing.T) {
	engine := sighash.NewEngine(false)
	p := newProvider(t)
	u := unsignedCall(t, p, engine)

	_, err := NewSDKSigner(badProvider{p}, nil, engine, &chaincfg.RegressionNetParams).Sign(context.Background(), u)
	assert.ErrorIs(t, err, ErrSignerRejected)

	_, err = NewSDKSigner(failingProvider{p}, nil, engine, &chaincfg.RegressionNetParams).Sign(context.Background(), u)
	assert.ErrorIs(t, err, ErrSignerRejected)
}
