// This file contains
// LocalProvider (local version) that implements the Provider interface
// SimulatedWallet (local version) that implements the Wallet interface
package signers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Implementation: Local single key provider
type LocalProvider struct {
	op *assembler.NativeOperator
}

// Create a local provider from a private key string (WIF).
func NewLocalProvider(wif string, params *chaincfg.Params) (*LocalProvider, error) {
	signer, err := assembler.NewNativeSigner(wif, params)
	if err != nil {
		return nil, err
	}
	op, err := assembler.NewNativeOperator(*signer)
	if err != nil {
		return nil, err
	}
	return &LocalProvider{op: op}, nil
}

func (p *LocalProvider) Operator() *assembler.NativeOperator { return p.op }

func (p *LocalProvider) PublicKey(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.op.SerializedPubKey(), nil
}

func (p *LocalProvider) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digest) != chainhash.HashSize {
		return nil, fmt.Errorf("digest must be %d bytes", chainhash.HashSize)
	}
	return p.op.SignDigest(digest), nil
}

// Broadcaster submits a signed tx to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

// SimulatedWallet is an in-process wallet speaking the Wallet interface.
// The exported knobs inject the misbehaviour of real wallets.
type SimulatedWallet struct {
	op          *assembler.NativeOperator
	engine      *sighash.Engine
	source      UTXOSource
	broadcaster Broadcaster

	// knobs, set before use.
	// ForceSpec makes the wallet sign with this spec whatever was asked.
	ForceSpec *sighash.Spec
	// Reject fails every signing request.
	Reject error
	// Delay postpones every signing answer.
	Delay time.Duration
}

func NewSimulatedWallet(provider *LocalProvider, engine *sighash.Engine, source UTXOSource, broadcaster Broadcaster) *SimulatedWallet {
	return &SimulatedWallet{op: provider.op, engine: engine, source: source, broadcaster: broadcaster}
}

func (w *SimulatedWallet) GetAddress(ctx context.Context) (string, error) {
	return w.op.P2PKH.EncodeAddress(), nil
}

func (w *SimulatedWallet) GetPaymentUtxos(ctx context.Context) ([]*utxo.UTXO, error) {
	if w.source == nil {
		return nil, ErrSignerUnavailable
	}
	return w.source.GetPaymentUtxos(ctx, w.op.P2PKH.EncodeAddress())
}

func (w *SimulatedWallet) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if w.broadcaster == nil {
		return nil, errors.New("wallet has no network")
	}
	return w.broadcaster.Broadcast(ctx, tx)
}

func (w *SimulatedWallet) GetSignatures(ctx context.Context, rawTxHex string, reqs []SigRequest) ([]SigResponse, error) {
	force, reject, delay := w.ForceSpec, w.Reject, w.Delay

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reject != nil {
		return nil, reject
	}

	raw, err := common.HexStrToBytes(rawTxHex)
	if err != nil {
		return nil, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	resps := make([]SigResponse, 0, len(reqs))
	for _, req := range reqs {
		spec, err := sighash.SpecFromHashType(byte(req.SigHashType))
		if err != nil {
			return nil, err
		}
		if force != nil {
			spec = *force
		}
		script, err := common.HexStrToBytes(req.Script)
		if err != nil {
			return nil, err
		}
		digest, err := w.engine.Digest(&tx, req.InputIndex, script, req.Satoshis, spec)
		if err != nil {
			return nil, err
		}
		sig := &sighash.Signature{DER: w.op.SignDigest(digest), Spec: spec}
		resps = append(resps, SigResponse{
			InputIndex: req.InputIndex,
			Sig:        common.ByteSliceToPureHexStr(sig.ScriptSig(w.engine.ForkID)),
			PubKey:     common.ByteSliceToPureHexStr(w.op.SerializedPubKey()),
		})
	}
	return resps, nil
}
