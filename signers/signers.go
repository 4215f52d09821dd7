// This file contains the signing capability the orchestrator uses, and its two variants:
// DirectSigner talks to a wallet's native signing interface.
// SDKSigner goes through a key Provider and computes digests itself.
package signers

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrSignerRejected    = errors.New("signer rejected")
	ErrSignerUnavailable = errors.New("signer unavailable")
)

// Capability is what the engine needs from whoever holds the keys.
// Sign returns one signature per request of u, or none at all.
type Capability interface {
	PaymentUTXOs(ctx context.Context) ([]*utxo.UTXO, error)
	ChangeAddress(ctx context.Context) (string, error)
	Sign(ctx context.Context, u *assembler.UnsignedTx) ([]*sighash.Signature, error)
}

// mapErr normalizes errors coming back from a wallet or provider.
// Cancellation is the caller's decision and propagates unchanged.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrSignerUnavailable), errors.Is(err, ErrSignerRejected):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out: %v", ErrSignerRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}
}

// await runs fn but gives up as soon as ctx is done.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// Implementation: wallet native signing.
type DirectSigner struct {
	wallet Wallet
	engine *sighash.Engine
}

func NewDirectSigner(wallet Wallet, engine *sighash.Engine) *DirectSigner {
	return &DirectSigner{wallet: wallet, engine: engine}
}

func (d *DirectSigner) PaymentUTXOs(ctx context.Context) ([]*utxo.UTXO, error) {
	if d.wallet == nil {
		return nil, ErrSignerUnavailable
	}
	utxos, err := await(ctx, func() ([]*utxo.UTXO, error) { return d.wallet.GetPaymentUtxos(ctx) })
	return utxos, mapErr(err)
}

func (d *DirectSigner) ChangeAddress(ctx context.Context) (string, error) {
	if d.wallet == nil {
		return "", ErrSignerUnavailable
	}
	addr, err := await(ctx, func() (string, error) { return d.wallet.GetAddress(ctx) })
	return addr, mapErr(err)
}

func (d *DirectSigner) Sign(ctx context.Context, u *assembler.UnsignedTx) ([]*sighash.Signature, error) {
	if d.wallet == nil {
		return nil, ErrSignerUnavailable
	}
	var raw bytes.Buffer
	if err := u.Tx.Serialize(&raw); err != nil {
		return nil, err
	}
	reqs := make([]SigRequest, len(u.Requests))
	for i, r := range u.Requests {
		prev := u.PrevOuts[r.InputIndex]
		reqs[i] = SigRequest{
			PrevTxID:    prev.TxID,
			OutIndex:    prev.Vout,
			InputIndex:  r.InputIndex,
			Satoshis:    prev.Amount,
			Script:      common.ByteSliceToPureHexStr(prev.PkScript),
			SigHashType: uint32(r.Spec.HashType(d.engine.ForkID)),
		}
	}

	resps, err := await(ctx, func() ([]SigResponse, error) {
		return d.wallet.GetSignatures(ctx, common.ByteSliceToPureHexStr(raw.Bytes()), reqs)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if len(resps) != len(reqs) {
		return nil, fmt.Errorf("%w: %d signatures for %d requests", ErrSignerRejected, len(resps), len(reqs))
	}

	sigs := make([]*sighash.Signature, 0, len(resps))
	for i, resp := range resps {
		sig, err := d.check(u, u.Requests[i], resp)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// check refuses any signature not made over exactly what was asked.
func (d *DirectSigner) check(u *assembler.UnsignedTx, req sighash.Request, resp SigResponse) (*sighash.Signature, error) {
	if resp.InputIndex != req.InputIndex {
		return nil, fmt.Errorf("%w: got input %d, asked for %d", ErrSignerRejected, resp.InputIndex, req.InputIndex)
	}
	raw, err := common.HexStrToBytes(resp.Sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}
	der, spec, err := sighash.SplitScriptSig(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}
	if spec != req.Spec || raw[len(raw)-1] != byte(req.Spec.HashType(d.engine.ForkID)) {
		logger.WithFields(logger.Fields{
			"input":     req.InputIndex,
			"requested": req.Spec.String(),
			"signed":    spec.String(),
		}).Warn("wallet changed sighash flags")
		return nil, fmt.Errorf("%w: input %d signed %s, asked for %s", ErrSignerRejected, req.InputIndex, spec, req.Spec)
	}
	pub, err := common.HexStrToBytes(resp.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}

	prev := u.PrevOuts[req.InputIndex]
	digest, err := d.engine.Digest(u.Tx, req.InputIndex, prev.PkScript, prev.Amount, req.Spec)
	if err != nil {
		return nil, err
	}
	sig := &sighash.Signature{InputIndex: req.InputIndex, DER: der, PubKey: pub, Spec: spec, Digest: digest}
	if err := sig.Verify(digest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}
	return sig, nil
}

// Provider holds a key and signs raw digests.
type Provider interface {
	PublicKey(ctx context.Context) ([]byte, error)
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// UTXOSource lists spendable outputs of an address.
type UTXOSource interface {
	GetPaymentUtxos(ctx context.Context, address string) ([]*utxo.UTXO, error)
}

// Implementation: provider-mediated signing.
type SDKSigner struct {
	provider Provider
	source   UTXOSource
	engine   *sighash.Engine
	params   *chaincfg.Params
}

func NewSDKSigner(provider Provider, source UTXOSource, engine *sighash.Engine, params *chaincfg.Params) *SDKSigner {
	return &SDKSigner{provider: provider, source: source, engine: engine, params: params}
}

func (s *SDKSigner) ChangeAddress(ctx context.Context) (string, error) {
	if s.provider == nil {
		return "", ErrSignerUnavailable
	}
	pub, err := await(ctx, func() ([]byte, error) { return s.provider.PublicKey(ctx) })
	if err != nil {
		return "", mapErr(err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), s.params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (s *SDKSigner) PaymentUTXOs(ctx context.Context) ([]*utxo.UTXO, error) {
	if s.source == nil {
		return nil, ErrSignerUnavailable
	}
	addr, err := s.ChangeAddress(ctx)
	if err != nil {
		return nil, err
	}
	return s.source.GetPaymentUtxos(ctx, addr)
}

func (s *SDKSigner) Sign(ctx context.Context, u *assembler.UnsignedTx) ([]*sighash.Signature, error) {
	if s.provider == nil {
		return nil, ErrSignerUnavailable
	}
	pub, err := await(ctx, func() ([]byte, error) { return s.provider.PublicKey(ctx) })
	if err != nil {
		return nil, mapErr(err)
	}

	sigs := make([]*sighash.Signature, 0, len(u.Requests))
	for _, req := range u.Requests {
		prev := u.PrevOuts[req.InputIndex]
		digest, err := s.engine.Digest(u.Tx, req.InputIndex, prev.PkScript, prev.Amount, req.Spec)
		if err != nil {
			return nil, err
		}
		der, err := await(ctx, func() ([]byte, error) { return s.provider.SignDigest(ctx, digest) })
		if err != nil {
			return nil, mapErr(err)
		}
		sig := &sighash.Signature{InputIndex: req.InputIndex, DER: der, PubKey: pub, Spec: req.Spec, Digest: digest}
		if err := sig.Verify(digest); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignerRejected, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
