// Package orchestrator drives a contract from deploy through calls to
// settlement: build, sign, finalize, verify, broadcast, and retry
// broadcasts the network rejected with a fresh UTXO selection.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	"github.com/TEENet-io/covenant-go/btcman/rpc"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/handlestore"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/TEENet-io/covenant-go/signers"
)

const (
	OP_DEPLOY = "deploy"
	OP_CALL   = "call"
	OP_SETTLE = "settle"
)

// Network is where signed transactions go.
type Network interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
	// GetConfirmations is 0 for a mempool tx.
	GetConfirmations(ctx context.Context, txid string) (int64, error)
	BlockHeight(ctx context.Context) (int64, error)
}

// FeeRateSource gives relay fee guidance in satoshi per kB.
type FeeRateSource interface {
	FeeRate(ctx context.Context) (int64, error)
}

type Config struct {
	ChainConfig *chaincfg.Params

	// Fee rate used when the fee source is missing or lower, satoshi per kB
	DefaultFeeRate int64

	// Broadcast retries after the first attempt, negative counts as 0
	MaxRetries int

	// Fee rate increase after a fee-too-low rejection
	FeeBumpPercent int64

	// Confirmations Await waits for
	MinConfirmations int64

	// Await's polling interval
	PollInterval time.Duration

	// Timeout on waiting for confirmations, 0 waits for the caller's context
	ConfirmTimeout time.Duration
}

type Orchestrator struct {
	cfg      *Config
	registry *covenant.Registry
	builder  *assembler.Builder
	signer   signers.Capability // interface
	network  Network            // interface

	fees     FeeRateSource     // optional
	verifier covenant.Verifier // optional
	store    handlestore.Store // optional
}

func New(cfg *Config, registry *covenant.Registry, builder *assembler.Builder, signer signers.Capability, network Network) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Orchestrator{cfg: cfg, registry: registry, builder: builder, signer: signer, network: network}
}

func (o *Orchestrator) SetFeeRateSource(fees FeeRateSource) { o.fees = fees }

// SetVerifier makes every finalized transaction pass v before broadcast.
func (o *Orchestrator) SetVerifier(v covenant.Verifier) { o.verifier = v }

func (o *Orchestrator) SetStore(s handlestore.Store) { o.store = s }

// WithSigner returns an orchestrator sharing everything but the signer,
// for contracts whose parties take turns.
func (o *Orchestrator) WithSigner(signer signers.Capability) *Orchestrator {
	cp := *o
	cp.signer = signer
	return &cp
}

// Load resumes a persisted handle.
func (o *Orchestrator) Load(id string) (*covenant.Handle, error) {
	if o.store == nil {
		return nil, errors.New("no handle store configured")
	}
	return o.store.Load(id)
}

func (o *Orchestrator) save(h *covenant.Handle) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.Save(h); err != nil {
		logger.Errorf("failed to persist handle %s: err=%v", h.ID(), err)
		return fmt.Errorf("persist handle %s: %w", h.ID(), err)
	}
	return nil
}

type DeployParams struct {
	ID    string // random when empty
	State *covenant.ContractState
	Value int64 // satoshis locked in the contract output
}

// Deploy funds the initial contract output. The handle comes back active
// with an unconfirmed tip.
func (o *Orchestrator) Deploy(ctx context.Context, p DeployParams) (*covenant.Handle, error) {
	fam, err := o.registry.Get(p.State.Family)
	if err != nil {
		return nil, err
	}
	if fam.PrecheckVersion() != p.State.PrecheckVersion {
		return nil, fmt.Errorf("%w: state built for %d, pre-check is %d", covenant.ErrPrecheckVersion, p.State.PrecheckVersion, fam.PrecheckVersion())
	}
	if p.Value < o.builder.DustLimit {
		return nil, fmt.Errorf("%w: contract value %d below dust limit %d", assembler.ErrSlotPlanViolation, p.Value, o.builder.DustLimit)
	}
	if p.ID == "" {
		id, err := common.RandBytes(8)
		if err != nil {
			return nil, fmt.Errorf("handle id: %w", err)
		}
		p.ID = common.ByteSliceToPureHexStr(id)
	}

	h := covenant.NewHandle(p.ID, p.State)
	if err := h.BeginDeploy(); err != nil {
		return nil, err
	}
	out, err := p.State.Output(p.Value)
	if err != nil {
		return nil, err
	}

	hash, err := o.send(ctx, OP_DEPLOY, ErrDeploymentFailed, h.ID(), nil, &assembler.BuildRequest{
		Payouts: []*wire.TxOut{out},
		Owner:   h.ID(),
	})
	if err != nil {
		h.Abort()
		return nil, err
	}
	if err := h.Activate(*hash, out); err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{"handle": h.ID(), "family": p.State.Family, "txid": hash.String()}).Info("contract deployed")
	return h, o.save(h)
}

// Call advances the contract by act. A terminal act settles it.
func (o *Orchestrator) Call(ctx context.Context, h *covenant.Handle, act covenant.Action) (*covenant.Handle, error) {
	if _, err := o.advance(ctx, OP_CALL, h, act, false); err != nil {
		return nil, err
	}
	return h, o.save(h)
}

// Settle runs a terminal act and returns the settling txid.
func (o *Orchestrator) Settle(ctx context.Context, h *covenant.Handle, act covenant.Action) (string, error) {
	hash, err := o.advance(ctx, OP_SETTLE, h, act, true)
	if err != nil {
		return "", err
	}
	return hash.String(), o.save(h)
}

func (o *Orchestrator) advance(ctx context.Context, op string, h *covenant.Handle, act covenant.Action, mustSettle bool) (*chainhash.Hash, error) {
	// 1. Pre-check the action against the current state
	fam, err := o.registry.Get(h.State().Family)
	if err != nil {
		return nil, err
	}
	env := covenant.Env{Params: o.cfg.ChainConfig}
	if c, ok := fam.(covenant.Clocked); ok && c.ReadsTime(act) {
		height, err := o.network.BlockHeight(ctx)
		if err != nil {
			return nil, err
		}
		env.LockTime = uint32(height)
	}
	tr, err := h.Propose(fam, act, env)
	if err != nil {
		return nil, err
	}
	if mustSettle && !tr.Terminal {
		h.Abort()
		return nil, covenant.Illegal("%s does not settle %s", act.Method(), h.ID())
	}

	// 2. Describe the transaction
	method, args, err := fam.EncodeAction(act)
	if err != nil {
		h.Abort()
		return nil, err
	}
	cur := h.State()
	contract := h.UTXO()
	forkID := o.builder.Engine.ForkID
	req := &assembler.BuildRequest{
		Contract:           contract,
		RequiredSpec:       tr.Spec,
		ContractSigner:     tr.Actor,
		ContractUnlockSize: covenant.EstimateUnlockSize(contract.PkScript, args),
		Unlocker: func(sig *sighash.Signature, preimage []byte) ([]byte, error) {
			return (&covenant.Unlock{
				Sig:      sig.ScriptSig(forkID),
				PubKey:   sig.PubKey,
				Preimage: preimage,
				Args:     args,
				Method:   method,
			}).Script()
		},
		Payouts:  tr.Payouts,
		LockTime: tr.LockTime,
		Sequence: tr.Sequence,
		Owner:    h.ID(),
	}

	// 3. Get it on the network
	hash, err := o.send(ctx, op, ErrTransitionFailed, h.ID(), cur, req)
	if err != nil {
		h.Abort()
		return nil, err
	}

	// 4. Advance the handle
	if err := h.Commit(tr, *hash); err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{
		"handle":   h.ID(),
		"method":   act.Method(),
		"txid":     hash.String(),
		"terminal": tr.Terminal,
	}).Info("contract advanced")
	return hash, nil
}

func (o *Orchestrator) feePolicy(ctx context.Context) (utxo.FeePolicy, error) {
	change, err := o.signer.ChangeAddress(ctx)
	if err != nil {
		return utxo.FeePolicy{}, err
	}
	rate := o.cfg.DefaultFeeRate
	if o.fees != nil {
		r, err := o.fees.FeeRate(ctx)
		switch {
		case err != nil:
			logger.Debugf("no fee estimate, using %d sat/kB: err=%v", rate, err)
		case r > rate:
			rate = r
		}
	}
	return utxo.FeePolicy{SatoshisPerKb: rate, ChangeAddress: change}, nil
}

// send builds, signs and broadcasts base, retrying rejected broadcasts.
// Only broadcast rejections are retried; anything failing earlier is
// returned as is with the reservation released.
func (o *Orchestrator) send(ctx context.Context, op string, kind error, handleID string, cur *covenant.ContractState, base *assembler.BuildRequest) (*chainhash.Hash, error) {
	policy, err := o.feePolicy(ctx)
	if err != nil {
		return nil, err
	}

	attempts := o.cfg.MaxRetries + 1
	var last *rpc.BroadcastError
	for attempt := 1; attempt <= attempts; attempt++ {
		// 1. Fresh payment utxos every attempt
		candidates, err := o.signer.PaymentUTXOs(ctx)
		if err != nil {
			return nil, err
		}

		// 2. Lay out the tx and reserve fee inputs
		req := *base
		req.Policy = policy
		req.Candidates = candidates
		u, err := o.builder.Build(&req)
		if err != nil {
			return nil, err
		}

		// 3. Sign, finalize and check locally
		tx, err := o.sign(ctx, u, cur)
		if err != nil {
			u.Reservation.Release()
			return nil, err
		}

		// 4. Broadcast
		hash, err := o.network.Broadcast(ctx, tx)
		if err == nil {
			if err := u.Reservation.Commit(); err != nil {
				logger.Errorf("failed to mark fee utxos spent: txid=%s, err=%v", hash, err)
			}
			return hash, nil
		}
		u.Reservation.Release()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		last = rpc.ClassifyRejection(err)
		logger.WithFields(logger.Fields{
			"handle":  handleID,
			"op":      op,
			"attempt": attempt,
			"kind":    last.Kind.String(),
			"reason":  last.Reason,
			"feeRate": policy.SatoshisPerKb,
		}).Warn("broadcast rejected")
		if last.Kind == rpc.RejectFeeTooLow {
			policy = policy.Bumped(o.cfg.FeeBumpPercent)
		}
	}

	return nil, &FailedError{
		Op:       op,
		Kind:     kind,
		HandleID: handleID,
		Attempts: attempts,
		Reason:   last.Reason,
		Err:      last,
	}
}

func (o *Orchestrator) sign(ctx context.Context, u *assembler.UnsignedTx, cur *covenant.ContractState) (*wire.MsgTx, error) {
	sigs, err := o.signer.Sign(ctx, u)
	if err != nil {
		return nil, err
	}
	tx, err := o.builder.Finalize(u, sigs)
	if err != nil {
		return nil, err
	}
	if o.verifier != nil {
		if err := o.verifier.Verify(tx, cur, u.PrevOuts); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// Await polls until the handle's tip has MinConfirmations and marks it
// confirmed, which lets the next call through.
func (o *Orchestrator) Await(ctx context.Context, h *covenant.Handle) (int64, error) {
	tip := h.Tip()
	if tip == "" {
		return 0, fmt.Errorf("handle %s has nothing on chain", h.ID())
	}
	if o.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		n, err := o.network.GetConfirmations(ctx, tip)
		switch {
		case err == nil && n >= o.cfg.MinConfirmations:
			if err := h.MarkConfirmed(tip); err != nil {
				return n, err
			}
			return n, o.save(h)
		case err != nil && ctx.Err() == nil && !errors.Is(err, rpc.ErrTxNotFound):
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, tip, ctx.Err())
		case <-ticker.C:
		}
	}
}
