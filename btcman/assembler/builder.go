package assembler

import (
	"bytes"
	"fmt"

	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"
)

// BuildRequest describes one covenant transaction.
type BuildRequest struct {
	// Contract is the contract UTXO spent at input 0, nil on deploy.
	Contract *utxo.UTXO
	// RequiredSpec is what the covenant asserts on its input.
	RequiredSpec sighash.Spec
	// RequestedSpec defaults to RequiredSpec. Anything else is rejected.
	RequestedSpec *sighash.Spec
	// ContractSigner is the key the covenant demands, nil for any key.
	ContractSigner []byte
	// ContractUnlockSize estimates the contract unlocking script for fee sizing.
	ContractUnlockSize int
	Unlocker           ContractUnlocker

	// Payouts go to output 0 onward, in order.
	Payouts  []*wire.TxOut
	LockTime uint32
	// Sequence of the contract input, 0 means final.
	Sequence uint32

	Policy     utxo.FeePolicy
	Candidates []*utxo.UTXO
	Owner      string // reservation owner, usually the handle id
}

// UnsignedTx is a laid out transaction waiting for signatures.
type UnsignedTx struct {
	Tx             *wire.MsgTx
	PrevOuts       []*utxo.UTXO // prevout of every input, same order as Tx.TxIn
	Requests       []sighash.Request
	ContractSigner []byte
	HasContract    bool
	NumPayouts     int
	HasChange      bool
	Fee            int64
	Reservation    *utxo.Reservation

	unlocker ContractUnlocker
	slot0    wire.TxOut
}

// Builder turns transitions into unsigned transactions.
type Builder struct {
	ChainConfig *chaincfg.Params
	Selector    *utxo.Selector
	Engine      *sighash.Engine
	DustLimit   int64
}

func NewBuilder(chainConfig *chaincfg.Params, selector *utxo.Selector, engine *sighash.Engine, dustLimit int64) *Builder {
	if dustLimit <= 0 {
		dustLimit = DefaultDustLimit
	}
	return &Builder{ChainConfig: chainConfig, Selector: selector, Engine: engine, DustLimit: dustLimit}
}

func (b *Builder) validate(req *BuildRequest) error {
	if len(req.Payouts) == 0 {
		return fmt.Errorf("%w: no output 0", ErrSlotPlanViolation)
	}
	for i, out := range req.Payouts {
		if out == nil || out.Value < 0 || len(out.PkScript) == 0 {
			return fmt.Errorf("%w: bad payout %d", ErrSlotPlanViolation, i)
		}
	}
	if req.Contract == nil {
		return nil
	}
	if len(req.Contract.PkScript) == 0 || req.Contract.Amount <= 0 {
		return fmt.Errorf("%w: contract utxo %s has no script or value", ErrSlotPlanViolation, req.Contract.Key())
	}
	if req.Unlocker == nil {
		return fmt.Errorf("%w: no contract unlocker", ErrSlotPlanViolation)
	}
	requested := req.RequiredSpec
	if req.RequestedSpec != nil {
		requested = *req.RequestedSpec
	}
	if err := sighash.Enforce(requested, req.RequiredSpec); err != nil {
		return err
	}
	if req.RequiredSpec.Flag == sighash.Single && len(req.Payouts) != 1 {
		return fmt.Errorf("%w: SINGLE covers exactly output 0, have %d payouts", sighash.ErrUnsupportedSighashCombination, len(req.Payouts))
	}
	return nil
}

// Build lays out inputs and outputs and reserves fee UTXOs.
// On error nothing stays reserved.
func (b *Builder) Build(req *BuildRequest) (*UnsignedTx, error) {
	if err := b.validate(req); err != nil {
		return nil, err
	}

	// change must be spendable as a fee input of the next call
	changeOut, err := PayToP2PKH(b.ChainConfig, req.Policy.ChangeAddress, 0)
	if err != nil {
		return nil, fmt.Errorf("change address: %w", err)
	}

	var totalOut, contractIn int64
	for _, out := range req.Payouts {
		totalOut += out.Value
	}
	if req.Contract != nil {
		contractIn = req.Contract.Amount
	}

	// fixed part: version, locktime, payouts, change and the contract input
	fixed := 4 + 4 + wire.VarIntSerializeSize(uint64(len(req.Payouts)+1)) + p2pkhOutputSize
	for _, out := range req.Payouts {
		fixed += outputSize(out)
	}
	if req.Contract != nil {
		fixed += inputSize(req.ContractUnlockSize)
	}
	estimate := func(n int) int64 {
		nIn := n
		if req.Contract != nil {
			nIn++
		}
		return req.Policy.FeeForSize(fixed + wire.VarIntSerializeSize(uint64(nIn)) + n*p2pkhInputSize)
	}

	res, err := b.Selector.Select(req.Candidates, totalOut-contractIn, estimate, req.Owner, req.Contract)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = req.LockTime
	var prevOuts []*utxo.UTXO
	var requests []sighash.Request

	if req.Contract != nil {
		in := wire.NewTxIn(wire.NewOutPoint(req.Contract.TxHash, req.Contract.Vout), nil, nil)
		if req.Sequence != 0 {
			in.Sequence = req.Sequence
		}
		tx.AddTxIn(in)
		prevOuts = append(prevOuts, req.Contract)
		requests = append(requests, sighash.Request{InputIndex: 0, Spec: req.RequiredSpec})
	}
	for _, u := range res.UTXOs {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(u.TxHash, u.Vout), nil, nil))
		prevOuts = append(prevOuts, u)
		// fee inputs sign last and see the whole tx
		requests = append(requests, sighash.Request{InputIndex: len(tx.TxIn) - 1, Spec: sighash.SpecAll})
	}

	for _, out := range req.Payouts {
		tx.AddTxOut(wire.NewTxOut(out.Value, append([]byte{}, out.PkScript...)))
	}

	change := contractIn + res.Total - totalOut - res.Fee
	if change < 0 {
		res.Release()
		return nil, fmt.Errorf("%w: change %d", utxo.ErrInsufficientFunds, change)
	}
	hasChange := change >= b.DustLimit
	fee := res.Fee
	if hasChange {
		tx.AddTxOut(wire.NewTxOut(change, changeOut.PkScript))
	} else {
		// sub-dust change goes to the miner
		fee += change
	}

	u := &UnsignedTx{
		Tx:             tx,
		PrevOuts:       prevOuts,
		Requests:       requests,
		ContractSigner: req.ContractSigner,
		HasContract:    req.Contract != nil,
		NumPayouts:     len(req.Payouts),
		HasChange:      hasChange,
		Fee:            fee,
		Reservation:    res,
		unlocker:       req.Unlocker,
		slot0:          *req.Payouts[0],
	}
	if err := CheckSlotPlan(u); err != nil {
		res.Release()
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"owner":   req.Owner,
		"inputs":  len(tx.TxIn),
		"outputs": len(tx.TxOut),
		"fee":     fee,
		"change":  hasChange,
	}).Debug("covenant tx laid out")
	return u, nil
}

// CheckSlotPlan verifies the layout of u.
func CheckSlotPlan(u *UnsignedTx) error {
	tx := u.Tx
	if len(tx.TxIn) != len(u.PrevOuts) {
		return fmt.Errorf("%w: %d inputs, %d prevouts", ErrSlotPlanViolation, len(tx.TxIn), len(u.PrevOuts))
	}
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint != u.PrevOuts[i].OutPoint() {
			return fmt.Errorf("%w: input %d does not spend %s", ErrSlotPlanViolation, i, u.PrevOuts[i].Key())
		}
	}
	if u.HasContract && u.PrevOuts[0].PkScriptT != utxo.COVENANT_SCRIPT_T {
		return fmt.Errorf("%w: input 0 is not the contract", ErrSlotPlanViolation)
	}
	for i := 1; i < len(u.PrevOuts); i++ {
		if u.HasContract && u.PrevOuts[i].Key() == u.PrevOuts[0].Key() {
			return fmt.Errorf("%w: contract utxo reused as fee input", ErrSlotPlanViolation)
		}
	}

	want := u.NumPayouts
	if u.HasChange {
		want++
	}
	if len(tx.TxOut) != want {
		return fmt.Errorf("%w: %d outputs, plan has %d", ErrSlotPlanViolation, len(tx.TxOut), want)
	}
	if tx.TxOut[0].Value != u.slot0.Value || !bytes.Equal(tx.TxOut[0].PkScript, u.slot0.PkScript) {
		return fmt.Errorf("%w: output 0 changed", ErrSlotPlanViolation)
	}
	return nil
}

// Finalize checks every signature against the digest of the transaction as
// it is now and assembles the unlocking scripts. The returned transaction is
// a copy; u is left untouched on error.
func (b *Builder) Finalize(u *UnsignedTx, sigs []*sighash.Signature) (*wire.MsgTx, error) {
	if len(u.Tx.TxIn) != len(u.PrevOuts) {
		return nil, fmt.Errorf("%w: %d inputs, %d prevouts", ErrSlotPlanViolation, len(u.Tx.TxIn), len(u.PrevOuts))
	}
	if len(sigs) != len(u.Requests) {
		return nil, fmt.Errorf("%w: %d signatures for %d inputs", ErrSignatureMismatch, len(sigs), len(u.Requests))
	}
	byInput := make(map[int]*sighash.Signature, len(sigs))
	for _, s := range sigs {
		if s == nil {
			return nil, fmt.Errorf("%w: nil signature", ErrSignatureMismatch)
		}
		byInput[s.InputIndex] = s
	}

	signed := u.Tx.Copy()
	for _, req := range u.Requests {
		sig, ok := byInput[req.InputIndex]
		if !ok {
			return nil, fmt.Errorf("%w: input %d unsigned", ErrSignatureMismatch, req.InputIndex)
		}
		if sig.Spec != req.Spec {
			return nil, fmt.Errorf("%w: input %d signed %s, plan says %s", ErrSignatureMismatch, req.InputIndex, sig.Spec, req.Spec)
		}
		prev := u.PrevOuts[req.InputIndex]
		preimage, err := b.Engine.Preimage(u.Tx, req.InputIndex, prev.PkScript, prev.Amount, req.Spec)
		if err != nil {
			return nil, err
		}
		if err := sig.Verify(chainhash.DoubleHashB(preimage)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}

		var script []byte
		if u.HasContract && req.InputIndex == 0 {
			if u.ContractSigner != nil && !bytes.Equal(u.ContractSigner, sig.PubKey) {
				return nil, fmt.Errorf("%w: contract input signed by %x, covenant wants %x", ErrSignatureMismatch, sig.PubKey, u.ContractSigner)
			}
			script, err = u.unlocker(sig, preimage)
		} else {
			script, err = txscript.NewScriptBuilder().
				AddData(sig.ScriptSig(b.Engine.ForkID)).
				AddData(sig.PubKey).
				Script()
		}
		if err != nil {
			return nil, err
		}
		signed.TxIn[req.InputIndex].SignatureScript = script
	}
	// signatures over a tampered layout fail above; this catches the rest.
	if err := CheckSlotPlan(u); err != nil {
		return nil, err
	}
	return signed, nil
}
