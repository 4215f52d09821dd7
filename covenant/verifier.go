package covenant

import (
	"bytes"
	"fmt"

	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Verifier stands for the on-chain script interpreter.
// prevOuts[i] is the output spent by tx.TxIn[i]; cur is the contract state
// locked in prevOuts[0], nil when tx spends no contract.
type Verifier interface {
	Verify(tx *wire.MsgTx, cur *ContractState, prevOuts []*utxo.UTXO) error
}

// ScriptChecker re-runs what a covenant script asserts:
// the pushed preimage is the real one (OP_PUSH_TX), the signature commits to
// it under the sighash flags the contract demands, and the outputs it covers
// are exactly the ones the family rules produce.
type ScriptChecker struct {
	Engine   *sighash.Engine
	Registry *Registry
	Params   *chaincfg.Params
}

func NewScriptChecker(engine *sighash.Engine, registry *Registry, params *chaincfg.Params) *ScriptChecker {
	return &ScriptChecker{Engine: engine, Registry: registry, Params: params}
}

func verifyFailed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrVerifyFailed, fmt.Sprintf(format, args...))
}

func (c *ScriptChecker) Verify(tx *wire.MsgTx, cur *ContractState, prevOuts []*utxo.UTXO) error {
	if tx == nil || len(tx.TxIn) != len(prevOuts) {
		return verifyFailed("prevouts do not match inputs")
	}
	first := 0
	if cur != nil {
		if err := c.verifyContract(tx, cur, prevOuts[0]); err != nil {
			return err
		}
		first = 1
	}
	for i := first; i < len(tx.TxIn); i++ {
		if err := c.verifyPayToPubKeyHash(tx, i, prevOuts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *ScriptChecker) verifyContract(tx *wire.MsgTx, cur *ContractState, prev *utxo.UTXO) error {
	locking, err := cur.LockingScript()
	if err != nil {
		return err
	}
	if !bytes.Equal(locking, prev.PkScript) {
		return verifyFailed("input 0 does not spend the contract")
	}
	if tx.TxIn[0].PreviousOutPoint != prev.OutPoint() {
		return verifyFailed("input 0 outpoint %s, contract is %s", tx.TxIn[0].PreviousOutPoint, prev.Key())
	}

	unlock, err := ParseUnlock(tx.TxIn[0].SignatureScript)
	if err != nil {
		return err
	}
	der, spec, err := sighash.SplitScriptSig(unlock.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if unlock.Sig[len(unlock.Sig)-1] != byte(spec.HashType(c.Engine.ForkID)) {
		return verifyFailed("sighash byte 0x%02x lacks the expected fork id setting", unlock.Sig[len(unlock.Sig)-1])
	}

	preimage, err := c.Engine.Preimage(tx, 0, locking, prev.Amount, spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if !bytes.Equal(preimage, unlock.Preimage) {
		return verifyFailed("pushed preimage is not the transaction preimage")
	}
	if err := checkSig(der, unlock.PubKey, chainhash.DoubleHashB(preimage)); err != nil {
		return err
	}

	fam, err := c.Registry.Get(cur.Family)
	if err != nil {
		return err
	}
	if fam.PrecheckVersion() != cur.PrecheckVersion {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, ErrPrecheckVersion)
	}
	act, err := fam.DecodeAction(unlock.Method, unlock.Args)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}
	tr, err := fam.Apply(cur.Clone(), prev.Amount, act, Env{Params: c.Params, LockTime: tx.LockTime})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}

	if err := sighash.Enforce(spec, tr.Spec); err != nil {
		return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}
	if tr.Actor != nil && !bytes.Equal(tr.Actor, unlock.PubKey) {
		return verifyFailed("%s must be signed by %x", act.Method(), tr.Actor)
	}

	covered := len(tr.Payouts)
	if spec.Flag == sighash.Single && covered != 1 {
		return verifyFailed("SINGLE covers one output, transition pays %d", covered)
	}
	if len(tx.TxOut) < covered {
		return verifyFailed("tx has %d outputs, transition pays %d", len(tx.TxOut), covered)
	}
	for i, want := range tr.Payouts {
		got := tx.TxOut[i]
		if got.Value != want.Value || !bytes.Equal(got.PkScript, want.PkScript) {
			return verifyFailed("output %d differs from the %s outcome", i, act.Method())
		}
	}

	if tr.LockTime > 0 {
		if tx.LockTime < tr.LockTime {
			return verifyFailed("lock time %d below %d", tx.LockTime, tr.LockTime)
		}
		if tx.TxIn[0].Sequence == wire.MaxTxInSequenceNum {
			return verifyFailed("lock time is not enforced with a final sequence")
		}
	}
	return nil
}

// verifyPayToPubKeyHash checks a fee input: <sig> <pubkey> against a P2PKH prevout.
func (c *ScriptChecker) verifyPayToPubKeyHash(tx *wire.MsgTx, idx int, prev *utxo.UTXO) error {
	var pushes [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, tx.TxIn[idx].SignatureScript)
	for tokenizer.Next() {
		pushes = append(pushes, tokenizer.Data())
	}
	if tokenizer.Err() != nil || len(pushes) != 2 {
		return verifyFailed("input %d: expected <sig> <pubkey>", idx)
	}
	want, err := PayToPubKey(pushes[1], prev.Amount, c.Params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if !bytes.Equal(want.PkScript, prev.PkScript) {
		return verifyFailed("input %d: public key does not hash to the prevout", idx)
	}
	der, spec, err := sighash.SplitScriptSig(pushes[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	digest, err := c.Engine.Digest(tx, idx, prev.PkScript, prev.Amount, spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if err := checkSig(der, pushes[1], digest); err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}
	return nil
}

func checkSig(der, pubKey, digest []byte) error {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if !sig.Verify(digest, pub) {
		return verifyFailed("signature does not verify")
	}
	return nil
}
