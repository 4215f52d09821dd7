/*
Package assembler lays out covenant transactions.

Every transaction built here follows one slot plan:

	input 0    the contract UTXO being spent (absent on deploy)
	input 1..  fee-paying wallet UTXOs
	output 0   the output the covenant checks (continuation or payout)
	output 1.. further payouts the transition demands
	last       change back to the wallet, omitted when below dust

The contract input is signed ANYONECANPAY|SINGLE (or |ALL when the covenant
pays several outputs), so fee inputs and change may be appended after the
covenant-relevant slots are fixed, without invalidating that signature.

Remember:
Always create the "lock" part firstly on Tx, then create the "unlock" part on Tx.
Otherwise the signatures cover the wrong outputs.
*/
package assembler

import (
	"errors"

	"github.com/TEENet-io/covenant-go/sighash"
)

var (
	ErrSlotPlanViolation = errors.New("slot plan violation")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// ContractUnlocker renders the unlocking script of the contract input
// from its signature and the preimage that signature commits to.
type ContractUnlocker func(sig *sighash.Signature, preimage []byte) ([]byte, error)
