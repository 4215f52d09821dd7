// Package hashlock locks funds behind a commitment. Whoever reveals the
// committed secret and salt may send the funds to a recipient of their
// choice; after the lock time the owner can take them back.
//
// Constructor args: owner pubkey, lock until (uint32 LE), hash kind.
// Public data: the commitment digest.
package hashlock

import (
	"errors"
	"fmt"

	"github.com/TEENet-io/covenant-go/commitreveal"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

const (
	FamilyName = "hashlock"
	Version    = uint32(1)

	methodReveal  = int64(0)
	methodTimeout = int64(1)
)

type Reveal struct {
	Secret    []byte
	Salt      []byte
	Recipient []byte
}

func (Reveal) Method() string { return "reveal" }

type ClaimTimeout struct{}

func (ClaimTimeout) Method() string { return "claimTimeout" }

// New locks funds behind the public part of c.
func New(template, owner []byte, lockUntil uint32, c *commitreveal.Commitment) (*covenant.ContractState, error) {
	if _, err := btcec.ParsePubKey(owner); err != nil {
		return nil, fmt.Errorf("owner key: %w", err)
	}
	if _, err := commitreveal.Hash(c.Kind, nil); err != nil {
		return nil, err
	}
	return &covenant.ContractState{
		Family:          FamilyName,
		ScriptTemplate:  template,
		ConstructorArgs: [][]byte{owner, covenant.Uint32LE(lockUntil), {byte(c.Kind)}},
		PublicData:      append([]byte{}, c.Digest...),
		PrecheckVersion: Version,
	}, nil
}

type HashLock struct{}

func (HashLock) Name() string            { return FamilyName }
func (HashLock) PrecheckVersion() uint32 { return Version }

func (HashLock) ReadsTime(act covenant.Action) bool {
	_, ok := act.(ClaimTimeout)
	return ok
}

func (HashLock) Apply(cur *covenant.ContractState, value int64, act covenant.Action, env covenant.Env) (*covenant.Transition, error) {
	if len(cur.ConstructorArgs) != 3 || len(cur.ConstructorArgs[2]) != 1 {
		return nil, fmt.Errorf("%w: want owner, lock time and hash kind", covenant.ErrMalformedState)
	}
	owner := cur.ConstructorArgs[0]
	lockUntil, err := covenant.ReadUint32LE(cur.ConstructorArgs[1])
	if err != nil {
		return nil, err
	}
	kind := commitreveal.HashKind(cur.ConstructorArgs[2][0])

	switch a := act.(type) {
	case Reveal:
		if err := commitreveal.Verify(kind, cur.PublicData, a.Secret, a.Salt); err != nil {
			if errors.Is(err, commitreveal.ErrCommitmentMismatch) {
				return nil, fmt.Errorf("%w: %w", covenant.ErrIllegalTransition, err)
			}
			return nil, err
		}
		out, err := covenant.PayToPubKey(a.Recipient, value, env.Params)
		if err != nil {
			return nil, covenant.Illegal("recipient: %v", err)
		}
		return &covenant.Transition{
			Payouts:  []*wire.TxOut{out},
			Spec:     sighash.SpecAnyoneCanPaySingle,
			Sequence: wire.MaxTxInSequenceNum,
			Actor:    a.Recipient,
			Terminal: true,
			Reason:   "secret revealed",
		}, nil

	case ClaimTimeout:
		if env.LockTime < lockUntil {
			return nil, covenant.Illegal("locked until %d", lockUntil)
		}
		out, err := covenant.PayToPubKey(owner, value, env.Params)
		if err != nil {
			return nil, err
		}
		return &covenant.Transition{
			Payouts:  []*wire.TxOut{out},
			Spec:     sighash.SpecAnyoneCanPaySingle,
			LockTime: lockUntil,
			Sequence: wire.MaxTxInSequenceNum - 1,
			Actor:    owner,
			Terminal: true,
			Reason:   "timed out",
		}, nil
	}
	return nil, covenant.Illegal("hashlock has no %s", act.Method())
}

func (HashLock) EncodeAction(act covenant.Action) (int64, [][]byte, error) {
	switch a := act.(type) {
	case Reveal:
		return methodReveal, [][]byte{a.Secret, a.Salt, a.Recipient}, nil
	case ClaimTimeout:
		return methodTimeout, nil, nil
	}
	return 0, nil, covenant.Illegal("cannot encode %T", act)
}

func (HashLock) DecodeAction(method int64, args [][]byte) (covenant.Action, error) {
	switch {
	case method == methodReveal && len(args) == 3:
		return Reveal{Secret: args[0], Salt: args[1], Recipient: args[2]}, nil
	case method == methodTimeout && len(args) == 0:
		return ClaimTimeout{}, nil
	}
	return nil, covenant.Illegal("unknown method %d/%d", method, len(args))
}
