// Package counter is the smallest stateful contract: anyone may increment,
// only the owner may withdraw.
package counter

import (
	"fmt"

	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

const (
	FamilyName = "counter"
	Version    = uint32(1)

	methodIncrement = int64(0)
	methodWithdraw  = int64(1)
)

type Increment struct{}

func (Increment) Method() string { return "increment" }

type Withdraw struct{}

func (Withdraw) Method() string { return "withdraw" }

func New(template, owner []byte) (*covenant.ContractState, error) {
	if _, err := btcec.ParsePubKey(owner); err != nil {
		return nil, fmt.Errorf("owner key: %w", err)
	}
	return &covenant.ContractState{
		Family:          FamilyName,
		ScriptTemplate:  template,
		ConstructorArgs: [][]byte{owner},
		PublicData:      encode(0),
		PrecheckVersion: Version,
	}, nil
}

func encode(n uint64) []byte {
	data, _ := (&covenant.StateWriter{}).Uint64(n).Finish()
	return data
}

func Count(s *covenant.ContractState) (uint64, error) {
	r := covenant.NewStateReader(s.PublicData)
	n := r.Uint64()
	return n, r.Done()
}

type Counter struct{}

func (Counter) Name() string            { return FamilyName }
func (Counter) PrecheckVersion() uint32 { return Version }

func (Counter) Apply(cur *covenant.ContractState, value int64, act covenant.Action, env covenant.Env) (*covenant.Transition, error) {
	if len(cur.ConstructorArgs) != 1 {
		return nil, fmt.Errorf("%w: want owner", covenant.ErrMalformedState)
	}
	n, err := Count(cur)
	if err != nil {
		return nil, err
	}
	switch act.(type) {
	case Increment:
		return covenant.Continue(cur, encode(n+1), value)
	case Withdraw:
		owner := cur.ConstructorArgs[0]
		out, err := covenant.PayToPubKey(owner, value, env.Params)
		if err != nil {
			return nil, err
		}
		return &covenant.Transition{
			Payouts:  []*wire.TxOut{out},
			Spec:     sighash.SpecAnyoneCanPaySingle,
			Sequence: wire.MaxTxInSequenceNum,
			Actor:    owner,
			Terminal: true,
			Reason:   fmt.Sprintf("withdrawn at count %d", n),
		}, nil
	}
	return nil, covenant.Illegal("counter has no %s", act.Method())
}

func (Counter) EncodeAction(act covenant.Action) (int64, [][]byte, error) {
	switch act.(type) {
	case Increment:
		return methodIncrement, nil, nil
	case Withdraw:
		return methodWithdraw, nil, nil
	}
	return 0, nil, covenant.Illegal("cannot encode %T", act)
}

func (Counter) DecodeAction(method int64, args [][]byte) (covenant.Action, error) {
	if len(args) == 0 {
		switch method {
		case methodIncrement:
			return Increment{}, nil
		case methodWithdraw:
			return Withdraw{}, nil
		}
	}
	return nil, covenant.Illegal("unknown method %d/%d", method, len(args))
}
