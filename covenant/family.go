package covenant

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Action is a method call on a contract.
type Action interface {
	Method() string
}

// Env is the chain context a pre-check evaluates against.
type Env struct {
	Params *chaincfg.Params
	// LockTime is the time a pre-check runs at. Off chain it is the current
	// block height, filled in only for actions a Clocked family reads time
	// for. The verifier uses the transaction's lock time, the only notion of
	// time a covenant script can observe.
	LockTime uint32
}

// Transition is the outcome of a successful pre-check.
type Transition struct {
	Action Action

	// Next is nil for terminal transitions.
	Next      *ContractState
	NextValue int64

	// Payouts are placed at output 0 onward. When Next is set, output 0
	// is the continuation output carrying Next.
	Payouts []*wire.TxOut

	Spec     sighash.Spec
	LockTime uint32
	Sequence uint32

	// Actor is the public key the contract requires on its input.
	// Nil means any key may sign.
	Actor []byte

	Terminal bool
	Reason   string
}

// Family is the local pre-check of one contract type.
// Apply must return the same verdict the on-chain verifier reaches.
type Family interface {
	Name() string
	PrecheckVersion() uint32
	Apply(cur *ContractState, value int64, act Action, env Env) (*Transition, error)
	EncodeAction(act Action) (method int64, args [][]byte, err error)
	DecodeAction(method int64, args [][]byte) (Action, error)
}

// Clocked is implemented by families whose pre-check reads Env.LockTime.
// Actions it reports false for are checked without asking the network
// for the time.
type Clocked interface {
	ReadsTime(act Action) bool
}

// Continue builds the common non-terminal transition: the same code part,
// new public data, value carried in output 0.
func Continue(cur *ContractState, data []byte, value int64) (*Transition, error) {
	next := cur.WithData(data)
	out, err := next.Output(value)
	if err != nil {
		return nil, err
	}
	return &Transition{
		Next:      next,
		NextValue: value,
		Payouts:   []*wire.TxOut{out},
		Spec:      sighash.SpecAnyoneCanPaySingle,
		Sequence:  wire.MaxTxInSequenceNum,
	}, nil
}

// PayToPubKey is a P2PKH output paying amount to pub.
func PayToPubKey(pub []byte, amount int64, params *chaincfg.Params) (*wire.TxOut, error) {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), params)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(amount, script), nil
}

// Registry maps family names to their pre-checks.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Family
}

func NewRegistry(families ...Family) *Registry {
	r := &Registry{families: make(map[string]Family)}
	for _, f := range families {
		r.Register(f)
	}
	return r
}

func (r *Registry) Register(f Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[f.Name()] = f
}

func (r *Registry) Get(name string) (Family, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, name)
	}
	return f, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
