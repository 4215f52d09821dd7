package covenant

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type Status uint8

const (
	StatusDeployed Status = iota // built, contract output not yet broadcast
	StatusActive
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusDeployed:
		return "deployed"
	case StatusActive:
		return "active"
	case StatusTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Handle tracks one contract instance from deploy to settlement.
// At most one transition may be in flight; the next one can only be
// proposed once the previous transition is confirmed.
type Handle struct {
	mu sync.Mutex

	id          string
	status      Status
	state       *ContractState
	utxo        *utxo.UTXO
	lineage     []string
	unconfirmed bool
	reason      string

	inflight *Transition
}

// Snapshot is a read-only copy of a handle.
type Snapshot struct {
	ID          string
	Family      string
	Status      Status
	State       *ContractState
	UTXO        *utxo.UTXO
	Lineage     []string
	Unconfirmed bool
	Reason      string
}

func NewHandle(id string, initial *ContractState) *Handle {
	return &Handle{id: id, status: StatusDeployed, state: initial.Clone()}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	var u *utxo.UTXO
	if h.utxo != nil {
		cp := *h.utxo
		u = &cp
	}
	return Snapshot{
		ID:          h.id,
		Family:      h.state.Family,
		Status:      h.status,
		State:       h.state.Clone(),
		UTXO:        u,
		Lineage:     append([]string{}, h.lineage...),
		Unconfirmed: h.unconfirmed,
		Reason:      h.reason,
	}
}

func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) State() *ContractState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone()
}

// UTXO is the live contract output, nil unless the handle is active.
func (h *Handle) UTXO() *utxo.UTXO {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.utxo == nil {
		return nil
	}
	cp := *h.utxo
	return &cp
}

func (h *Handle) Tip() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.lineage) == 0 {
		return ""
	}
	return h.lineage[len(h.lineage)-1]
}

// BeginDeploy reserves the handle for its deploy transaction.
func (h *Handle) BeginDeploy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusDeployed {
		return Illegal("handle %s already %s", h.id, h.status)
	}
	if h.inflight != nil {
		return Illegal("deploy of %s already in flight", h.id)
	}
	h.inflight = &Transition{Next: h.state}
	return nil
}

// Activate records the broadcast deploy transaction.
func (h *Handle) Activate(txHash chainhash.Hash, out *wire.TxOut) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusDeployed {
		return Illegal("handle %s already %s", h.id, h.status)
	}
	h.status = StatusActive
	h.utxo = utxo.NewUTXO(txHash, 0, out, utxo.COVENANT_SCRIPT_T)
	h.lineage = append(h.lineage, txHash.String())
	h.unconfirmed = true
	h.inflight = nil
	return nil
}

// Propose runs the family pre-check for act against the current state and
// marks the resulting transition in flight.
func (h *Handle) Propose(f Family, act Action, env Env) (*Transition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.status == StatusTerminal:
		return nil, Illegal("handle %s is terminal", h.id)
	case h.status != StatusActive:
		return nil, Illegal("handle %s is not active", h.id)
	case h.inflight != nil:
		return nil, Illegal("handle %s has a transition in flight", h.id)
	case h.unconfirmed:
		return nil, Illegal("handle %s tip %s is unconfirmed", h.id, h.lineage[len(h.lineage)-1])
	}
	if f.Name() != h.state.Family {
		return nil, fmt.Errorf("%w: handle %s is %s, not %s", ErrUnknownFamily, h.id, h.state.Family, f.Name())
	}
	if f.PrecheckVersion() != h.state.PrecheckVersion {
		return nil, fmt.Errorf("%w: contract built for %d, pre-check is %d", ErrPrecheckVersion, h.state.PrecheckVersion, f.PrecheckVersion())
	}

	tr, err := f.Apply(h.state.Clone(), h.utxo.Amount, act, env)
	if err != nil {
		return nil, err
	}
	tr.Action = act
	if !tr.Terminal && tr.Next == nil {
		return nil, Illegal("non-terminal %s without next state", act.Method())
	}
	h.inflight = tr
	return tr, nil
}

// Abort drops the in-flight transition; state is untouched.
func (h *Handle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight = nil
}

// Commit advances the handle after tr was accepted by the network.
func (h *Handle) Commit(tr *Transition, txHash chainhash.Hash) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight == nil || h.inflight != tr {
		return Illegal("transition is not in flight on %s", h.id)
	}
	h.lineage = append(h.lineage, txHash.String())
	h.unconfirmed = true
	h.inflight = nil
	if tr.Terminal {
		h.status = StatusTerminal
		h.utxo = nil
		h.reason = tr.Reason
		return nil
	}
	h.state = tr.Next.Clone()
	h.utxo = utxo.NewUTXO(txHash, 0, tr.Payouts[0], utxo.COVENANT_SCRIPT_T)
	return nil
}

// MarkConfirmed clears the unconfirmed flag once txid is the confirmed tip.
func (h *Handle) MarkConfirmed(txid string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.lineage) == 0 || h.lineage[len(h.lineage)-1] != txid {
		return fmt.Errorf("%s is not the tip of %s", txid, h.id)
	}
	h.unconfirmed = false
	return nil
}

const handleEncodingVersion = 1

var errHandleEncoding = errors.New("bad handle encoding")

// MarshalBinary persists everything needed to resume the handle.
// An in-flight transition is not persisted.
func (h *Handle) MarshalBinary() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := &StateWriter{}
	w.Byte(handleEncodingVersion).
		Bytes([]byte(h.id)).
		Byte(byte(h.status)).
		Bytes([]byte(h.reason))
	if h.unconfirmed {
		w.Byte(1)
	} else {
		w.Byte(0)
	}

	s := h.state
	w.Bytes([]byte(s.Family)).Bytes(s.ScriptTemplate).Uint64(uint64(len(s.ConstructorArgs)))
	for _, a := range s.ConstructorArgs {
		w.Bytes(a)
	}
	w.Bytes(s.PublicData).Uint64(uint64(s.PrecheckVersion))

	if h.utxo == nil {
		w.Byte(0)
	} else {
		w.Byte(1).
			Fixed(h.utxo.TxHash[:]).
			Uint64(uint64(h.utxo.Vout)).
			Uint64(uint64(h.utxo.Amount)).
			Byte(byte(h.utxo.PkScriptT)).
			Bytes(h.utxo.PkScript)
	}

	w.Uint64(uint64(len(h.lineage)))
	for _, txid := range h.lineage {
		w.Bytes([]byte(txid))
	}
	return w.Finish()
}

func (h *Handle) UnmarshalBinary(data []byte) error {
	r := NewStateReader(data)
	if v := r.Byte(); v != handleEncodingVersion && r.err == nil {
		return fmt.Errorf("%w: version %d", errHandleEncoding, v)
	}
	id := string(r.Bytes())
	status := Status(r.Byte())
	reason := string(r.Bytes())
	unconfirmed := r.Byte() == 1

	s := &ContractState{Family: string(r.Bytes()), ScriptTemplate: r.Bytes()}
	nargs := r.Uint64()
	if nargs > maxSmallInt*4 {
		return fmt.Errorf("%w: %d constructor args", errHandleEncoding, nargs)
	}
	for i := uint64(0); i < nargs && r.err == nil; i++ {
		s.ConstructorArgs = append(s.ConstructorArgs, r.Bytes())
	}
	s.PublicData = r.Bytes()
	s.PrecheckVersion = uint32(r.Uint64())

	var u *utxo.UTXO
	if r.Byte() == 1 {
		var hash chainhash.Hash
		copy(hash[:], r.Fixed(chainhash.HashSize))
		vout := uint32(r.Uint64())
		amount := int64(r.Uint64())
		t := utxo.PubKeyScriptType(r.Byte())
		script := r.Bytes()
		u = utxo.NewUTXO(hash, vout, wire.NewTxOut(amount, script), t)
	}

	n := r.Uint64()
	var lineage []string
	for i := uint64(0); i < n && r.err == nil; i++ {
		lineage = append(lineage, string(r.Bytes()))
	}
	if err := r.Done(); err != nil {
		if errors.Is(r.err, io.EOF) || errors.Is(r.err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated", errHandleEncoding)
		}
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.id = id
	h.status = status
	h.reason = reason
	h.unconfirmed = unconfirmed
	h.state = s
	h.utxo = u
	h.lineage = lineage
	h.inflight = nil
	return nil
}

// DecodeHandle is a convenience around UnmarshalBinary.
func DecodeHandle(data []byte) (*Handle, error) {
	h := &Handle{}
	if err := h.UnmarshalBinary(bytes.Clone(data)); err != nil {
		return nil, err
	}
	return h, nil
}
