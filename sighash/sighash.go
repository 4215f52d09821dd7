/*
Package sighash computes the covenant transaction digest.

The preimage layout is the one covenant scripts re-build on-chain:

	version | hashPrevouts | hashSequence | outpoint | scriptCode |
	value | sequence | hashOutputs | locktime | sighash type

Each hash is a double SHA256. Flags decide which parts are zeroed:
AnyoneCanPay zeroes hashPrevouts and hashSequence, NONE and SINGLE zero
hashSequence, NONE zeroes hashOutputs and SINGLE hashes only the output at
the signing input's index.
*/
package sighash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrMalformedTransaction          = errors.New("malformed transaction")
	ErrUnsupportedSighashCombination = errors.New("unsupported sighash combination")
)

// Flag is the base sighash mode.
type Flag uint8

const (
	All    Flag = 0x01
	None   Flag = 0x02
	Single Flag = 0x03
)

const (
	anyoneCanPayBit = 0x80
	forkIDBit       = 0x40
	baseMask        = 0x1f
)

func (f Flag) String() string {
	switch f {
	case All:
		return "ALL"
	case None:
		return "NONE"
	case Single:
		return "SINGLE"
	default:
		return fmt.Sprintf("FLAG(0x%02x)", uint8(f))
	}
}

// Spec is a sighash flag combination.
type Spec struct {
	Flag         Flag
	AnyoneCanPay bool
}

var (
	SpecAll                = Spec{Flag: All}
	SpecAnyoneCanPaySingle = Spec{Flag: Single, AnyoneCanPay: true}
	SpecAnyoneCanPayAll    = Spec{Flag: All, AnyoneCanPay: true}
)

func (s Spec) String() string {
	if s.AnyoneCanPay {
		return s.Flag.String() + "|ANYONECANPAY"
	}
	return s.Flag.String()
}

func (s Spec) Valid() bool {
	return s.Flag == All || s.Flag == None || s.Flag == Single
}

// HashType is the sighash byte appended to signatures and written into the preimage.
func (s Spec) HashType(forkID bool) txscript.SigHashType {
	t := uint32(s.Flag)
	if s.AnyoneCanPay {
		t |= anyoneCanPayBit
	}
	if forkID {
		t |= forkIDBit
	}
	return txscript.SigHashType(t)
}

// SpecFromHashType decodes a sighash byte.
func SpecFromHashType(t byte) (Spec, error) {
	s := Spec{Flag: Flag(t & baseMask), AnyoneCanPay: t&anyoneCanPayBit != 0}
	if !s.Valid() {
		return Spec{}, fmt.Errorf("%w: sighash byte 0x%02x", ErrUnsupportedSighashCombination, t)
	}
	return s, nil
}

// Enforce rejects a requested spec that differs from the one a covenant
// script asserts. It runs before signing.
func Enforce(requested, required Spec) error {
	if !requested.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedSighashCombination, requested)
	}
	if requested != required {
		return fmt.Errorf("%w: covenant asserts %s, requested %s", ErrUnsupportedSighashCombination, required, requested)
	}
	return nil
}

// Engine computes preimages and digests.
// ForkID sets bit 0x40 in the sighash type, as replay-protected networks expect.
type Engine struct {
	ForkID bool
}

func NewEngine(forkID bool) *Engine {
	return &Engine{ForkID: forkID}
}

// Preimage serializes the digest preimage of input idx.
// prevScript and prevValue describe the output being spent by that input.
func (e *Engine) Preimage(tx *wire.MsgTx, idx int, prevScript []byte, prevValue int64, spec Spec) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil tx", ErrMalformedTransaction)
	}
	if !spec.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSighashCombination, spec)
	}
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: input %d out of range (%d inputs)", ErrMalformedTransaction, idx, len(tx.TxIn))
	}
	if len(prevScript) == 0 {
		return nil, fmt.Errorf("%w: missing prevout script for input %d", ErrMalformedTransaction, idx)
	}
	if prevValue < 0 {
		return nil, fmt.Errorf("%w: negative prevout value for input %d", ErrMalformedTransaction, idx)
	}
	// SINGLE without a matching output would sign the constant 1, never allow it.
	if spec.Flag == Single && idx >= len(tx.TxOut) {
		return nil, fmt.Errorf("%w: SINGLE on input %d without output %d", ErrMalformedTransaction, idx, idx)
	}

	var zero chainhash.Hash
	var buf bytes.Buffer
	var tmp4 [4]byte
	var tmp8 [8]byte

	binary.LittleEndian.PutUint32(tmp4[:], uint32(tx.Version))
	buf.Write(tmp4[:])

	if !spec.AnyoneCanPay {
		buf.Write(hashPrevouts(tx))
	} else {
		buf.Write(zero[:])
	}

	if !spec.AnyoneCanPay && spec.Flag == All {
		buf.Write(hashSequence(tx))
	} else {
		buf.Write(zero[:])
	}

	in := tx.TxIn[idx]
	buf.Write(in.PreviousOutPoint.Hash[:])
	binary.LittleEndian.PutUint32(tmp4[:], in.PreviousOutPoint.Index)
	buf.Write(tmp4[:])

	if err := wire.WriteVarBytes(&buf, 0, prevScript); err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint64(tmp8[:], uint64(prevValue))
	buf.Write(tmp8[:])
	binary.LittleEndian.PutUint32(tmp4[:], in.Sequence)
	buf.Write(tmp4[:])

	switch spec.Flag {
	case All:
		h, err := hashOutputs(tx.TxOut)
		if err != nil {
			return nil, err
		}
		buf.Write(h)
	case Single:
		h, err := hashOutputs(tx.TxOut[idx : idx+1])
		if err != nil {
			return nil, err
		}
		buf.Write(h)
	default:
		buf.Write(zero[:])
	}

	binary.LittleEndian.PutUint32(tmp4[:], tx.LockTime)
	buf.Write(tmp4[:])
	binary.LittleEndian.PutUint32(tmp4[:], uint32(spec.HashType(e.ForkID)))
	buf.Write(tmp4[:])

	return buf.Bytes(), nil
}

// Digest is the double SHA256 of the preimage.
func (e *Engine) Digest(tx *wire.MsgTx, idx int, prevScript []byte, prevValue int64, spec Spec) ([]byte, error) {
	preimage, err := e.Preimage(tx, idx, prevScript, prevValue, spec)
	if err != nil {
		return nil, err
	}
	return chainhash.DoubleHashB(preimage), nil
}

func hashPrevouts(tx *wire.MsgTx) []byte {
	var b bytes.Buffer
	var tmp4 [4]byte
	for _, in := range tx.TxIn {
		b.Write(in.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(tmp4[:], in.PreviousOutPoint.Index)
		b.Write(tmp4[:])
	}
	return chainhash.DoubleHashB(b.Bytes())
}

func hashSequence(tx *wire.MsgTx) []byte {
	var b bytes.Buffer
	var tmp4 [4]byte
	for _, in := range tx.TxIn {
		binary.LittleEndian.PutUint32(tmp4[:], in.Sequence)
		b.Write(tmp4[:])
	}
	return chainhash.DoubleHashB(b.Bytes())
}

func hashOutputs(outs []*wire.TxOut) ([]byte, error) {
	var b bytes.Buffer
	for _, out := range outs {
		if err := wire.WriteTxOut(&b, 0, 0, out); err != nil {
			return nil, err
		}
	}
	return chainhash.DoubleHashB(b.Bytes()), nil
}
