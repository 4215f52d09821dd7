package sighash

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Request asks for a signature on one input under one spec.
type Request struct {
	InputIndex int
	Spec       Spec
}

// Signature is bound to the exact digest computed for its input.
// It goes stale as soon as the parts of the tx covered by Spec change.
type Signature struct {
	InputIndex int
	DER        []byte // DER encoded, without the sighash byte
	PubKey     []byte // compressed public key of the signer
	Spec       Spec
	Digest     []byte // digest the signature was produced over
}

// ScriptSig returns DER || sighash byte, the form pushed in unlocking scripts.
func (s *Signature) ScriptSig(forkID bool) []byte {
	out := make([]byte, 0, len(s.DER)+1)
	out = append(out, s.DER...)
	return append(out, byte(s.Spec.HashType(forkID)))
}

// Verify checks the signature against digest and its own public key.
func (s *Signature) Verify(digest []byte) error {
	if !bytes.Equal(s.Digest, digest) {
		return fmt.Errorf("signature on input %d is bound to a different digest", s.InputIndex)
	}
	pub, err := btcec.ParsePubKey(s.PubKey)
	if err != nil {
		return fmt.Errorf("signature on input %d: %w", s.InputIndex, err)
	}
	sig, err := ecdsa.ParseDERSignature(s.DER)
	if err != nil {
		return fmt.Errorf("signature on input %d: %w", s.InputIndex, err)
	}
	if !sig.Verify(digest, pub) {
		return fmt.Errorf("signature on input %d does not verify", s.InputIndex)
	}
	return nil
}

// SplitScriptSig splits DER || sighash byte.
func SplitScriptSig(b []byte) ([]byte, Spec, error) {
	if len(b) < 2 {
		return nil, Spec{}, fmt.Errorf("%w: signature too short", ErrMalformedTransaction)
	}
	spec, err := SpecFromHashType(b[len(b)-1])
	if err != nil {
		return nil, Spec{}, err
	}
	return b[:len(b)-1], spec, nil
}
