package covenant

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ContractState is everything needed to rebuild a contract's locking script.
//
// The locking script is laid out as
//
//	<template> <arg_1> ... <arg_n> OP_RETURN <public data> <pre-check version>
//
// The code part (template and constructor args) is fixed at deploy time.
// Only the public data changes from one state to the next.
type ContractState struct {
	Family          string
	ScriptTemplate  []byte
	ConstructorArgs [][]byte
	PublicData      []byte
	PrecheckVersion uint32
}

// WithData returns a copy of s carrying new public data.
func (s *ContractState) WithData(data []byte) *ContractState {
	next := s.Clone()
	next.PublicData = append([]byte{}, data...)
	return next
}

func (s *ContractState) Clone() *ContractState {
	if s == nil {
		return nil
	}
	args := make([][]byte, len(s.ConstructorArgs))
	for i, a := range s.ConstructorArgs {
		args[i] = append([]byte{}, a...)
	}
	return &ContractState{
		Family:          s.Family,
		ScriptTemplate:  append([]byte{}, s.ScriptTemplate...),
		ConstructorArgs: args,
		PublicData:      append([]byte{}, s.PublicData...),
		PrecheckVersion: s.PrecheckVersion,
	}
}

func (s *ContractState) Equal(o *ContractState) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Family != o.Family || s.PrecheckVersion != o.PrecheckVersion ||
		!bytes.Equal(s.ScriptTemplate, o.ScriptTemplate) || !bytes.Equal(s.PublicData, o.PublicData) ||
		len(s.ConstructorArgs) != len(o.ConstructorArgs) {
		return false
	}
	for i := range s.ConstructorArgs {
		if !bytes.Equal(s.ConstructorArgs[i], o.ConstructorArgs[i]) {
			return false
		}
	}
	return true
}

func (s *ContractState) codePart() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOps(s.ScriptTemplate)
	for _, arg := range s.ConstructorArgs {
		b.AddData(arg)
	}
	return b.Script()
}

// LockingScript renders the full locking script.
func (s *ContractState) LockingScript() ([]byte, error) {
	if len(s.ScriptTemplate) == 0 {
		return nil, fmt.Errorf("%w: empty script template", ErrMalformedState)
	}
	code, err := s.codePart()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	// data after OP_RETURN never executes, so it is pushed verbatim
	// rather than folded into small-int opcodes.
	script := append([]byte{}, code...)
	script = append(script, txscript.OP_RETURN)
	script = append(script, rawPush(s.PublicData)...)
	script = append(script, rawPush(Uint32LE(s.PrecheckVersion))...)
	return script, nil
}

// Output is the contract output carrying value.
func (s *ContractState) Output(value int64) (*wire.TxOut, error) {
	script, err := s.LockingScript()
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(value, script), nil
}

// ParseLockingScript recovers public data and the pre-check version from a
// script that must share s's code part.
func (s *ContractState) ParseLockingScript(script []byte) (*ContractState, error) {
	code, err := s.codePart()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if !bytes.HasPrefix(script, code) {
		return nil, fmt.Errorf("%w: code part differs", ErrMalformedState)
	}

	var pushes [][]byte
	sawReturn := false
	tokenizer := txscript.MakeScriptTokenizer(0, script[len(code):])
	for tokenizer.Next() {
		if !sawReturn {
			if tokenizer.Opcode() != txscript.OP_RETURN {
				return nil, fmt.Errorf("%w: expected OP_RETURN after code part", ErrMalformedState)
			}
			sawReturn = true
			continue
		}
		data, ok := pushedData(tokenizer.Opcode(), tokenizer.Data())
		if !ok {
			return nil, fmt.Errorf("%w: non-push opcode in data part", ErrMalformedState)
		}
		pushes = append(pushes, data)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if !sawReturn || len(pushes) != 2 {
		return nil, fmt.Errorf("%w: data part needs public data and version", ErrMalformedState)
	}
	version, err := ReadUint32LE(pushes[1])
	if err != nil {
		return nil, err
	}

	next := s.Clone()
	next.PublicData = append([]byte{}, pushes[0]...)
	next.PrecheckVersion = version
	return next, nil
}
