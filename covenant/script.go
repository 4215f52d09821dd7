package covenant

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const maxSmallInt = 16

// Unlock is the unlocking script of a contract input:
//
//	<sig> <pubkey> <preimage> <arg_1> ... <arg_n> <n> <method>
type Unlock struct {
	Sig      []byte // DER || sighash byte
	PubKey   []byte
	Preimage []byte
	Args     [][]byte
	Method   int64
}

func (u *Unlock) Script() ([]byte, error) {
	if u.Method < 0 || u.Method > maxSmallInt || len(u.Args) > maxSmallInt {
		return nil, fmt.Errorf("%w: method %d with %d args", ErrMalformedState, u.Method, len(u.Args))
	}
	b := txscript.NewScriptBuilder().
		AddData(u.Sig).
		AddData(u.PubKey).
		AddOps(rawPush(u.Preimage))
	// args keep their exact bytes: a minimal push would turn {0x00} into
	// OP_0, which leaves an empty item on the stack
	for _, arg := range u.Args {
		b.AddOps(rawPush(arg))
	}
	return b.AddInt64(int64(len(u.Args))).AddInt64(u.Method).Script()
}

func ParseUnlock(script []byte) (*Unlock, error) {
	var pushes [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		data, ok := pushedData(tokenizer.Opcode(), tokenizer.Data())
		if !ok {
			return nil, fmt.Errorf("%w: unlocking script must be push only", ErrVerifyFailed)
		}
		pushes = append(pushes, data)
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if len(pushes) < 5 {
		return nil, fmt.Errorf("%w: unlocking script too short", ErrVerifyFailed)
	}

	method, err := smallInt(pushes[len(pushes)-1])
	if err != nil {
		return nil, err
	}
	n, err := smallInt(pushes[len(pushes)-2])
	if err != nil {
		return nil, err
	}
	if int(n) != len(pushes)-5 {
		return nil, fmt.Errorf("%w: arg count %d does not match %d pushes", ErrVerifyFailed, n, len(pushes)-5)
	}
	return &Unlock{
		Sig:      pushes[0],
		PubKey:   pushes[1],
		Preimage: pushes[2],
		Args:     pushes[3 : 3+n],
		Method:   method,
	}, nil
}

// EstimateUnlockSize sizes the unlocking script for fee estimation,
// assuming the largest DER signature.
func EstimateUnlockSize(lockingScript []byte, args [][]byte) int {
	preimage := 156 + wire.VarIntSerializeSize(uint64(len(lockingScript))) + len(lockingScript)
	size := 1 + 73 + 1 + 33 + pushSize(preimage) + preimage + 2
	for _, arg := range args {
		size += pushSize(len(arg)) + len(arg)
	}
	return size
}

func pushSize(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

// rawPush pushes data with an explicit length prefix.
func rawPush(data []byte) []byte {
	n := len(data)
	var out []byte
	switch {
	case n < txscript.OP_PUSHDATA1:
		out = append(out, byte(n))
	case n <= 0xff:
		out = append(out, txscript.OP_PUSHDATA1, byte(n))
	case n <= 0xffff:
		out = append(out, txscript.OP_PUSHDATA2, byte(n), byte(n>>8))
	default:
		out = append(out, txscript.OP_PUSHDATA4, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	}
	return append(out, data...)
}

// pushedData maps a push opcode to the bytes it leaves on the stack.
func pushedData(op byte, data []byte) ([]byte, bool) {
	switch {
	case op == txscript.OP_0:
		return []byte{}, true
	case op <= txscript.OP_PUSHDATA4:
		return append([]byte{}, data...), true
	case op == txscript.OP_1NEGATE:
		return []byte{0x81}, true
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return []byte{op - txscript.OP_1 + 1}, true
	default:
		return nil, false
	}
}

func smallInt(b []byte) (int64, error) {
	switch {
	case len(b) == 0:
		return 0, nil
	case len(b) == 1 && b[0] <= maxSmallInt:
		return int64(b[0]), nil
	default:
		return 0, fmt.Errorf("%w: expected small integer, got %x", ErrVerifyFailed, b)
	}
}

// IntArg encodes a non-negative integer argument in minimal little endian form.
func IntArg(v uint64) []byte {
	var out []byte
	for v > 0 {
		out = append(out, byte(v))
		v >>= 8
	}
	return out
}

func ReadIntArg(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("%w: integer argument of %d bytes", ErrMalformedState, len(b))
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}
