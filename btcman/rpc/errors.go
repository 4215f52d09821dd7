package rpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
)

var ErrBroadcastRejected = errors.New("broadcast rejected")

// bitcoind RPC_VERIFY_ERROR and RPC_VERIFY_REJECTED
const (
	codeVerifyError    btcjson.RPCErrorCode = -25
	codeVerifyRejected btcjson.RPCErrorCode = -26
)

type RejectKind int

const (
	RejectOther RejectKind = iota
	RejectFeeTooLow
	RejectDoubleSpend
	RejectPolicy
)

func (k RejectKind) String() string {
	switch k {
	case RejectFeeTooLow:
		return "fee-too-low"
	case RejectDoubleSpend:
		return "double-spend"
	case RejectPolicy:
		return "policy"
	default:
		return "other"
	}
}

// BroadcastError is a node refusing a transaction.
// It matches ErrBroadcastRejected with errors.Is.
type BroadcastError struct {
	Kind   RejectKind
	Reason string
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrBroadcastRejected, e.Kind, e.Reason)
}

func (e *BroadcastError) Is(target error) bool { return target == ErrBroadcastRejected }

func (e *BroadcastError) Unwrap() error { return e.Err }

var (
	feeTooLowReasons = []string{
		"min relay fee not met",
		"mempool min fee not met",
		"insufficient fee",
		"insufficient priority",
	}
	doubleSpendReasons = []string{
		"txn-mempool-conflict",
		"bad-txns-inputs-missingorspent",
		"missing-inputs",
		"missing inputs",
		"already spent",
	}
)

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ClassifyRejection maps a node error to a BroadcastError.
func ClassifyRejection(err error) *BroadcastError {
	var berr *BroadcastError
	if errors.As(err, &berr) {
		return berr
	}

	reason := err.Error()
	code := btcjson.RPCErrorCode(0)
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		reason = rpcErr.Message
		code = rpcErr.Code
	}
	lower := strings.ToLower(reason)

	kind := RejectOther
	switch {
	case containsAny(lower, feeTooLowReasons):
		kind = RejectFeeTooLow
	case containsAny(lower, doubleSpendReasons):
		kind = RejectDoubleSpend
	case code == codeVerifyRejected || code == codeVerifyError:
		kind = RejectPolicy
	}
	return &BroadcastError{Kind: kind, Reason: reason, Err: err}
}
