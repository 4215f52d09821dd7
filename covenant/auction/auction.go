// Package auction is an English auction. Each bid replaces the contract
// output with one holding the new bid and refunds the outbid bidder in the
// same transaction. After the deadline the auctioneer closes it and collects
// the highest bid.
//
// A lock time can only hold a spend back, never cut one off, so the deadline
// gates close and not bidding: bids stay valid until close confirms.
//
// Constructor args: auctioneer pubkey, deadline (uint32 LE lock time).
// Public data: highest bidder pubkey, highest bid.
package auction

import (
	"fmt"

	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

const (
	FamilyName = "auction"
	Version    = uint32(1)

	methodBid   = int64(0)
	methodClose = int64(1)
)

type Bid struct {
	Bidder []byte
	Amount int64
}

func (s *Bid) Encode() []byte {
	data, _ := (&covenant.StateWriter{}).Bytes(s.Bidder).Uint64(uint64(s.Amount)).Finish()
	return data
}

func DecodeBid(data []byte) (*Bid, error) {
	r := covenant.NewStateReader(data)
	b := &Bid{Bidder: r.Bytes(), Amount: int64(r.Uint64())}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return b, nil
}

type RaiseBid struct {
	Bidder []byte
	Amount int64
}

func (RaiseBid) Method() string { return "bid" }

type Close struct{}

func (Close) Method() string { return "close" }

// New opens an auction. The deploy value shall equal startingBid; the
// auctioneer holds the opening bid.
func New(template, auctioneer []byte, deadline uint32, startingBid int64) (*covenant.ContractState, error) {
	if _, err := btcec.ParsePubKey(auctioneer); err != nil {
		return nil, fmt.Errorf("auctioneer key: %w", err)
	}
	if startingBid <= 0 {
		return nil, fmt.Errorf("starting bid must be positive")
	}
	return &covenant.ContractState{
		Family:          FamilyName,
		ScriptTemplate:  template,
		ConstructorArgs: [][]byte{auctioneer, covenant.Uint32LE(deadline)},
		PublicData:      (&Bid{Bidder: auctioneer, Amount: startingBid}).Encode(),
		PrecheckVersion: Version,
	}, nil
}

type Auction struct{}

func (Auction) Name() string            { return FamilyName }
func (Auction) PrecheckVersion() uint32 { return Version }

func (Auction) ReadsTime(act covenant.Action) bool {
	_, ok := act.(Close)
	return ok
}

func (Auction) Apply(cur *covenant.ContractState, value int64, act covenant.Action, env covenant.Env) (*covenant.Transition, error) {
	if len(cur.ConstructorArgs) != 2 {
		return nil, fmt.Errorf("%w: want auctioneer and deadline", covenant.ErrMalformedState)
	}
	auctioneer := cur.ConstructorArgs[0]
	deadline, err := covenant.ReadUint32LE(cur.ConstructorArgs[1])
	if err != nil {
		return nil, err
	}
	highest, err := DecodeBid(cur.PublicData)
	if err != nil {
		return nil, err
	}

	switch a := act.(type) {
	case RaiseBid:
		if _, err := btcec.ParsePubKey(a.Bidder); err != nil {
			return nil, covenant.Illegal("bidder key: %v", err)
		}
		if a.Amount <= highest.Amount {
			return nil, covenant.Illegal("bid %d does not exceed %d", a.Amount, highest.Amount)
		}
		tr, err := covenant.Continue(cur, (&Bid{Bidder: a.Bidder, Amount: a.Amount}).Encode(), a.Amount)
		if err != nil {
			return nil, err
		}
		refund, err := covenant.PayToPubKey(highest.Bidder, value, env.Params)
		if err != nil {
			return nil, err
		}
		tr.Payouts = append(tr.Payouts, refund)
		tr.Spec = sighash.SpecAnyoneCanPayAll
		tr.Actor = a.Bidder
		return tr, nil

	case Close:
		if env.LockTime < deadline {
			return nil, covenant.Illegal("auction runs until %d", deadline)
		}
		out, err := covenant.PayToPubKey(auctioneer, value, env.Params)
		if err != nil {
			return nil, err
		}
		return &covenant.Transition{
			Payouts:  []*wire.TxOut{out},
			Spec:     sighash.SpecAnyoneCanPaySingle,
			LockTime: deadline,
			Sequence: wire.MaxTxInSequenceNum - 1,
			Actor:    auctioneer,
			Terminal: true,
			Reason:   fmt.Sprintf("won by %x at %d", highest.Bidder, highest.Amount),
		}, nil
	}
	return nil, covenant.Illegal("auction has no %s", act.Method())
}

func (Auction) EncodeAction(act covenant.Action) (int64, [][]byte, error) {
	switch a := act.(type) {
	case RaiseBid:
		if a.Amount <= 0 {
			return 0, nil, covenant.Illegal("bid must be positive")
		}
		return methodBid, [][]byte{a.Bidder, covenant.IntArg(uint64(a.Amount))}, nil
	case Close:
		return methodClose, nil, nil
	}
	return 0, nil, covenant.Illegal("cannot encode %T", act)
}

func (Auction) DecodeAction(method int64, args [][]byte) (covenant.Action, error) {
	switch {
	case method == methodBid && len(args) == 2:
		amount, err := covenant.ReadIntArg(args[1])
		if err != nil {
			return nil, err
		}
		return RaiseBid{Bidder: args[0], Amount: int64(amount)}, nil
	case method == methodClose && len(args) == 0:
		return Close{}, nil
	}
	return nil, covenant.Illegal("unknown method %d/%d", method, len(args))
}
