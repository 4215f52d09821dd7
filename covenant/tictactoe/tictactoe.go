// Package tictactoe is a two player game whose pot goes to the winner, or is
// split on a draw.
//
// Constructor args: alice pubkey, bob pubkey.
// Public data: turn (0 alice, 1 bob) followed by 9 cells (0 empty, 1 alice, 2 bob).
package tictactoe

import (
	"fmt"

	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

const (
	FamilyName = "tictactoe"
	Version    = uint32(1)

	Alice = 0
	Bob   = 1

	methodPlaceMove = int64(0)
)

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

type Board struct {
	Turn  byte
	Cells [9]byte
}

func (b *Board) Encode() []byte {
	data, _ := (&covenant.StateWriter{}).Byte(b.Turn).Fixed(b.Cells[:]).Finish()
	return data
}

func DecodeBoard(data []byte) (*Board, error) {
	r := covenant.NewStateReader(data)
	b := &Board{Turn: r.Byte()}
	copy(b.Cells[:], r.Fixed(9))
	if err := r.Done(); err != nil {
		return nil, err
	}
	if b.Turn > Bob {
		return nil, fmt.Errorf("%w: turn %d", covenant.ErrMalformedState, b.Turn)
	}
	return b, nil
}

func (b *Board) won(player int) bool {
	mark := byte(player + 1)
	for _, l := range lines {
		if b.Cells[l[0]] == mark && b.Cells[l[1]] == mark && b.Cells[l[2]] == mark {
			return true
		}
	}
	return false
}

func (b *Board) full() bool {
	for _, c := range b.Cells {
		if c == 0 {
			return false
		}
	}
	return true
}

type PlaceMove struct {
	Player int
	Cell   int
}

func (PlaceMove) Method() string { return "placeMove" }

// New is the initial state: empty board, alice to move.
func New(template, alice, bob []byte) (*covenant.ContractState, error) {
	for _, pub := range [][]byte{alice, bob} {
		if _, err := btcec.ParsePubKey(pub); err != nil {
			return nil, fmt.Errorf("player key: %w", err)
		}
	}
	return &covenant.ContractState{
		Family:          FamilyName,
		ScriptTemplate:  template,
		ConstructorArgs: [][]byte{alice, bob},
		PublicData:      (&Board{}).Encode(),
		PrecheckVersion: Version,
	}, nil
}

type Game struct{}

func (Game) Name() string            { return FamilyName }
func (Game) PrecheckVersion() uint32 { return Version }

func (Game) Apply(cur *covenant.ContractState, value int64, act covenant.Action, env covenant.Env) (*covenant.Transition, error) {
	move, ok := act.(PlaceMove)
	if !ok {
		return nil, covenant.Illegal("tictactoe has no %s", act.Method())
	}
	if len(cur.ConstructorArgs) != 2 {
		return nil, fmt.Errorf("%w: want 2 players", covenant.ErrMalformedState)
	}
	board, err := DecodeBoard(cur.PublicData)
	if err != nil {
		return nil, err
	}

	if move.Player != Alice && move.Player != Bob {
		return nil, covenant.Illegal("unknown player %d", move.Player)
	}
	if move.Cell < 0 || move.Cell >= len(board.Cells) {
		return nil, covenant.Illegal("cell %d out of range", move.Cell)
	}
	if board.Cells[move.Cell] != 0 {
		return nil, covenant.Illegal("cell %d occupied", move.Cell)
	}
	if int(board.Turn) != move.Player {
		return nil, covenant.Illegal("not player %d's turn", move.Player)
	}

	next := *board
	next.Cells[move.Cell] = byte(move.Player + 1)
	next.Turn = byte(1 - move.Player)
	actor := cur.ConstructorArgs[move.Player]

	switch {
	case next.won(move.Player):
		out, err := covenant.PayToPubKey(actor, value, env.Params)
		if err != nil {
			return nil, err
		}
		return &covenant.Transition{
			Payouts:  []*wire.TxOut{out},
			Spec:     sighash.SpecAnyoneCanPaySingle,
			Sequence: wire.MaxTxInSequenceNum,
			Actor:    actor,
			Terminal: true,
			Reason:   fmt.Sprintf("player %d wins", move.Player),
		}, nil

	case next.full():
		half := value / 2
		a, err := covenant.PayToPubKey(cur.ConstructorArgs[Alice], half, env.Params)
		if err != nil {
			return nil, err
		}
		b, err := covenant.PayToPubKey(cur.ConstructorArgs[Bob], value-half, env.Params)
		if err != nil {
			return nil, err
		}
		return &covenant.Transition{
			Payouts:  []*wire.TxOut{a, b},
			Spec:     sighash.SpecAnyoneCanPayAll,
			Sequence: wire.MaxTxInSequenceNum,
			Actor:    actor,
			Terminal: true,
			Reason:   "draw",
		}, nil
	}

	tr, err := covenant.Continue(cur, next.Encode(), value)
	if err != nil {
		return nil, err
	}
	tr.Actor = actor
	return tr, nil
}

func (Game) EncodeAction(act covenant.Action) (int64, [][]byte, error) {
	move, ok := act.(PlaceMove)
	if !ok || move.Player < 0 || move.Cell < 0 {
		return 0, nil, covenant.Illegal("cannot encode %T", act)
	}
	return methodPlaceMove, [][]byte{covenant.IntArg(uint64(move.Player)), covenant.IntArg(uint64(move.Cell))}, nil
}

func (Game) DecodeAction(method int64, args [][]byte) (covenant.Action, error) {
	if method != methodPlaceMove || len(args) != 2 {
		return nil, covenant.Illegal("unknown method %d/%d", method, len(args))
	}
	player, err := covenant.ReadIntArg(args[0])
	if err != nil {
		return nil, err
	}
	cell, err := covenant.ReadIntArg(args[1])
	if err != nil {
		return nil, err
	}
	return PlaceMove{Player: int(player), Cell: int(cell)}, nil
}
