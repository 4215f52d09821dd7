package tictactoe

import (
	"testing"

	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var template = []byte{txscript.OP_DROP, txscript.OP_TRUE}

func newGame(t *testing.T) (*covenant.ContractState, []byte, []byte) {
	a, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	b, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	alice, bob := a.PubKey().SerializeCompressed(), b.PubKey().SerializeCompressed()
	s, err := New(template, alice, bob)
	require.NoError(t, err)
	return s, alice, bob
}

func env() covenant.Env {
	return covenant.Env{Params: &chaincfg.RegressionNetParams}
}

func play(t *testing.T, s *covenant.ContractState, moves ...PlaceMove) (*covenant.ContractState, *covenant.Transition) {
	var tr *covenant.Transition
	var err error
	for _, m := range moves {
		require.NotNil(t, s, "game already over")
		tr, err = Game{}.Apply(s, 10000, m, env())
		require.NoError(t, err)
		s = tr.Next
	}
	return s, tr
}

func TestFirstMove(t *testing.T) {
	s, alice, _ := newGame(t)
	tr, err := Game{}.Apply(s, 10000, PlaceMove{Player: Alice, Cell: 0}, env())
	require.NoError(t, err)

	assert.False(t, tr.Terminal)
	assert.Equal(t, sighash.SpecAnyoneCanPaySingle, tr.Spec)
	assert.Equal(t, alice, tr.Actor)
	require.Len(t, tr.Payouts, 1)
	assert.Equal(t, int64(10000), tr.Payouts[0].Value)

	board, err := DecodeBoard(tr.Next.PublicData)
	require.NoError(t, err)
	assert.Equal(t, byte(1), board.Cells[0])
	assert.Equal(t, byte(Bob), board.Turn)

	script, err := tr.Next.LockingScript()
	require.NoError(t, err)
	assert.Equal(t, script, tr.Payouts[0].PkScript)
}

func TestIllegalMoves(t *testing.T) {
	s, _, _ := newGame(t)
	s, _ = play(t, s, PlaceMove{Player: Alice, Cell: 4})

	_, err := Game{}.Apply(s, 10000, PlaceMove{Player: Bob, Cell: 4}, env())
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)
	assert.Contains(t, err.Error(), "occupied")

	_, err = Game{}.Apply(s, 10000, PlaceMove{Player: Alice, Cell: 0}, env())
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)
	assert.Contains(t, err.Error(), "turn")

	_, err = Game{}.Apply(s, 10000, PlaceMove{Player: Bob, Cell: 9}, env())
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)

	_, err = Game{}.Apply(s, 10000, PlaceMove{Player: 2, Cell: 1}, env())
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)
}

func TestWinPaysWinner(t *testing.T) {
	s, alice, _ := newGame(t)
	_, tr := play(t, s,
		PlaceMove{Alice, 0}, PlaceMove{Bob, 3},
		PlaceMove{Alice, 1}, PlaceMove{Bob, 4},
		PlaceMove{Alice, 2},
	)
	require.True(t, tr.Terminal)
	assert.Nil(t, tr.Next)
	assert.Equal(t, alice, tr.Actor)
	require.Len(t, tr.Payouts, 1)

	want, err := covenant.PayToPubKey(alice, 10000, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Equal(t, want, tr.Payouts[0])
}

func TestDrawSplitsPot(t *testing.T) {
	s, alice, bob := newGame(t)
	// X O X / X O O / O X X
	_, tr := play(t, s,
		PlaceMove{Alice, 0}, PlaceMove{Bob, 1},
		PlaceMove{Alice, 2}, PlaceMove{Bob, 4},
		PlaceMove{Alice, 3}, PlaceMove{Bob, 5},
		PlaceMove{Alice, 7}, PlaceMove{Bob, 6},
		PlaceMove{Alice, 8},
	)
	require.True(t, tr.Terminal)
	assert.Equal(t, "draw", tr.Reason)
	assert.Equal(t, sighash.SpecAnyoneCanPayAll, tr.Spec)
	require.Len(t, tr.Payouts, 2)

	a, _ := covenant.PayToPubKey(alice, 5000, &chaincfg.RegressionNetParams)
	b, _ := covenant.PayToPubKey(bob, 5000, &chaincfg.RegressionNetParams)
	assert.Equal(t, a, tr.Payouts[0])
	assert.Equal(t, b, tr.Payouts[1])
}

func TestActionCodec(t *testing.T) {
	method, args, err := Game{}.EncodeAction(PlaceMove{Player: Bob, Cell: 8})
	require.NoError(t, err)
	act, err := Game{}.DecodeAction(method, args)
	require.NoError(t, err)
	assert.Equal(t, PlaceMove{Player: Bob, Cell: 8}, act)

	_, err = Game{}.DecodeAction(3, args)
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)
}
