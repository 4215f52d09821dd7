package auction

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

const deadline = uint32(800000)

func pubKey(t *testing.T) []byte {
	k, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return k.PubKey().SerializeCompressed()
}

func env(lockTime uint32) covenant.Env {
	return covenant.Env{Params: &chaincfg.RegressionNetParams, LockTime: lockTime}
}

func TestRaiseBid(t *testing.T) {
	auctioneer, bidder := pubKey(t), pubKey(t)
	s, err := New([]byte{txscript.OP_TRUE}, auctioneer, deadline, 1000)
	require.NoError(t, err)

	tr, err := Auction{}.Apply(s, 1000, RaiseBid{Bidder: bidder, Amount: 1500}, env(0))
	require.NoError(t, err)
	assert.Equal(t, sighash.SpecAnyoneCanPayAll, tr.Spec)
	assert.Equal(t, bidder, tr.Actor)
	assert.Equal(t, int64(1500), tr.NextValue)

	require.Len(t, tr.Payouts, 2)
	assert.Equal(t, int64(1500), tr.Payouts[0].Value)
	refund, err := covenant.PayToPubKey(auctioneer, 1000, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Equal(t, refund, tr.Payouts[1])

	bid, err := DecodeBid(tr.Next.PublicData)
	require.NoError(t, err)
	assert.Equal(t, bidder, bid.Bidder)
	assert.Equal(t, int64(1500), bid.Amount)
}

func TestBidMustExceedHighest(t *testing.T) {
	s, err := New([]byte{txscript.OP_TRUE}, pubKey(t), deadline, 1000)
	require.NoError(t, err)

	_, err = Auction{}.Apply(s, 1000, RaiseBid{Bidder: pubKey(t), Amount: 1000}, env(0))
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)

	// the deadline only gates close
	tr, err := Auction{}.Apply(s, 1000, RaiseBid{Bidder: pubKey(t), Amount: 2000}, env(deadline+100))
	require.NoError(t, err)
	assert.Zero(t, tr.LockTime)
	assert.False(t, Auction{}.ReadsTime(RaiseBid{}))
	assert.True(t, Auction{}.ReadsTime(Close{}))
}

func TestClose(t *testing.T) {
	auctioneer := pubKey(t)
	s, err := New([]byte{txscript.OP_TRUE}, auctioneer, deadline, 1000)
	require.NoError(t, err)

	_, err = Auction{}.Apply(s, 1000, Close{}, env(deadline-1))
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)

	tr, err := Auction{}.Apply(s, 1000, Close{}, env(deadline))
	require.NoError(t, err)
	assert.True(t, tr.Terminal)
	assert.Equal(t, deadline, tr.LockTime)
	assert.Equal(t, auctioneer, tr.Actor)
	assert.Less(t, tr.Sequence, uint32(0xffffffff))
}

func TestActionCodec(t *testing.T) {
	bidder := pubKey(t)
	for _, act := range []covenant.Action{RaiseBid{Bidder: bidder, Amount: 123456}, Close{}} {
		method, args, err := Auction{}.EncodeAction(act)
		require.NoError(t, err)
		got, err := Auction{}.DecodeAction(method, args)
		require.NoError(t, err)
		assert.Equal(t, act, got)
	}
}
