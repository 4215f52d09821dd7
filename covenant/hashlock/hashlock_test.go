package hashlock

import (
	"testing"

	"github.com/TEENet-io/covenant-go/commitreveal"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubKey(t *testing.T) []byte {
	k, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return k.PubKey().SerializeCompressed()
}

func TestRevealAndTimeout(t *testing.T) {
	owner, recipient := pubKey(t), pubKey(t)
	c, err := commitreveal.Commit([]byte("x"))
	require.NoError(t, err)
	s, err := New([]byte{txscript.OP_TRUE}, owner, 500, c.Public())
	require.NoError(t, err)
	assert.Equal(t, c.Digest, s.PublicData)

	env := covenant.Env{Params: &chaincfg.RegressionNetParams}

	_, err = HashLock{}.Apply(s, 1000, Reveal{Secret: []byte("y"), Salt: c.Salt, Recipient: recipient}, env)
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)
	assert.ErrorIs(t, err, commitreveal.ErrCommitmentMismatch)

	tr, err := HashLock{}.Apply(s, 1000, Reveal{Secret: []byte("x"), Salt: c.Salt, Recipient: recipient}, env)
	require.NoError(t, err)
	assert.True(t, tr.Terminal)
	assert.Equal(t, recipient, tr.Actor)

	_, err = HashLock{}.Apply(s, 1000, ClaimTimeout{}, env)
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)

	env.LockTime = 500
	tr, err = HashLock{}.Apply(s, 1000, ClaimTimeout{}, env)
	require.NoError(t, err)
	assert.Equal(t, owner, tr.Actor)
	assert.Equal(t, uint32(500), tr.LockTime)

	assert.True(t, HashLock{}.ReadsTime(ClaimTimeout{}))
	assert.False(t, HashLock{}.ReadsTime(Reveal{}))
}
