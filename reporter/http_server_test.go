package reporter

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/covenant/counter"
	"github.com/TEENet-io/covenant-go/handlestore"
)

type fixedBalance int64

func (b fixedBalance) Balance() (int64, error) { return int64(b), nil }

func storeWithHandles(t *testing.T) handlestore.Store {
	store, err := handlestore.Open(handlestore.BACKEND_SQLITE, filepath.Join(t.TempDir(), "handles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	state, err := counter.New([]byte{txscript.OP_DROP, txscript.OP_TRUE}, priv.PubKey().SerializeCompressed())
	require.NoError(t, err)

	active := covenant.NewHandle("c1", state)
	require.NoError(t, active.BeginDeploy())
	out, err := state.Output(5000)
	require.NoError(t, err)
	require.NoError(t, active.Activate(chainhash.DoubleHashH([]byte("deploy")), out))
	require.NoError(t, store.Save(active))
	require.NoError(t, store.Save(covenant.NewHandle("c2", state)))
	return store
}

func startReporter(t *testing.T, store handlestore.Store) *HttpReader {
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(NewHttpReporter("", "", store, fixedBalance(42)).SetupRouter())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return NewHttpReader(host, port)
}

func TestHello(t *testing.T) {
	hr := startReporter(t, storeWithHandles(t))
	msg, err := hr.GetHello()
	require.NoError(t, err)
	assert.Equal(t, "world", msg)
}

func TestHandleRoutes(t *testing.T) {
	hr := startReporter(t, storeWithHandles(t))

	v, err := hr.GetHandle("c1")
	require.NoError(t, err)
	assert.Equal(t, counter.FamilyName, v.Family)
	assert.Equal(t, "active", v.Status)
	assert.Equal(t, int64(5000), v.Value)
	assert.True(t, v.Unconfirmed)
	assert.Equal(t, chainhash.DoubleHashH([]byte("deploy")).String(), v.Tip)

	_, err = hr.GetHandle("missing")
	assert.ErrorContains(t, err, "404")

	all, err := hr.ListHandles("", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	deployed, err := hr.ListHandles(counter.FamilyName, "deployed")
	require.NoError(t, err)
	require.Len(t, deployed, 1)
	assert.Equal(t, "c2", deployed[0].ID)

	none, err := hr.ListHandles("auction", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBalanceRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewHttpReporter("", "", storeWithHandles(t), fixedBalance(42)).SetupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, ROUTE_BALANCE, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"satoshi":42,"btc":"0.00000042"}`, w.Body.String())

	bare := NewHttpReporter("", "", storeWithHandles(t), nil).SetupRouter()
	w = httptest.NewRecorder()
	bare.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
