package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	btcrpc "github.com/TEENet-io/covenant-go/btcman/rpc"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/covenant/counter"
	"github.com/TEENet-io/covenant-go/handlestore"
)

const (
	priv_key_str = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"
	addr_str     = "mkVXZnqaaKt4puQNr4ovPHYg48mjguFCnT"
)

func writeArtifacts(t *testing.T, dir string) {
	for _, family := range []string{"tictactoe", "auction", "counter", "hashlock"} {
		body := "family: " + family + "\nprecheckVersion: 1\nhex: \"7551\"\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, family+".yaml"), []byte(body), 0o600))
	}
}

func testConfig(t *testing.T) *CovenantConfig {
	dir := t.TempDir()
	writeArtifacts(t, dir)
	return &CovenantConfig{
		BtcChainConfig:     "regtest",
		BtcCoreAccountPriv: priv_key_str,
		ForkID:             "false",
		DbFilePath:         filepath.Join(dir, "covenant.db"),
		HandleStore:        handlestore.BACKEND_SQLITE,
		ArtifactDir:        dir,
		SignerVariant:      SIGNER_SDK,
		FeeRate:            "1000",
		MaxRetries:         "2",
		FeeBumpPercent:     "25",
		MinConfirmations:   "1",
		ConfirmTimeout:     "5s",
	}
}

func newTestEngine(t *testing.T, cfg *CovenantConfig) (*Engine, *btcrpc.SimulatedChain) {
	chain := btcrpc.NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	chain.AutoMine = true
	_, err := chain.Fund(addr_str, 200000)
	require.NoError(t, err)

	e, err := NewEngineWithBackend(cfg, chain)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, chain
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covenant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("BTC_CHAIN_CONFIG: testnet\nMAX_RETRIES: 7\nDB_FILE_PATH: /tmp/x.db\n"), 0o600))
	t.Setenv(ENV_CONFIG_FILE_PATH, path)
	t.Setenv("DB_FILE_PATH", "/tmp/env.db")

	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.BtcChainConfig)
	assert.Equal(t, "7", cfg.MaxRetries)
	assert.Equal(t, "/tmp/env.db", cfg.DbFilePath)
	assert.Equal(t, SIGNER_SDK, cfg.SignerVariant)
	assert.Equal(t, defaultFeeBumpPercent, cfg.FeeBumpPercent)

	t.Setenv(ENV_CONFIG_FILE_PATH, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadConfig(viper.New())
	assert.Error(t, err)
}

func TestEngineRejectsBadConfig(t *testing.T) {
	chain := btcrpc.NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	for name, mutate := range map[string]func(*CovenantConfig){
		"chain":   func(c *CovenantConfig) { c.BtcChainConfig = "moon" },
		"retries": func(c *CovenantConfig) { c.MaxRetries = "many" },
		"timeout": func(c *CovenantConfig) { c.ConfirmTimeout = "soon" },
		"signer":  func(c *CovenantConfig) { c.SignerVariant = "carrier-pigeon" },
		"key":     func(c *CovenantConfig) { c.BtcCoreAccountPriv = "nope" },
		"bolt":    func(c *CovenantConfig) { c.HandleStore = handlestore.BACKEND_BOLT },
		"db":      func(c *CovenantConfig) { c.DbFilePath = "" },
	} {
		cfg := testConfig(t)
		mutate(cfg)
		_, err := NewEngineWithBackend(cfg, chain)
		assert.Error(t, err, name)
	}
}

func TestEngineCounterLifecycle(t *testing.T) {
	ctx := context.Background()
	e, chain := newTestEngine(t, testConfig(t))

	d, err := e.ParseDeployment(ctx, counter.FamilyName, []string{"10000", "self"})
	require.NoError(t, err)
	h, err := e.Orch.Deploy(ctx, d.Params("c1"))
	require.NoError(t, err)
	_, err = e.Orch.Await(ctx, h)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		act, err := e.ParseAction(counter.FamilyName, "increment", nil)
		require.NoError(t, err)
		_, err = e.Orch.Call(ctx, h, act)
		require.NoError(t, err)
		_, err = e.Orch.Await(ctx, h)
		require.NoError(t, err)
	}

	stored, err := e.Store.Load("c1")
	require.NoError(t, err)
	n, err := counter.Count(stored.State())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	act, err := e.ParseAction(counter.FamilyName, "withdraw", nil)
	require.NoError(t, err)
	txid, err := e.Orch.Settle(ctx, stored, act)
	require.NoError(t, err)
	_, ok := chain.Tx(txid)
	assert.True(t, ok)

	stored, err = e.Store.Load("c1")
	require.NoError(t, err)
	assert.Equal(t, covenant.StatusTerminal, stored.Status())

	// fee inputs went through the vault and are spent now
	usable, err := e.Vault.Usable()
	require.NoError(t, err)
	for _, u := range usable {
		assert.True(t, chain.Unspent(u.TxID, u.Vout), u.Key())
	}
}

func TestEngineHashLockRevealWithDirectSigner(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SignerVariant = SIGNER_DIRECT
	cfg.HandleStore = handlestore.BACKEND_BOLT
	cfg.BoltFilePath = filepath.Join(t.TempDir(), "handles.bolt")
	e, _ := newTestEngine(t, cfg)

	d, err := e.ParseDeployment(ctx, "hashlock", []string{"20000", "self", "500", "open sesame"})
	require.NoError(t, err)
	require.NotNil(t, d.Commitment)
	h, err := e.Orch.Deploy(ctx, d.Params(""))
	require.NoError(t, err)
	_, err = e.Orch.Await(ctx, h)
	require.NoError(t, err)

	salt := common.ByteSliceToPureHexStr(d.Commitment.Salt)
	wrong, err := e.ParseAction("hashlock", "reveal", []string{"open barley", salt, "self"})
	require.NoError(t, err)
	_, err = e.Orch.Settle(ctx, h, wrong)
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)

	right, err := e.ParseAction("hashlock", "reveal", []string{"open sesame", salt, "self"})
	require.NoError(t, err)
	_, err = e.Orch.Settle(ctx, h, right)
	require.NoError(t, err)
	assert.Equal(t, covenant.StatusTerminal, h.Status())
}

func TestParseErrors(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, testConfig(t))

	_, err := e.ParseDeployment(ctx, "chess", nil)
	assert.ErrorIs(t, err, covenant.ErrUnknownFamily)
	_, err = e.ParseDeployment(ctx, "tictactoe", []string{"1000"})
	assert.ErrorContains(t, err, "usage")
	_, err = e.ParseDeployment(ctx, "auction", []string{"self", "later", "100"})
	assert.Error(t, err)

	_, err = e.ParseAction("counter", "reset", nil)
	assert.ErrorIs(t, err, covenant.ErrIllegalTransition)
	_, err = e.ParseAction("tictactoe", "placeMove", []string{"0"})
	assert.ErrorContains(t, err, "usage")
	act, err := e.ParseAction("auction", "bid", []string{"self", "9000"})
	require.NoError(t, err)
	assert.Equal(t, "bid", act.Method())

	// an artifact compiled for other rules is refused
	require.NoError(t, os.WriteFile(filepath.Join(e.Config.ArtifactDir, "counter.yaml"),
		[]byte("family: counter\nprecheckVersion: 2\nhex: \"7551\"\n"), 0o600))
	_, err = e.Template(ctx, counter.FamilyName)
	assert.ErrorIs(t, err, covenant.ErrPrecheckVersion)
}

func TestServeStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.HttpIp = "127.0.0.1"
	cfg.HttpPort = "0"
	e, _ := newTestEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestEngineRestartReleasesInterruptedLockups(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	chain := btcrpc.NewSimulatedChain(&chaincfg.RegressionNetParams, 1000)
	chain.AutoMine = true
	_, err := chain.Fund(addr_str, 200000)
	require.NoError(t, err)

	e, err := NewEngineWithBackend(cfg, chain)
	require.NoError(t, err)
	require.NoError(t, e.SyncVault(ctx))
	balance, err := e.Vault.Balance()
	require.NoError(t, err)
	assert.Equal(t, int64(200000), balance)

	d, err := e.ParseDeployment(ctx, counter.FamilyName, []string{"10000", "self"})
	require.NoError(t, err)
	h, err := e.Orch.Deploy(ctx, d.Params("c1"))
	require.NoError(t, err)

	// a call that died between reserving fee inputs and broadcasting
	utxos, err := e.Signer.PaymentUTXOs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, utxos)
	require.NoError(t, e.Vault.Reserve(h.ID(), utxos[:1]))
	ok, err := e.Vault.IsUsable(utxos[0])
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, e.Close())

	e, err = NewEngineWithBackend(cfg, chain)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	ok, err = e.Vault.IsUsable(utxos[0])
	require.NoError(t, err)
	assert.True(t, ok)
}
