package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/covenant-go/btcman/assembler"
	btcrpc "github.com/TEENet-io/covenant-go/btcman/rpc"
	"github.com/TEENet-io/covenant-go/btcman/utxo"
	"github.com/TEENet-io/covenant-go/btcvault"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/covenant/auction"
	"github.com/TEENet-io/covenant-go/covenant/counter"
	"github.com/TEENet-io/covenant-go/covenant/hashlock"
	"github.com/TEENet-io/covenant-go/covenant/tictactoe"
	"github.com/TEENet-io/covenant-go/handlestore"
	"github.com/TEENet-io/covenant-go/orchestrator"
	"github.com/TEENet-io/covenant-go/reporter"
	"github.com/TEENet-io/covenant-go/sighash"
	"github.com/TEENet-io/covenant-go/signers"
)

// Backend is everything the engine needs from the bitcoin network.
// Both btcrpc.RpcClient and btcrpc.SimulatedChain qualify.
type Backend interface {
	orchestrator.Network
	orchestrator.FeeRateSource
	signers.UTXOSource
}

// Engine holds the objects that make up the covenant engine.
type Engine struct {
	Config *CovenantConfig
	Params *chaincfg.Params

	Backend   Backend
	Rpc       *btcrpc.RpcClient // nil when running on a given backend
	Vault     *btcvault.TreasureVault
	Store     handlestore.Store
	Registry  *covenant.Registry
	Artifacts covenant.Compiler
	Provider  *signers.LocalProvider
	Signer    signers.Capability
	Orch      *orchestrator.Orchestrator

	closers []func() error
}

// NewEngine connects to the configured bitcoin node and wires the engine.
func NewEngine(cfg *CovenantConfig) (*Engine, error) {
	params, err := common.ChainParams(cfg.BtcChainConfig)
	if err != nil {
		return nil, err
	}
	r, err := SetupBtcRpc(cfg.BtcRpcServer, cfg.BtcRpcPort, cfg.BtcRpcUsername, cfg.BtcRpcPwd, params)
	if err != nil {
		return nil, err
	}
	e, err := NewEngineWithBackend(cfg, r)
	if err != nil {
		r.Close()
		return nil, err
	}
	e.Rpc = r
	e.closers = append(e.closers, func() error { r.Close(); return nil })
	return e, nil
}

// Shared Helper function. Create a btc rpc client.
func SetupBtcRpc(server, port, username, password string, params *chaincfg.Params) (*btcrpc.RpcClient, error) {
	r, err := btcrpc.NewRpcClient(&btcrpc.RpcClientConfig{
		ServerAddr:  server,
		Port:        port,
		Username:    username,
		Pwd:         password,
		ChainConfig: params,
		MinConf:     1,
	})
	if err != nil {
		logger.Errorf("failed to create btc rpc client: err=%v", err)
		return nil, err
	}
	return r, nil
}

// NewEngineWithBackend wires the engine over an existing network backend.
func NewEngineWithBackend(cfg *CovenantConfig, backend Backend) (*Engine, error) {
	params, err := common.ChainParams(cfg.BtcChainConfig)
	if err != nil {
		return nil, err
	}
	e := &Engine{Config: cfg, Params: params, Backend: backend}
	if err := e.wire(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) wire() error {
	cfg := e.Config

	// 0) knobs
	forkID, err := parseBool("FORK_ID", cfg.ForkID)
	if err != nil {
		return err
	}
	feeRate, err := parseInt("FEE_RATE_SAT_PER_KB", cfg.FeeRate)
	if err != nil {
		return err
	}
	dust, err := parseInt("DUST_LIMIT", cfg.DustLimit)
	if err != nil {
		return err
	}
	retries, err := parseInt("MAX_RETRIES", cfg.MaxRetries)
	if err != nil {
		return err
	}
	bump, err := parseInt("FEE_BUMP_PERCENT", cfg.FeeBumpPercent)
	if err != nil {
		return err
	}
	minConf, err := parseInt("MIN_CONFIRMATIONS", cfg.MinConfirmations)
	if err != nil {
		return err
	}
	var timeout time.Duration
	if cfg.ConfirmTimeout != "" {
		if timeout, err = time.ParseDuration(cfg.ConfirmTimeout); err != nil {
			return fmt.Errorf("CONFIRM_TIMEOUT: %w", err)
		}
	}
	if cfg.DbFilePath == "" {
		return errors.New("DB_FILE_PATH is not set")
	}

	// 1) the key paying fees and signing calls
	e.Provider, err = signers.NewLocalProvider(cfg.BtcCoreAccountPriv, e.Params)
	if err != nil {
		return fmt.Errorf("BTC_CORE_ACCOUNT_PRIV: %w", err)
	}
	address := e.Provider.Operator().P2PKH.EncodeAddress()

	// 2) a <UTXO vault> tracking reservations of that key's utxos
	vaultStorage, err := btcvault.NewVaultSQLiteStorage(cfg.DbFilePath, address)
	if err != nil {
		return fmt.Errorf("cannot create vault storage: %w", err)
	}
	e.closers = append(e.closers, vaultStorage.Close)
	e.Vault = btcvault.NewTreasureVault(address, vaultStorage)

	// 3) handle persistence
	storePath := cfg.DbFilePath
	if cfg.HandleStore == handlestore.BACKEND_BOLT {
		if cfg.BoltFilePath == "" {
			return errors.New("BOLT_FILE_PATH is not set")
		}
		storePath = cfg.BoltFilePath
	}
	e.Store, err = handlestore.Open(cfg.HandleStore, storePath)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, e.Store.Close)

	// 4) contract families and their compiled artifacts
	e.Registry = covenant.NewRegistry(tictactoe.Game{}, auction.Auction{}, counter.Counter{}, hashlock.HashLock{})
	e.Artifacts = covenant.ArtifactDir{Dir: cfg.ArtifactDir}

	// 5) signer
	engine := sighash.NewEngine(forkID)
	switch cfg.SignerVariant {
	case SIGNER_SDK, "":
		e.Signer = signers.NewSDKSigner(e.Provider, e.Backend, engine, e.Params)
	case SIGNER_DIRECT:
		wallet := signers.NewSimulatedWallet(e.Provider, engine, e.Backend, e.Backend)
		e.Signer = signers.NewDirectSigner(wallet, engine)
	default:
		return fmt.Errorf("unknown SIGNER_VARIANT %q", cfg.SignerVariant)
	}

	// 6) builder and orchestrator
	builder := assembler.NewBuilder(e.Params, utxo.NewSelector(e.Vault), engine, dust)
	e.Orch = orchestrator.New(&orchestrator.Config{
		ChainConfig:      e.Params,
		DefaultFeeRate:   feeRate,
		MaxRetries:       int(retries),
		FeeBumpPercent:   bump,
		MinConfirmations: minConf,
		PollInterval:     defaultPollInterval,
		ConfirmTimeout:   timeout,
	}, e.Registry, builder, e.Signer, e.Backend)
	e.Orch.SetFeeRateSource(e.Backend)
	e.Orch.SetVerifier(covenant.NewScriptChecker(engine, e.Registry, e.Params))
	e.Orch.SetStore(e.Store)

	// 7) nothing is in flight at start: lockups left by a crash mid-call are stale
	if err := e.releaseOrphanedLockups(); err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"address": address,
		"chain":   e.Params.Name,
		"signer":  cfg.SignerVariant,
		"store":   cfg.HandleStore,
		"forkId":  forkID,
	}).Info("covenant engine ready")
	return nil
}

func (e *Engine) releaseOrphanedLockups() error {
	handles, err := e.Store.List()
	if err != nil {
		return fmt.Errorf("list handles: %w", err)
	}
	for _, h := range handles {
		n, err := e.Vault.ReleaseByOwner(h.ID())
		if err != nil {
			return fmt.Errorf("release lockups of %s: %w", h.ID(), err)
		}
		if n > 0 {
			logger.WithFields(logger.Fields{"handle": h.ID(), "count": n}).Warn("released lockups left by an interrupted call")
		}
	}
	return nil
}

// SyncVault records the wallet's current payment utxos in the vault.
func (e *Engine) SyncVault(ctx context.Context) error {
	utxos, err := e.Signer.PaymentUTXOs(ctx)
	if err != nil {
		return err
	}
	n, err := e.Vault.Sync(utxos)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.WithField("count", n).Debug("vault picked up wallet utxos")
	}
	return nil
}

// Template loads the compiled script of family and checks it matches the
// pre-check compiled into this binary.
func (e *Engine) Template(ctx context.Context, family string) ([]byte, error) {
	fam, err := e.Registry.Get(family)
	if err != nil {
		return nil, err
	}
	art, err := e.Artifacts.Compile(ctx, family)
	if err != nil {
		return nil, err
	}
	if err := art.CheckFamily(fam); err != nil {
		return nil, err
	}
	return art.Template()
}

// Serve publishes handle status over http and expires stale utxo lockups
// until ctx is done.
func (e *Engine) Serve(ctx context.Context) error {
	rep := reporter.NewHttpReporter(e.Config.HttpIp, e.Config.HttpPort, e.Store, e.Vault)
	srv := &http.Server{
		Addr:    e.Config.HttpIp + ":" + e.Config.HttpPort,
		Handler: rep.SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.WithField("address", srv.Addr).Info("reporter listening")

	if err := e.SyncVault(ctx); err != nil {
		logger.Errorf("failed to sync vault: err=%v", err)
	}
	ticker := time.NewTicker(frequencyToExpireLocks)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			n, err := e.Vault.ReleaseByExpire()
			if err != nil {
				logger.Errorf("failed to expire utxo lockups: err=%v", err)
				continue
			}
			if n > 0 {
				logger.WithField("count", n).Info("released expired utxo lockups")
			}
			if err := e.SyncVault(ctx); err != nil {
				logger.Errorf("failed to sync vault: err=%v", err)
			}
		}
	}
}

// Close releases files and connections in reverse order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
