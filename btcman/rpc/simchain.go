package rpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/covenant-go/btcman/utxo"
)

type simTx struct {
	tx     *wire.MsgTx
	height int64 // 0 while in mempool
}

// SimulatedChain is an in-memory node with a mempool and a block counter.
// It checks spends and relay fees but not scripts.
type SimulatedChain struct {
	ChainConfig *chaincfg.Params
	// MinRelayFee in satoshi per kB
	MinRelayFee int64
	// Rate is what FeeRate reports
	Rate int64
	// AutoMine mines a block after every accepted tx
	AutoMine bool

	mu       sync.Mutex
	height   int64
	nonce    uint64
	unspent  map[string]*utxo.UTXO
	spentBy  map[string]string
	txs      map[string]*simTx
	failures []error
}

func NewSimulatedChain(params *chaincfg.Params, minRelayFee int64) *SimulatedChain {
	return &SimulatedChain{
		ChainConfig: params,
		MinRelayFee: minRelayFee,
		Rate:        minRelayFee,
		height:      1,
		unspent:     make(map[string]*utxo.UTXO),
		spentBy:     make(map[string]string),
		txs:         make(map[string]*simTx),
	}
}

// Fund creates a confirmed output of amount paying address.
func (c *SimulatedChain) Fund(address string, amount int64) (*utxo.UTXO, error) {
	addr, err := btcutil.DecodeAddress(address, c.ChainConfig)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nonce++
	tag := make([]byte, 8)
	binary.LittleEndian.PutUint64(tag, c.nonce)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), tag, nil))
	tx.AddTxOut(wire.NewTxOut(amount, pkScript))

	hash := tx.TxHash()
	c.txs[hash.String()] = &simTx{tx: tx, height: c.height}
	u := utxo.NewUTXO(hash, 0, tx.TxOut[0], ScriptType(pkScript))
	c.unspent[u.Key()] = u
	return u, nil
}

// InjectBroadcastFailure makes the next broadcast fail with err.
func (c *SimulatedChain) InjectBroadcastFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

func rejected(code btcjson.RPCErrorCode, format string, args ...interface{}) error {
	return ClassifyRejection(btcjson.NewRPCError(code, fmt.Sprintf(format, args...)))
}

func (c *SimulatedChain) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, ClassifyRejection(err)
	}

	hash := tx.TxHash()
	txid := hash.String()
	if _, ok := c.txs[txid]; ok {
		return &hash, nil
	}
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return nil, rejected(codeVerifyRejected, "bad-txns-vin-empty or vout-empty")
	}

	if !c.final(tx) {
		return nil, rejected(codeVerifyRejected, "non-final, lock time %d at height %d", tx.LockTime, c.height)
	}

	var in, out int64
	seen := make(map[string]bool, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		key := utxo.OutPointKey(txIn.PreviousOutPoint.Hash.String(), txIn.PreviousOutPoint.Index)
		if seen[key] {
			return nil, rejected(codeVerifyRejected, "bad-txns-inputs-duplicate")
		}
		seen[key] = true
		if by, ok := c.spentBy[key]; ok {
			return nil, rejected(codeVerifyRejected, "txn-mempool-conflict: input %d already spent by %s", i, by)
		}
		prev, ok := c.unspent[key]
		if !ok {
			return nil, rejected(codeVerifyError, "bad-txns-inputs-missingorspent: input %d", i)
		}
		if len(txIn.SignatureScript) == 0 {
			return nil, rejected(codeVerifyRejected, "mandatory-script-verify-flag-failed: input %d unsigned", i)
		}
		in += prev.Amount
	}
	for _, o := range tx.TxOut {
		out += o.Value
	}
	if in < out {
		return nil, rejected(codeVerifyRejected, "bad-txns-in-belowout, %d < %d", in, out)
	}
	minFee := c.MinRelayFee * int64(tx.SerializeSize()) / 1000
	if fee := in - out; fee < minFee {
		return nil, rejected(codeVerifyRejected, "min relay fee not met, %d < %d", fee, minFee)
	}

	for _, txIn := range tx.TxIn {
		key := utxo.OutPointKey(txIn.PreviousOutPoint.Hash.String(), txIn.PreviousOutPoint.Index)
		delete(c.unspent, key)
		c.spentBy[key] = txid
	}
	for i, o := range tx.TxOut {
		u := utxo.NewUTXO(hash, uint32(i), o, ScriptType(o.PkScript))
		c.unspent[u.Key()] = u
	}
	c.txs[txid] = &simTx{tx: tx.Copy()}

	logger.WithFields(logger.Fields{"txid": txid, "fee": in - out}).Debug("sim chain accepted tx")
	if c.AutoMine {
		c.mine(1)
	}
	return &hash, nil
}

// final follows the consensus rule: a lock time below the next block
// height, or all sequences final.
func (c *SimulatedChain) final(tx *wire.MsgTx) bool {
	if tx.LockTime == 0 || int64(tx.LockTime) <= c.height {
		return true
	}
	for _, in := range tx.TxIn {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}

func (c *SimulatedChain) mine(n int) {
	for i := 0; i < n; i++ {
		c.height++
		for _, t := range c.txs {
			if t.height == 0 {
				t.height = c.height
			}
		}
	}
}

// Mine confirms the mempool and adds n blocks.
func (c *SimulatedChain) Mine(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mine(n)
}

func (c *SimulatedChain) BlockHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

func (c *SimulatedChain) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txs[txid]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	if t.height == 0 {
		return 0, nil
	}
	return c.height - t.height + 1, nil
}

// GetPaymentUtxos lists unspent outputs of address, mempool included.
func (c *SimulatedChain) GetPaymentUtxos(ctx context.Context, address string) ([]*utxo.UTXO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(address, c.ChainConfig)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var res []*utxo.UTXO
	for _, u := range c.unspent {
		if string(u.PkScript) == string(pkScript) {
			cp := *u
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key() < res[j].Key() })
	return res, nil
}

func (c *SimulatedChain) FeeRate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Rate <= 0 {
		return 0, ErrNoFeeEstimate
	}
	return c.Rate, nil
}

// Tx returns a broadcast or funding tx by id.
func (c *SimulatedChain) Tx(txid string) (*wire.MsgTx, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txs[txid]
	if !ok {
		return nil, false
	}
	return t.tx.Copy(), true
}

// Unspent reports whether the outpoint is still spendable.
func (c *SimulatedChain) Unspent(txid string, vout uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unspent[utxo.OutPointKey(txid, vout)]
	return ok
}
