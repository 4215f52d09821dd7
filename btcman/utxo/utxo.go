/*
This file contains filter/select operations on UTXO.
*/
package utxo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	logger "github.com/sirupsen/logrus"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger tracks which wallet UTXOs are reserved by an in-flight
// transaction and which are already spent by this process.
type Ledger interface {
	// IsUsable reports whether the UTXO is neither reserved nor spent.
	IsUsable(u *UTXO) (bool, error)
	// Reserve marks the UTXOs as reserved by owner.
	Reserve(owner string, utxos []*UTXO) error
	// Release clears the reservation of the UTXOs.
	Release(utxos []*UTXO) error
	// MarkSpent records the UTXOs as consumed by a broadcast tx.
	MarkSpent(utxos []*UTXO) error
}

// FeeEstimator returns the fee a tx would pay if it carried n fee inputs.
type FeeEstimator func(nInputs int) int64

// Selector chooses fee-paying UTXOs for a transaction.
// Selected UTXOs are reserved until the caller reports success or failure.
type Selector struct {
	ledger Ledger
	mu     sync.Mutex // one selection at a time, so two builds never pick the same UTXO.
}

func NewSelector(ledger Ledger) *Selector {
	if ledger == nil {
		ledger = NewMemLedger()
	}
	return &Selector{ledger: ledger}
}

// Reservation is the outcome of a successful selection.
// Exactly one of Release or Commit shall be called.
type Reservation struct {
	UTXOs  []*UTXO
	Total  int64 // sum of the selected amounts
	Fee    int64 // estimated fee for len(UTXOs) inputs
	Owner  string
	ledger Ledger
	done   bool
	mu     sync.Mutex
}

// Release frees the reserved UTXOs (failure path).
func (r *Reservation) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	return r.ledger.Release(r.UTXOs)
}

// Commit marks the UTXOs as spent and frees the reservation (success path).
func (r *Reservation) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	if err := r.ledger.MarkSpent(r.UTXOs); err != nil {
		return err
	}
	return r.ledger.Release(r.UTXOs)
}

// Select picks the fewest candidate UTXOs whose total value covers
// target + estimated fee. Ties are broken by larger value first.
// The exclude list carries outpoints that must never be used as fee inputs,
// like the contract UTXO itself.
// target may be zero or negative when the contract input already over-funds
// the outputs; then zero inputs are selected if the surplus covers the fee.
func (s *Selector) Select(candidates []*UTXO, target int64, estimate FeeEstimator, owner string, exclude ...*UTXO) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		if e != nil {
			excluded[e.Key()] = struct{}{}
		}
	}

	var usable []*UTXO
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Amount <= 0 {
			continue
		}
		key := c.Key()
		if _, ok := excluded[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ok, err := s.ledger.IsUsable(c)
		if err != nil {
			return nil, err
		}
		if ok {
			usable = append(usable, c)
		}
	}

	// larger value first; txid/vout make the order deterministic.
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Amount != usable[j].Amount {
			return usable[i].Amount > usable[j].Amount
		}
		return usable[i].Key() < usable[j].Key()
	})

	// The k largest UTXOs are the best k-set, so the first k that
	// covers target + fee(k) is the minimum number of inputs.
	var sum int64
	for k := 0; k <= len(usable); k++ {
		if k > 0 {
			sum += usable[k-1].Amount
		}
		fee := estimate(k)
		if sum >= target+fee {
			picked := make([]*UTXO, k)
			copy(picked, usable[:k])
			if err := s.ledger.Reserve(owner, picked); err != nil {
				return nil, err
			}
			logger.WithFields(logger.Fields{
				"owner":  owner,
				"inputs": k,
				"total":  sum,
				"target": target,
				"fee":    fee,
			}).Debug("fee utxos reserved")
			return &Reservation{UTXOs: picked, Total: sum, Fee: fee, Owner: owner, ledger: s.ledger}, nil
		}
	}

	return nil, fmt.Errorf("%w: need %d + fee, have %d across %d usable utxos", ErrInsufficientFunds, target, sum, len(usable))
}

// MemLedger is the in-process Ledger.
type MemLedger struct {
	mu       sync.Mutex
	reserved map[string]string // key -> owner
	spent    map[string]struct{}
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		reserved: make(map[string]string),
		spent:    make(map[string]struct{}),
	}
}

func (m *MemLedger) IsUsable(u *UTXO) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := u.Key()
	if _, ok := m.reserved[key]; ok {
		return false, nil
	}
	if _, ok := m.spent[key]; ok {
		return false, nil
	}
	return true, nil
}

func (m *MemLedger) Reserve(owner string, utxos []*UTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range utxos {
		if prev, ok := m.reserved[u.Key()]; ok {
			return fmt.Errorf("utxo %s already reserved by %s", u.Key(), prev)
		}
	}
	for _, u := range utxos {
		m.reserved[u.Key()] = owner
	}
	return nil
}

func (m *MemLedger) Release(utxos []*UTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range utxos {
		delete(m.reserved, u.Key())
	}
	return nil
}

func (m *MemLedger) MarkSpent(utxos []*UTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range utxos {
		m.spent[u.Key()] = struct{}{}
	}
	return nil
}

// Reserved returns how many UTXOs are currently reserved.
func (m *MemLedger) Reserved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reserved)
}
