// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"iter"
	"sort"
	"sync"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/mempool/selector"
)

// Mempool represents a cache of pending transactions keyed by their
// canonical encoding, so the same signed transaction is held only once.
type Mempool struct {
	pool     map[string]database.Tx
	mu       sync.RWMutex
	selectFn selector.Func
}

// New constructs a new mempool using the default select strategy.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyNonce)
}

// NewWithStrategy constructs a new mempool with specified select strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]database.Tx),
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add inserts the transaction unless a transaction with the same canonical
// encoding is already present. It reports whether the pool changed.
func (mp *Mempool) Add(tx database.Tx) (bool, error) {
	key, err := tx.Key()
	if err != nil {
		return false, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[key]; exists {
		return false, nil
	}

	mp.pool[key] = tx

	return true, nil
}

// Contains reports whether the transaction is pending.
func (mp *Mempool) Contains(tx database.Tx) bool {
	key, err := tx.Key()
	if err != nil {
		return false
	}

	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[key]
	return exists
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.Tx) error {
	key, err := tx.Key()
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, key)

	return nil
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.Tx)
}

// Snapshot returns a sequence over a copy of the pending transactions taken
// at call time, ordered by canonical key. The sequence can be ranged over
// any number of times and is unaffected by later changes to the pool.
func (mp *Mempool) Snapshot() iter.Seq[database.Tx] {
	mp.mu.RLock()
	keys := make([]string, 0, len(mp.pool))
	for key := range mp.pool {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	txs := make([]database.Tx, len(keys))
	for i, key := range keys {
		txs[i] = mp.pool[key]
	}
	mp.mu.RUnlock()

	return func(yield func(database.Tx) bool) {
		for _, tx := range txs {
			if !yield(tx) {
				return
			}
		}
	}
}

// PickBest uses the configured select strategy to return the next set
// of transactions for the next block. Pass -1 for all the transactions.
func (mp *Mempool) PickBest(howMany int) []database.Tx {

	// Group the transactions by sender.
	m := make(map[database.AccountID][]database.Tx)
	mp.mu.RLock()
	{
		for _, tx := range mp.pool {
			m[tx.Sender] = append(m[tx.Sender], tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}
