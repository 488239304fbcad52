package ledger

import (
	"fmt"
	"iter"

	"github.com/ledgerkit/node/foundation/blockchain/database"
)

// AddToMempool validates the transaction and adds it to the mempool. It
// reports false without an error when the identical transaction is already
// pending.
func (l *Ledger) AddToMempool(tx database.Tx) (bool, error) {
	if err := tx.Verify(); err != nil {
		return false, err
	}

	if tx.Fee != database.FeeFor(tx.Value) {
		return false, fmt.Errorf("%w: got %d, exp %d", database.ErrInvalidFee, tx.Fee, database.FeeFor(tx.Value))
	}

	key, err := tx.Key()
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.committed[key]; exists {
		return false, fmt.Errorf("tx %s: %w", tx, database.ErrDuplicateTransaction)
	}

	added, err := l.storage.InsertMempool(key, tx)
	if err != nil {
		return false, err
	}

	if !added {
		return false, nil
	}

	if _, err := l.mempool.Add(tx); err != nil {
		return false, err
	}

	l.evHandler("ledger: AddToMempool: tx[%s] mempool[%d]", tx, l.mempool.Count())

	return true, nil
}

// Mempool returns a restartable snapshot of the pending transactions. Later
// changes to the mempool are not visible through it.
func (l *Ledger) Mempool() iter.Seq[database.Tx] {
	return l.mempool.Snapshot()
}

// MempoolLength returns the current number of pending transactions.
func (l *Ledger) MempoolLength() int {
	return l.mempool.Count()
}

// FlushMempool discards every pending transaction.
func (l *Ledger) FlushMempool() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.storage.FlushMempool(); err != nil {
		return err
	}

	l.mempool.Truncate()

	l.evHandler("ledger: FlushMempool: completed")

	return nil
}

// PickTransactions returns the pending transactions for the next block in
// the order of the select strategy. Transactions the sender could not afford
// at that point of the block are skipped.
func (l *Ledger) PickTransactions(howMany int) []database.Tx {
	l.mu.RLock()
	defer l.mu.RUnlock()

	debits := make(map[database.AccountID]uint64)
	credits := make(map[database.AccountID]uint64)

	var picked []database.Tx
	for _, tx := range l.mempool.PickBest(-1) {
		if howMany >= 0 && len(picked) == howMany {
			break
		}

		if tx.Fee != database.FeeFor(tx.Value) {
			continue
		}

		available := l.balanceOf(tx.Sender) + credits[tx.Sender] - debits[tx.Sender]
		cost := tx.Value + tx.Fee
		if cost < tx.Value || available < cost {
			l.evHandler("ledger: PickTransactions: skip tx[%s]: balance %d, need %d", tx, available, cost)
			continue
		}

		debits[tx.Sender] += cost
		credits[tx.Receiver] += tx.Value
		picked = append(picked, tx)
	}

	return picked
}
