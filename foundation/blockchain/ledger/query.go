package ledger

import (
	"github.com/ledgerkit/node/foundation/blockchain/database"
)

// Record is a committed transaction together with the block holding it.
type Record struct {
	database.Tx
	Block string `json:"block"`
}

// =============================================================================

// Height returns the number of committed blocks.
func (l *Ledger) Height() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.blocks)
}

// Tip returns the most recent block. It returns false when the chain is
// empty.
func (l *Ledger) Tip() (database.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.blocks) == 0 {
		return database.Block{}, false
	}

	return l.blocks[len(l.blocks)-1], true
}

// BlockByHash returns the committed block with the specified hash.
func (l *Ledger) BlockByHash(hash string) (database.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, exists := l.byHash[hash]
	if !exists {
		return database.Block{}, database.ErrNotFound
	}

	return l.blocks[idx], nil
}

// RecentBlocks returns up to n of the most recent blocks, newest first.
func (l *Ledger) RecentBlocks(n int) []database.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n = min(max(n, 0), len(l.blocks))

	out := make([]database.Block, 0, n)
	for i := len(l.blocks) - 1; i >= len(l.blocks)-n; i-- {
		out = append(out, l.blocks[i])
	}

	return out
}

// History returns every committed transaction the account sent or received
// in commit order.
func (l *Ledger) History(account database.AccountID) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, block := range l.blocks {
		for _, tx := range block.Transactions {
			if tx.Sender == account || tx.Receiver == account {
				out = append(out, Record{Tx: tx, Block: block.Hash})
			}
		}
	}

	return out
}

// NextNonce returns the nonce the account should sign its next transaction
// with: the number of transactions it has committed or has pending.
func (l *Ledger) NextNonce(account database.AccountID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var nonce uint64
	for _, block := range l.blocks {
		for _, tx := range block.Transactions {
			if tx.Sender == account {
				nonce++
			}
		}
	}

	for tx := range l.mempool.Snapshot() {
		if tx.Sender == account {
			nonce++
		}
	}

	return nonce
}
