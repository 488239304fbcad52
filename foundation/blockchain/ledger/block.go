package ledger

import (
	"fmt"

	"github.com/ledgerkit/node/foundation/blockchain/database"
)

// AddBlock validates the sealed block against the consensus rules and, when
// it passes, commits it and evicts its transactions from the mempool.
func (l *Ledger) AddBlock(block database.Block) error {
	l.evHandler("ledger: AddBlock: started: parent[%s] block[%s] trans[%d]", short(block.ParentHash), block, len(block.Transactions))

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validate(block); err != nil {
		l.evHandler("ledger: AddBlock: ERROR: block[%s]: %s", block, err)
		return err
	}

	keys := make([]string, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		key, err := tx.Key()
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	height := uint64(len(l.blocks))
	if err := l.storage.Write(height, block, keys); err != nil {
		return fmt.Errorf("write block %d: %w", height, err)
	}

	l.apply(block)

	for _, tx := range block.Transactions {
		l.mempool.Delete(tx)
	}

	l.evHandler("ledger: AddBlock: completed: height[%d] block[%s] mempool[%d]", height, block, l.mempool.Count())

	return nil
}

// =============================================================================

// validate applies the consensus rules in order. The caller must hold the
// write lock or be the only goroutine with access to the ledger.
func (l *Ledger) validate(block database.Block) error {
	if !block.Sealed() {
		return database.ErrUnsealed
	}

	if err := block.Verify(); err != nil {
		return err
	}

	if _, exists := l.parents[block.ParentHash]; exists {
		return fmt.Errorf("%w: parent[%s]", database.ErrDuplicateBlock, short(block.ParentHash))
	}

	if tip := l.tipHash(); block.ParentHash != tip {
		return fmt.Errorf("%w: got %s, exp %s", database.ErrInvalidParent, short(block.ParentHash), short(tip))
	}

	if difficulty := l.difficulty(); !database.MeetsTarget(block.Hash, difficulty) {
		return fmt.Errorf("%w: block[%s] difficulty[%d]", database.ErrInsufficientWork, block, difficulty)
	}

	debits := make(map[database.AccountID]uint64)
	credits := make(map[database.AccountID]uint64)
	seen := make(map[string]struct{})

	for i, tx := range block.Transactions {
		available := l.balanceOf(tx.Sender) + credits[tx.Sender] - debits[tx.Sender]
		cost := tx.Value + tx.Fee
		if cost < tx.Value || available < cost {
			return fmt.Errorf("tx[%d] %s: %w: balance %d, need %d", i, tx, database.ErrInsufficientFunds, available, cost)
		}

		if tx.Fee != database.FeeFor(tx.Value) {
			return fmt.Errorf("tx[%d] %s: %w: got %d, exp %d", i, tx, database.ErrInvalidFee, tx.Fee, database.FeeFor(tx.Value))
		}

		key, err := tx.Key()
		if err != nil {
			return err
		}

		_, committed := l.committed[key]
		_, repeated := seen[key]
		if committed || repeated {
			return fmt.Errorf("tx[%d] %s: %w", i, tx, database.ErrDuplicateTransaction)
		}
		seen[key] = struct{}{}

		debits[tx.Sender] += cost
		credits[tx.Receiver] += tx.Value
	}

	return nil
}

// apply appends the validated block to the in-memory chain.
func (l *Ledger) apply(block database.Block) {
	l.byHash[block.Hash] = len(l.blocks)
	l.parents[block.ParentHash] = struct{}{}
	l.blocks = append(l.blocks, block)

	for _, tx := range block.Transactions {
		if key, err := tx.Key(); err == nil {
			l.committed[key] = struct{}{}
		}
	}

	l.balances.Flush()
}

// tipHash returns the hash of the most recent block or the empty string
// when the chain is empty.
func (l *Ledger) tipHash() string {
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
