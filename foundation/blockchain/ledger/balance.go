package ledger

import (
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/patrickmn/go-cache"
)

// BalanceOf returns the balance of the account derived by replaying every
// committed block: value and fee are debited from the sender, value is
// credited to the receiver, and the mining reward to each block's coinbase.
func (l *Ledger) BalanceOf(account database.AccountID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balanceOf(account)
}

// balanceOf performs the replay. Results are memoised until the next commit
// flushes the cache. The caller must hold a lock.
func (l *Ledger) balanceOf(account database.AccountID) uint64 {
	if v, found := l.balances.Get(string(account)); found {
		return v.(uint64)
	}

	var credit, debit uint64
	for _, block := range l.blocks {
		if block.Coinbase == account {
			credit += l.genesis.MiningReward
		}

		for _, tx := range block.Transactions {
			if tx.Sender == account {
				debit += tx.Value + tx.Fee
			}
			if tx.Receiver == account {
				credit += tx.Value
			}
		}
	}

	var balance uint64
	if credit > debit {
		balance = credit - debit
	}

	l.balances.Set(string(account), balance, cache.NoExpiration)

	return balance
}
