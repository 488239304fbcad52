// Package commands contains the functionality for the set of admin commands.
package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
)

// Balances prints the balance of the specified account, or of every account
// seen on the chain.
func Balances(args []string, ldg *ledger.Ledger) error {
	tip, exists := ldg.Tip()
	if !exists {
		return errors.New("the chain is empty")
	}

	fmt.Printf("LatestBlockHash: %s\n\n", tip.Hash)

	var accounts []database.AccountID
	switch len(args) {
	case 3:
		accountID, err := database.ToAccountID(args[2])
		if err != nil {
			return err
		}
		accounts = append(accounts, accountID)

	default:
		accounts = chainAccounts(ldg)
	}

	for _, accountID := range accounts {
		fmt.Printf("Account: %s  Balance: %d  Nonce: %d\n", accountID, ldg.BalanceOf(accountID), ldg.NextNonce(accountID))
	}

	return nil
}

// chainAccounts returns every account that appears in a committed block.
func chainAccounts(ldg *ledger.Ledger) []database.AccountID {
	set := make(map[database.AccountID]struct{})
	for _, block := range ldg.RecentBlocks(ldg.Height()) {
		set[block.Coinbase] = struct{}{}
		for _, tx := range block.Transactions {
			set[tx.Sender] = struct{}{}
			set[tx.Receiver] = struct{}{}
		}
	}

	accounts := make([]database.AccountID, 0, len(set))
	for accountID := range set {
		accounts = append(accounts, accountID)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	return accounts
}
