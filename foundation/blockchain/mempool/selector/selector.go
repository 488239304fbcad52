// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"sort"

	"github.com/ledgerkit/node/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyNonce = "nonce"
	StrategyFee   = "fee"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyNonce: nonceSelect,
	StrategyFee:   feeSelect,
}

// Func defines a function that takes a mempool of transactions grouped by
// sender and selects howMany of them in an order based on the functions
// strategy. All selector functions MUST respect nonce ordering. Receiving -1
// for howMany must return all the transactions in the strategies ordering.
type Func func(transactions map[database.AccountID][]database.Tx, howMany int) []database.Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// nonceSelect returns the transactions ordered by sender and then by nonce.
var nonceSelect = func(m map[database.AccountID][]database.Tx, howMany int) []database.Tx {
	senders := make([]database.AccountID, 0, len(m))
	for sender := range m {
		senders = append(senders, sender)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })

	final := []database.Tx{}
	for _, sender := range senders {
		txs := m[sender]
		sort.Sort(byNonce(txs))

		for _, tx := range txs {
			if howMany != -1 && len(final) == howMany {
				return final
			}
			final = append(final, tx)
		}
	}

	return final
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []database.Tx

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing.
func (bn byNonce) Less(i, j int) bool {
	return bn[i].Nonce < bn[j].Nonce
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// byFee provides sorting support by the transaction fee value.
type byFee []database.Tx

// Len returns the number of transactions in the list.
func (bf byFee) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee in descending order to pick the
// transactions that provide the best reward. Ties keep a stable order by
// sender.
func (bf byFee) Less(i, j int) bool {
	if bf[i].Fee == bf[j].Fee {
		return bf[i].Sender < bf[j].Sender
	}
	return bf[i].Fee > bf[j].Fee
}

// Swap moves transactions in the order of the fee value.
func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
