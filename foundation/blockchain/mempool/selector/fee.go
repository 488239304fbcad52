package selector

import (
	"sort"

	"github.com/ledgerkit/node/foundation/blockchain/database"
)

// feeSelect returns transactions with the best fee while respecting the nonce
// for each sender.
var feeSelect = func(m map[database.AccountID][]database.Tx, howMany int) []database.Tx {
	if howMany == -1 {
		howMany = 0
		for _, txs := range m {
			howMany += len(txs)
		}
	}

	/*
		Bill: {Nonce: 2, Value: 5000, Fee: 250},
		      {Nonce: 1, Value: 3000, Fee: 150},
		Pavl: {Nonce: 2, Value: 4000, Fee: 200},
		      {Nonce: 1, Value: 1500, Fee: 75},
	*/

	// Sort the transactions per sender by nonce.
	for key := range m {
		if len(m[key]) > 1 {
			sort.Sort(byNonce(m[key]))
		}
	}

	// Pick the first transaction in the slice for each sender. Each iteration
	// represents a new row of selections. Keep doing that until all the
	// transactions have been selected.
	var rows [][]database.Tx
	for {
		var row []database.Tx
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		sort.Sort(byFee(row))
		rows = append(rows, row)
	}

	/*
		0: Bill: {Nonce: 1, Value: 3000, Fee: 150},
		0: Pavl: {Nonce: 1, Value: 1500, Fee: 75},
		1: Bill: {Nonce: 2, Value: 5000, Fee: 250},
		1: Pavl: {Nonce: 2, Value: 4000, Fee: 200},
	*/

	// Keep pulling transactions from each row until the amount requested is
	// fulfilled or there are no more transactions.
	final := []database.Tx{}
	for _, row := range rows {
		need := howMany - len(final)
		if len(row) >= need {
			final = append(final, row[:need]...)
			break
		}
		final = append(final, row...)
	}

	return final
}
