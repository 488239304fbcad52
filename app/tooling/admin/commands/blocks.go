package commands

import (
	"fmt"
	"strconv"

	"github.com/ledgerkit/node/foundation/blockchain/ledger"
)

// Blocks prints the most recent blocks, newest first. The optional argument
// sets how many.
func Blocks(args []string, ldg *ledger.Ledger) error {
	n := ldg.Height()
	if len(args) == 3 {
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid count %q", args[2])
		}
		n = v
	}

	fmt.Printf("Height: %d  Difficulty: %d\n\n", ldg.Height(), ldg.Difficulty())

	for _, block := range ldg.RecentBlocks(n) {
		fmt.Printf("Hash: %s  Parent: %s  Timestamp: %d  Nonce: %d  Coinbase: %s  Trans: %d\n",
			block.Hash, block.ParentHash, block.Timestamp, block.Nonce, block.Coinbase.Short(), len(block.Transactions))
	}

	return nil
}

// Mempool prints the pending transactions.
func Mempool(ldg *ledger.Ledger) error {
	fmt.Printf("Pending: %d\n\n", ldg.MempoolLength())

	for tx := range ldg.Mempool() {
		fmt.Printf("Sender: %s  Receiver: %s  Value: %d  Fee: %d  Nonce: %d  Data: %s\n",
			tx.Sender.Short(), tx.Receiver.Short(), tx.Value, tx.Fee, tx.Nonce, tx.Data)
	}

	return nil
}
