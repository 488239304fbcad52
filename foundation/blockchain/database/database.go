// Package database provides the data model of the blockchain: accounts,
// signed transactions, sealed blocks, and the storage contract used to
// persist them.
package database

// Storage interface represents the behavior required to be implemented by any
// package providing support for persisting the blockchain. The ledger is the
// only writer.
type Storage interface {

	// Write commits the block at the specified height together with its
	// transactions, and removes the listed mempool keys, as one atomic unit.
	Write(height uint64, block Block, mempoolKeys []string) error

	// ForEach returns an iterator to walk through all committed blocks
	// starting with the genesis block.
	ForEach() Iterator

	// InsertMempool stores a pending transaction under its canonical key. It
	// reports false without error when the key is already present.
	InsertMempool(key string, tx Tx) (bool, error)

	// DeleteMempool removes a pending transaction.
	DeleteMempool(key string) error

	// Mempool returns every pending transaction in key order.
	Mempool() ([]Tx, error)

	// FlushMempool removes every pending transaction.
	FlushMempool() error

	Close() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (Block, error)
	Done() bool
}
