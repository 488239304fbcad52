// Package storage implements the database.Storage contract on top of a
// leveldb key/value store. The relational schema (blocks, transactions,
// mempool) is laid out as key prefixes inside a single database.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Table prefixes.
var (
	prefixBlocks       = []byte{'B'} // B + height        -> blockRow
	prefixHashes       = []byte{'H'} // H + hash          -> height
	prefixTransactions = []byte{'T'} // T + height + index -> txRow
	prefixMempool      = []byte{'M'} // M + canonical tx  -> database.Tx
)

// blockRow is one row of the blocks table.
type blockRow struct {
	Hash       string             `json:"hash"`
	Nonce      uint64             `json:"nonce"`
	Coinbase   database.AccountID `json:"coinbase"`
	ParentHash string             `json:"parent_hash"`
	Timestamp  uint64             `json:"timestamp"`
}

// txRow is one row of the transactions table.
type txRow struct {
	database.Tx
	ParentBlock string `json:"parent_block"`
}

// =============================================================================

// Disk represents the serialization implementation for reading and storing
// the blockchain in leveldb. This implements the database.Storage interface.
type Disk struct {
	db *leveldb.DB
	mu sync.Mutex
}

// NewDisk opens, creating if needed, the leveldb database at the path.
func NewDisk(dbPath string) (*Disk, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	return &Disk{db: db}, nil
}

// NewMemory constructs a leveldb database held in memory. Nothing survives
// a Close.
func NewMemory() (*Disk, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}

	return &Disk{db: db}, nil
}

// Close releases the database.
func (d *Disk) Close() error {
	return d.db.Close()
}

// Write commits the block row, one row per transaction, and removes the
// mempool keys in a single batch.
func (d *Disk) Write(height uint64, block database.Block, mempoolKeys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	row := blockRow{
		Hash:       block.Hash,
		Nonce:      block.Nonce,
		Coinbase:   block.Coinbase,
		ParentHash: block.ParentHash,
		Timestamp:  block.Timestamp,
	}

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(height), data)
	batch.Put(append(prefixHashes, block.Hash...), heightBytes(height))

	for i, tx := range block.Transactions {
		data, err := json.Marshal(txRow{Tx: tx, ParentBlock: block.Hash})
		if err != nil {
			return err
		}
		batch.Put(txKey(height, uint32(i)), data)
	}

	for _, key := range mempoolKeys {
		batch.Delete(append(prefixMempool, key...))
	}

	return d.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// ForEach returns an iterator to walk through all the blocks starting with
// the genesis block.
func (d *Disk) ForEach() database.Iterator {
	return &DiskIterator{
		disk: d,
		iter: d.db.NewIterator(util.BytesPrefix(prefixBlocks), nil),
	}
}

// InsertMempool stores the transaction under its canonical key unless it is
// already present.
func (d *Disk) InsertMempool(key string, tx database.Tx) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := append(prefixMempool, key...)

	exists, err := d.db.Has(k, nil)
	if err != nil {
		return false, err
	}

	if exists {
		return false, nil
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return false, err
	}

	if err := d.db.Put(k, data, nil); err != nil {
		return false, err
	}

	return true, nil
}

// DeleteMempool removes the transaction stored under the key.
func (d *Disk) DeleteMempool(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.Delete(append(prefixMempool, key...), nil)
}

// Mempool returns all pending transactions in key order.
func (d *Disk) Mempool() ([]database.Tx, error) {
	iter := d.db.NewIterator(util.BytesPrefix(prefixMempool), nil)
	defer iter.Release()

	var txs []database.Tx
	for iter.Next() {
		var tx database.Tx
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			return nil, fmt.Errorf("decode mempool entry: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, iter.Error()
}

// FlushMempool deletes every pending transaction.
func (d *Disk) FlushMempool() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	iter := d.db.NewIterator(util.BytesPrefix(prefixMempool), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}

	if err := iter.Error(); err != nil {
		return err
	}

	return d.db.Write(batch, nil)
}

// transactions reads the transaction rows for the block at height.
func (d *Disk) transactions(height uint64) ([]database.Tx, error) {
	iter := d.db.NewIterator(util.BytesPrefix(txPrefix(height)), nil)
	defer iter.Release()

	txs := []database.Tx{}
	for iter.Next() {
		var row txRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, fmt.Errorf("decode transaction row: %w", err)
		}
		txs = append(txs, row.Tx)
	}

	return txs, iter.Error()
}

// =============================================================================

// DiskIterator represents the iteration implementation for walking through
// the blocks table. This implements the database.Iterator interface.
type DiskIterator struct {
	disk *Disk
	iter iterator.Iterator
	eoc  bool // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from the database.
func (di *DiskIterator) Next() (database.Block, error) {
	if di.eoc {
		return database.Block{}, errors.New("end of chain")
	}

	if !di.iter.Next() {
		di.eoc = true
		err := di.iter.Error()
		di.iter.Release()
		return database.Block{}, err
	}

	var row blockRow
	if err := json.Unmarshal(di.iter.Value(), &row); err != nil {
		return database.Block{}, fmt.Errorf("decode block row: %w", err)
	}

	height := binary.BigEndian.Uint64(di.iter.Key()[len(prefixBlocks):])

	txs, err := di.disk.transactions(height)
	if err != nil {
		return database.Block{}, err
	}

	block := database.Block{
		ParentHash:   row.ParentHash,
		Timestamp:    row.Timestamp,
		Transactions: txs,
		Hash:         row.Hash,
		Nonce:        row.Nonce,
		Coinbase:     row.Coinbase,
	}

	return block, nil
}

// Done returns the end of chain value.
func (di *DiskIterator) Done() bool {
	return di.eoc
}

// =============================================================================

func heightBytes(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}

func blockKey(height uint64) []byte {
	return append(append([]byte(nil), prefixBlocks...), heightBytes(height)...)
}

func txPrefix(height uint64) []byte {
	return append(append([]byte(nil), prefixTransactions...), heightBytes(height)...)
}

func txKey(height uint64, index uint32) []byte {
	k := txPrefix(height)
	i := make([]byte, 4)
	binary.BigEndian.PutUint32(i, index)
	return append(k, i...)
}
