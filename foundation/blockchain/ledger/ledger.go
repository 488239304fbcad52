// Package ledger is the core API for the blockchain and implements all the
// consensus rules. It is the only component allowed to append blocks.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/genesis"
	"github.com/ledgerkit/node/foundation/blockchain/mempool"
	"github.com/ledgerkit/node/foundation/blockchain/mempool/selector"
	"github.com/patrickmn/go-cache"
)

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to construct the ledger.
type Config struct {
	Storage        database.Storage
	Genesis        genesis.Genesis
	SelectStrategy string
	EvHandler      EventHandler
}

// Ledger manages the committed chain, the mempool and the difficulty.
type Ledger struct {
	mu sync.RWMutex

	storage   database.Storage
	genesis   genesis.Genesis
	mempool   *mempool.Mempool
	evHandler EventHandler

	blocks    []database.Block
	byHash    map[string]int
	parents   map[string]struct{}
	committed map[string]struct{}
	balances  *cache.Cache
}

// New constructs a ledger and replays every block held in storage through
// the same validation gate used for new blocks.
func New(cfg Config) (*Ledger, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyNonce
	}

	mp, err := mempool.NewWithStrategy(strategy)
	if err != nil {
		return nil, err
	}

	gen := cfg.Genesis
	if gen.Difficulty == 0 {
		gen = genesis.Default()
	}

	l := Ledger{
		storage:   cfg.Storage,
		genesis:   gen,
		mempool:   mp,
		evHandler: ev,
		byHash:    make(map[string]int),
		parents:   make(map[string]struct{}),
		committed: make(map[string]struct{}),
		balances:  cache.New(cache.NoExpiration, 10*time.Minute),
	}

	iter := cfg.Storage.ForEach()
	for {
		block, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("replay block %d: %w", len(l.blocks), err)
		}

		if iter.Done() {
			break
		}

		if err := l.validate(block); err != nil {
			return nil, fmt.Errorf("stored block %d[%s]: %w", len(l.blocks), block, err)
		}

		l.apply(block)
	}

	pending, err := cfg.Storage.Mempool()
	if err != nil {
		return nil, err
	}

	for _, tx := range pending {
		if _, err := l.mempool.Add(tx); err != nil {
			return nil, err
		}
	}

	ev("ledger: New: loaded: blocks[%d] mempool[%d]", len(l.blocks), l.mempool.Count())

	return &l, nil
}

// Genesis returns the chain parameters.
func (l *Ledger) Genesis() genesis.Genesis {
	return l.genesis
}

// Close releases the underlying storage.
func (l *Ledger) Close() error {
	return l.storage.Close()
}
