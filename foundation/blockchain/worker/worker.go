// Package worker implements the mining workflow and the transaction sharing
// for the node.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/miner"
	"github.com/ledgerkit/node/foundation/blockchain/network"
)

// DefaultInterval represents the time between two mining attempts.
const DefaultInterval = 15 * time.Second

// EventHandler defines a function that is called when events
// occur in the processing of the workflows.
type EventHandler func(v string, args ...any)

// Ledger is the behavior the worker needs from the ledger.
type Ledger interface {
	Height() int
	Tip() (database.Block, bool)
	Difficulty() int
	MempoolLength() int
	PickTransactions(howMany int) []database.Tx
	AddBlock(block database.Block) error
}

// Miner searches the nonce space of a block.
type Miner interface {
	Mine(ctx context.Context, block database.Block, coinbase database.AccountID, difficulty int) (miner.Result, error)
}

// Network is the behavior the worker needs from the peer node.
type Network interface {
	ID() string
	SendAll(msg network.Message, exclude ...string) int
}

// Config represents the configuration required to run the worker.
type Config struct {
	Ledger          Ledger
	Miner           Miner
	Network         Network
	Coinbase        database.AccountID
	Interval        time.Duration
	MaxTransactions int  // Largest number of transactions per block, zero means all.
	Mining          bool // When false only the transaction sharing runs.
	EvHandler       EventHandler
}

// =============================================================================

// Worker manages the mining and sharing workflows of the node.
type Worker struct {
	ledger    Ledger
	miner     Miner
	network   Network
	coinbase  database.AccountID
	howMany   int
	mining    bool
	evHandler EventHandler

	wg           sync.WaitGroup
	ticker       *time.Ticker
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan bool
	txSharing    chan database.Tx
}

// Run creates a worker and starts up all the background processes.
func Run(cfg Config) *Worker {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	howMany := cfg.MaxTransactions
	if howMany <= 0 {
		howMany = -1
	}

	w := Worker{
		ledger:       cfg.Ledger,
		miner:        cfg.Miner,
		network:      cfg.Network,
		coinbase:     cfg.Coinbase,
		howMany:      howMany,
		mining:       cfg.Mining,
		evHandler:    ev,
		ticker:       time.NewTicker(interval),
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan bool, 1),
		txSharing:    make(chan database.Tx, maxTxShareRequests),
	}

	// Load the set of operations we need to run.
	operations := []func(){
		w.shareTxOperations,
	}
	if w.mining {
		operations = append(operations, w.miningOperations)
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for _, op := range operations {
		go func() {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}()
	}

	for range g {
		<-hasStarted
	}

	return &w
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: signal cancel mining")
	w.SignalCancelMining()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	if !w.mining {
		return
	}

	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalCancelMining signals the G executing the runMiningOperation function
// to stop immediately.
func (w *Worker) SignalCancelMining() {
	select {
	case w.cancelMining <- true:
	default:
	}
	w.evHandler("worker: SignalCancelMining: MINING: CANCEL: signaled")
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
