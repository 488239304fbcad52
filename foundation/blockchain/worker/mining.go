package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/network"
)

// ErrNoTransactions is returned when there is nothing pickable to mine.
var ErrNoTransactions = errors.New("no transactions to mine")

// miningOperations handles mining on every tick and on request.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation assembles a block on top of the current tip, searches
// for its nonce and commits and gossips it when found. An empty chain gets
// an empty genesis block.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	// Drain the cancel mining channel before starting.
	select {
	case <-w.cancelMining:
		w.evHandler("worker: runMiningOperation: MINING: drained cancel channel")
	default:
	}

	// Create a context so mining can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-ctx.Done():
		}
	}()

	// This G is performing the mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		block, err := w.mineNewBlock(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrNoTransactions):
				w.evHandler("worker: runMiningOperation: MINING: no transactions in mempool")
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
			return
		}

		// Propose the new block to the network. Log the error, but that's it.
		msg, err := network.NewMessage(network.TypeNewBlock, w.network.ID(), block)
		if err != nil {
			w.evHandler("worker: runMiningOperation: MINING: WARNING: %s", err)
			return
		}

		sent := w.network.SendAll(msg)
		w.evHandler("worker: runMiningOperation: MINING: block[%s] sent to %d peers", block, sent)
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}

// mineNewBlock builds, solves and commits the next block.
func (w *Worker) mineNewBlock(ctx context.Context) (database.Block, error) {
	var parent string
	var trans []database.Tx

	if tip, exists := w.ledger.Tip(); exists {
		trans = w.ledger.PickTransactions(w.howMany)
		if len(trans) == 0 {
			return database.Block{}, ErrNoTransactions
		}
		parent = tip.Hash
	}

	block := database.NewBlock(parent, uint64(time.Now().Unix()), trans)

	res, err := w.miner.Mine(ctx, block, w.coinbase, w.ledger.Difficulty())
	if err != nil {
		return database.Block{}, err
	}

	w.evHandler("worker: mineNewBlock: MINING: nonce[%d] attempts[%d] duration[%v] rate[%.0f/s]", res.Nonce, res.Attempts, res.Duration, res.HashRate)

	// A peer block may have landed in the meantime, the ledger has the
	// final word.
	if err := w.ledger.AddBlock(res.Block); err != nil {
		return database.Block{}, err
	}

	return res.Block, nil
}
