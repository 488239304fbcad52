// Package miner implements the parallel proof of work nonce search.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"golang.org/x/sync/errgroup"
)

// Default pool settings.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 30_000
)

// EventHandler defines a function that is called when events
// occur in the processing of a nonce search.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct a miner.
type Config struct {
	Workers   int
	BatchSize uint64
	EvHandler EventHandler
}

// Result describes a solved block.
type Result struct {
	Block    database.Block // The block sealed with the solution.
	Hash     string
	Nonce    uint64
	Attempts uint64        // Nonces hashed by all workers.
	Duration time.Duration // Wall time of the search.
	HashRate float64       // Attempts per second.
}

// Miner searches the nonce space of a block with a fixed pool of workers.
type Miner struct {
	workers   int
	batchSize uint64
	evHandler EventHandler
}

// New constructs a miner, applying defaults for zero values.
func New(cfg Config) *Miner {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	m := Miner{
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		evHandler: ev,
	}

	if m.workers <= 0 {
		m.workers = DefaultWorkers
	}
	if m.batchSize == 0 {
		m.batchSize = DefaultBatchSize
	}

	return &m
}

// Mine searches for a nonce that gives the block, sealed by the coinbase, a
// hash with difficulty leading zeros. Workers claim batches of consecutive
// nonces from a shared counter. The first solution wins and the remaining
// workers are stopped. Mine only returns without a solution when the
// context is cancelled.
func (m *Miner) Mine(ctx context.Context, block database.Block, coinbase database.AccountID, difficulty int) (Result, error) {
	m.evHandler("miner: Mine: MINING: started: parent[%s] trans[%d] difficulty[%d]", block.ParentHash, len(block.Transactions), difficulty)
	defer m.evHandler("miner: Mine: MINING: completed")

	tmpl, err := block.MiningTemplate(coinbase)
	if err != nil {
		return Result{}, fmt.Errorf("mining template: %w", err)
	}

	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type solution struct {
		nonce uint64
		hash  string
	}

	var (
		next     atomic.Uint64
		attempts atomic.Uint64
		found    = make(chan solution, 1)
	)

	g, gctx := errgroup.WithContext(ctx)

	for range m.workers {
		g.Go(func() error {
			buf := make([]byte, 0, len(tmpl.Prefix)+20+len(tmpl.Suffix))

			for {
				if gctx.Err() != nil {
					return nil
				}

				first := next.Add(m.batchSize) - m.batchSize
				for nonce := first; nonce < first+m.batchSize; nonce++ {
					buf = append(buf[:0], tmpl.Prefix...)
					buf = strconv.AppendUint(buf, nonce, 10)
					buf = append(buf, tmpl.Suffix...)

					sum := sha256.Sum256(buf)
					if leadingZeros(sum) < difficulty {
						continue
					}

					attempts.Add(nonce - first + 1)

					select {
					case found <- solution{nonce: nonce, hash: hex.EncodeToString(sum[:])}:
						cancel()
					default:
					}
					return nil
				}

				attempts.Add(m.batchSize)
			}
		})
	}

	g.Wait()

	var sol solution
	select {
	case sol = <-found:
	default:
		m.evHandler("miner: Mine: MINING: CANCELLED")
		return Result{}, ctx.Err()
	}

	if err := block.Seal(sol.hash, sol.nonce, coinbase); err != nil {
		return Result{}, fmt.Errorf("seal: %w", err)
	}

	duration := time.Since(start)
	res := Result{
		Block:    block,
		Hash:     sol.hash,
		Nonce:    sol.nonce,
		Attempts: attempts.Load(),
		Duration: duration,
	}
	if secs := duration.Seconds(); secs > 0 {
		res.HashRate = float64(res.Attempts) / secs
	}

	m.evHandler("miner: Mine: MINING: SOLVED: block[%s] nonce[%d] attempts[%d] rate[%.0f H/s]", sol.hash, sol.nonce, res.Attempts, res.HashRate)

	return res, nil
}

// leadingZeros counts the leading zero characters of the hex form of the
// digest without encoding it.
func leadingZeros(sum [sha256.Size]byte) int {
	var n int
	for _, b := range sum {
		if b == 0 {
			n += 2
			continue
		}
		if b < 0x10 {
			n++
		}
		break
	}
	return n
}
