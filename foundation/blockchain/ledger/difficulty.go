package ledger

import (
	"sort"

	"github.com/ledgerkit/node/foundation/blockchain/database"
)

// Difficulty returns the number of leading zeros the next block's hash must
// carry.
func (l *Ledger) Difficulty() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.difficulty()
}

// Target returns the hash prefix the next block must carry.
func (l *Ledger) Target() string {
	return database.Target(l.Difficulty())
}

// difficulty derives the current difficulty from the chain. The caller must
// hold a lock.
func (l *Ledger) difficulty() int {
	if len(l.blocks) == 0 {
		return l.genesis.Difficulty
	}

	current := database.LeadingZeros(l.blocks[len(l.blocks)-1].Hash)

	interval := l.genesis.RetargetInterval
	from := max(len(l.blocks)-interval, 0)

	timestamps := make([]uint64, 0, interval)
	for _, block := range l.blocks[from:] {
		timestamps = append(timestamps, block.Timestamp)
	}

	return Retarget(current, len(l.blocks), timestamps, interval, l.genesis.TargetBlockTime)
}

// Retarget applies the difficulty adjustment rule. The current difficulty is
// kept unless the chain length is a multiple of the interval. When it is, the
// mean delta between the sorted timestamps of the most recent blocks is
// compared to the target block time: slower blocks lower the difficulty by
// one and faster blocks raise it by one. The result is never below one.
func Retarget(current int, chainLen int, timestamps []uint64, interval int, blockTime int) int {
	if chainLen == 0 || interval < 1 || chainLen%interval != 0 || len(timestamps) < 2 {
		return max(current, 1)
	}

	ts := make([]uint64, len(timestamps))
	copy(ts, timestamps)
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	// Compare sum(deltas) against blockTime * count to keep the mean exact.
	var total uint64
	for i := 1; i < len(ts); i++ {
		total += ts[i] - ts[i-1]
	}
	expected := uint64(blockTime) * uint64(len(ts)-1)

	switch {
	case total > expected:
		current--
	case total < expected:
		current++
	}

	return max(current, 1)
}
