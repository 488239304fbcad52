// Package genesis maintains access to the chain parameters every node must
// agree on.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Default chain parameters.
const (
	MiningReward     = 1000 // 10 coins in minor units.
	Difficulty       = 4
	RetargetInterval = 4
	TargetBlockTime  = 60 * time.Second
)

// Genesis represents the genesis file.
type Genesis struct {
	Date             time.Time `json:"date"`
	ChainID          uint16    `json:"chain_id"`          // The chain id represents an unique id for this running instance.
	Difficulty       int       `json:"difficulty"`        // Leading zeros required before the first retarget.
	MiningReward     uint64    `json:"mining_reward"`     // Reward credited to the coinbase of every block.
	RetargetInterval int       `json:"retarget_interval"` // Number of blocks between difficulty adjustments.
	TargetBlockTime  int       `json:"target_block_time"` // Desired seconds between blocks.
}

// Default returns the parameters used when no genesis file is provided.
func Default() Genesis {
	return Genesis{
		Date:             time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:          1,
		Difficulty:       Difficulty,
		MiningReward:     MiningReward,
		RetargetInterval: RetargetInterval,
		TargetBlockTime:  int(TargetBlockTime / time.Second),
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Missing parameters take their
// default values.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decode %s: %w", path, err)
	}

	if genesis.Difficulty < 1 || genesis.RetargetInterval < 1 || genesis.TargetBlockTime < 1 {
		return Genesis{}, fmt.Errorf("genesis %s: difficulty, retarget interval and block time must be positive", path)
	}

	return genesis, nil
}
