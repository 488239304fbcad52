package database

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledgerkit/node/foundation/blockchain/signature"
)

// Block represents a group of transactions batched together. A block is
// sealed once the proof of work fields (hash, nonce, coinbase) are set.
type Block struct {
	ParentHash   string    `json:"parent_hash"`    // Hash of the previous block, empty for genesis.
	Timestamp    uint64    `json:"timestamp"`      // Unix time the block was assembled.
	Transactions []Tx      `json:"transactions"`   // Ordered signed transactions.
	Hash         string    `json:"hash,omitempty"` // Digest of the canonical encoding of every other field.
	Nonce        uint64    `json:"nonce"`          // Value identified to solve the hash solution.
	Coinbase     AccountID `json:"coinbase"`       // The account rewarded for mining the block.
}

// NewBlock constructs an unsealed block on top of the specified parent hash.
func NewBlock(parentHash string, timestamp uint64, trans []Tx) Block {
	txs := make([]Tx, len(trans))
	copy(txs, trans)

	return Block{
		ParentHash:   parentHash,
		Timestamp:    timestamp,
		Transactions: txs,
	}
}

// Sealed reports whether the proof of work fields are present.
func (b Block) Sealed() bool {
	return b.Hash != ""
}

// IsGenesis reports whether this is the first block of a chain.
func (b Block) IsGenesis() bool {
	return b.ParentHash == ""
}

// ComputeHash returns the hash of the canonical encoding of every field
// except the hash itself.
func (b Block) ComputeHash() (string, error) {
	data, err := signature.Canonical(b.hashData())
	if err != nil {
		return "", err
	}

	return signature.Hash(data), nil
}

// Seal assigns the proof of work fields and re-verifies the block. When the
// verification fails the fields are cleared again and the error returned.
func (b *Block) Seal(hash string, nonce uint64, coinbase AccountID) error {
	b.Hash = hash
	b.Nonce = nonce
	b.Coinbase = coinbase

	if err := b.Verify(); err != nil {
		b.Hash = ""
		b.Nonce = 0
		b.Coinbase = ""
		return err
	}

	return nil
}

// Verify validates the structure of the block. An unsealed block is always
// valid. A sealed block needs every transaction signature to verify and the
// stored hash to match the contents. The difficulty target is a consensus
// rule checked by the ledger.
func (b Block) Verify() error {
	if !b.Sealed() {
		return nil
	}

	for i, tx := range b.Transactions {
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("tx[%d]: %w", i, err)
		}
	}

	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}

	if hash != b.Hash {
		return fmt.Errorf("%w: got %s, exp %s", ErrInvalidHash, b.Hash, hash)
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	if !b.Sealed() {
		return fmt.Sprintf("unsealed[%s]", short(b.ParentHash))
	}
	return short(b.Hash)
}

// hashData returns the value that is canonically encoded for hashing.
func (b Block) hashData() any {
	txs := b.Transactions
	if txs == nil {
		txs = []Tx{}
	}

	return struct {
		ParentHash   string    `json:"parent_hash"`
		Timestamp    uint64    `json:"timestamp"`
		Transactions []Tx      `json:"transactions"`
		Nonce        uint64    `json:"nonce"`
		Coinbase     AccountID `json:"coinbase"`
	}{
		ParentHash:   b.ParentHash,
		Timestamp:    b.Timestamp,
		Transactions: txs,
		Nonce:        b.Nonce,
		Coinbase:     b.Coinbase,
	}
}

// =============================================================================

// Template is the canonical encoding of a block split around the nonce so
// the nonce search can substitute values without encoding the block again.
type Template struct {
	Prefix []byte
	Suffix []byte
}

// MiningTemplate builds the template for the block as it will be sealed by
// the specified coinbase. The canonical key order places coinbase first and
// nonce second, which is what makes the split possible.
func (b Block) MiningTemplate(coinbase AccountID) (Template, error) {
	nb := b
	nb.Coinbase = coinbase

	data, err := signature.Canonical(nb.hashData())
	if err != nil {
		return Template{}, err
	}

	coinbaseJSON, err := signature.Canonical(string(coinbase))
	if err != nil {
		return Template{}, err
	}

	head := []byte(`{"coinbase": ` + string(coinbaseJSON) + `, "nonce": `)
	if !bytes.HasPrefix(data, head) {
		return Template{}, fmt.Errorf("unexpected canonical block layout")
	}

	rest := data[len(head):]
	idx := bytes.Index(rest, []byte(`, "parent_hash": `))
	if idx == -1 {
		return Template{}, fmt.Errorf("unexpected canonical block layout")
	}

	t := Template{
		Prefix: head,
		Suffix: append([]byte(nil), rest[idx:]...),
	}

	return t, nil
}

// =============================================================================

// LeadingZeros returns the number of leading '0' characters in the hash.
func LeadingZeros(hash string) int {
	return len(hash) - len(strings.TrimLeft(hash, "0"))
}

// MeetsTarget checks the hash complies with the proof of work rule of
// starting with difficulty number of '0' characters.
func MeetsTarget(hash string, difficulty int) bool {
	return LeadingZeros(hash) >= difficulty
}

// Target returns the required hash prefix for the difficulty.
func Target(difficulty int) string {
	return strings.Repeat("0", difficulty)
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
