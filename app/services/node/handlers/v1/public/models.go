package public

import (
	"github.com/ledgerkit/node/business/sys/validate"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/nameservice"
)

type account struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

type tx struct {
	Sender       database.AccountID `json:"sender"`
	SenderName   string             `json:"sender_name"`
	Receiver     database.AccountID `json:"receiver"`
	ReceiverName string             `json:"receiver_name"`
	Value        uint64             `json:"value"`
	Fee          uint64             `json:"fee"`
	Nonce        uint64             `json:"nonce"`
	Data         string             `json:"data"`
	Signature    string             `json:"signature"`
	Block        string             `json:"block,omitempty"`
}

type block struct {
	Hash         string             `json:"hash"`
	ParentHash   string             `json:"parent_hash"`
	Timestamp    uint64             `json:"timestamp"`
	Nonce        uint64             `json:"nonce"`
	Coinbase     database.AccountID `json:"coinbase"`
	CoinbaseName string             `json:"coinbase_name"`
	Transactions []tx               `json:"transactions"`
}

type status struct {
	NodeID     string `json:"node_id"`
	Height     int    `json:"height"`
	Tip        string `json:"tip"`
	Difficulty int    `json:"difficulty"`
	Target     string `json:"target"`
	Mempool    int    `json:"mempool"`
	Peers      int    `json:"peers"`
}

// submitTx is the wallet signed transaction accepted by the submit endpoint.
type submitTx struct {
	Sender    database.AccountID `json:"sender" validate:"required,account"`
	Receiver  database.AccountID `json:"receiver" validate:"required,account"`
	Value     uint64             `json:"value"`
	Data      string             `json:"data" validate:"max=256"`
	Fee       uint64             `json:"fee"`
	Nonce     uint64             `json:"nonce"`
	Signature string             `json:"signature" validate:"required,hexadecimal"`
}

// Validate checks the data in the model is considered clean.
func (stx submitTx) Validate() error {
	return validate.Check(stx)
}

func (stx submitTx) toDB() database.Tx {
	return database.Tx{
		Sender:    stx.Sender,
		Receiver:  stx.Receiver,
		Value:     stx.Value,
		Data:      stx.Data,
		Fee:       stx.Fee,
		Nonce:     stx.Nonce,
		Signature: stx.Signature,
	}
}

// =============================================================================

func toTx(ns *nameservice.NameService, dbTx database.Tx) tx {
	return tx{
		Sender:       dbTx.Sender,
		SenderName:   ns.Lookup(dbTx.Sender),
		Receiver:     dbTx.Receiver,
		ReceiverName: ns.Lookup(dbTx.Receiver),
		Value:        dbTx.Value,
		Fee:          dbTx.Fee,
		Nonce:        dbTx.Nonce,
		Data:         dbTx.Data,
		Signature:    dbTx.Signature,
	}
}

func toRecord(ns *nameservice.NameService, rec ledger.Record) tx {
	t := toTx(ns, rec.Tx)
	t.Block = rec.Block
	return t
}

func toBlock(ns *nameservice.NameService, dbBlock database.Block) block {
	trans := make([]tx, len(dbBlock.Transactions))
	for i, dbTx := range dbBlock.Transactions {
		trans[i] = toTx(ns, dbTx)
	}

	return block{
		Hash:         dbBlock.Hash,
		ParentHash:   dbBlock.ParentHash,
		Timestamp:    dbBlock.Timestamp,
		Nonce:        dbBlock.Nonce,
		Coinbase:     dbBlock.Coinbase,
		CoinbaseName: ns.Lookup(dbBlock.Coinbase),
		Transactions: trans,
	}
}
