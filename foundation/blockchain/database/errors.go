package database

import (
	"errors"

	"github.com/ledgerkit/node/foundation/blockchain/signature"
)

// Structural errors.
var (
	ErrAlreadySigned    = errors.New("transaction already signed")
	ErrNotSigned        = errors.New("transaction not signed")
	ErrSenderMismatch   = errors.New("private key does not belong to the sender")
	ErrDataTooLong      = errors.New("transaction data too long")
	ErrInvalidAccount   = errors.New("invalid account format")
	ErrUnsealed         = errors.New("block is not sealed")
	ErrInvalidHash      = errors.New("block hash does not match its contents")
	ErrInvalidSignature = signature.ErrInvalidSignature
)

// Consensus errors reported by the ledger validation gate.
var (
	ErrInsufficientFunds    = errors.New("account doesn't have enough funds")
	ErrInvalidFee           = errors.New("invalid transaction fee")
	ErrDuplicateBlock       = errors.New("block has already been mined and added")
	ErrInvalidParent        = errors.New("invalid parent hash")
	ErrInsufficientWork     = errors.New("block hash does not meet the difficulty target")
	ErrDuplicateTransaction = errors.New("transaction already committed")
	ErrNotFound             = errors.New("not found")
)
