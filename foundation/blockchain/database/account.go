package database

import (
	"crypto/ecdsa"

	"github.com/ledgerkit/node/foundation/blockchain/signature"
)

// AccountID represents an account id that is used to sign transactions and is
// associated with transactions on the blockchain. It is the hex encoded
// compressed secp256k1 public key of the owner.
type AccountID string

// ToAccountID converts a hex-encoded string to an account and validates the
// hex-encoded string is formatted correctly.
func ToAccountID(hex string) (AccountID, error) {
	a := AccountID(hex)
	if !a.IsAccountID() {
		return "", ErrInvalidAccount
	}

	return a, nil
}

// PublicKeyToAccountID converts the public key to an account value.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(signature.PublicKeyHex(pk))
}

// IsAccountID verifies whether the underlying data represents a valid
// public key.
func (a AccountID) IsAccountID() bool {
	return signature.IsPublicKeyHex(string(a))
}

// Short returns an abbreviated form of the account for logging.
func (a AccountID) Short() string {
	if len(a) <= 12 {
		return string(a)
	}
	return string(a[:12])
}
