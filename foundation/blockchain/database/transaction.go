package database

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ledgerkit/node/foundation/blockchain/signature"
)

// MaxDataLen is the largest number of bytes a transaction can carry in its
// data field.
const MaxDataLen = 256

// FeePercent is the fixed share of a transaction's value that must be paid
// as a fee.
const FeePercent = 5

// FeeFor returns the fee required for the specified value. The fee is
// FeePercent of the value rounded half up, computed in integer arithmetic so
// every node derives the same number.
func FeeFor(value uint64) uint64 {
	return value/100*FeePercent + (value%100*FeePercent+50)/100
}

// =============================================================================

// Tx is a signed value transfer between two parties. Amounts are expressed in
// the smallest currency unit.
type Tx struct {
	Sender    AccountID `json:"sender"`    // Public key of the account paying value and fee.
	Receiver  AccountID `json:"receiver"`  // Public key of the account receiving the value.
	Value     uint64    `json:"value"`     // Amount transferred to the receiver.
	Data      string    `json:"data"`      // Opaque payload, at most MaxDataLen bytes.
	Fee       uint64    `json:"fee"`       // Must equal FeeFor(Value).
	Nonce     uint64    `json:"nonce"`     // Per sender sequence number assigned at signing.
	Signature string    `json:"signature"` // Hex encoded signature, empty until signed.
}

// NewTx constructs a new unsigned transaction with the policy fee applied.
func NewTx(sender AccountID, receiver AccountID, value uint64, data string) (Tx, error) {
	if !sender.IsAccountID() {
		return Tx{}, fmt.Errorf("sender: %w", ErrInvalidAccount)
	}

	if !receiver.IsAccountID() {
		return Tx{}, fmt.Errorf("receiver: %w", ErrInvalidAccount)
	}

	if len(data) > MaxDataLen {
		return Tx{}, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(data))
	}

	tx := Tx{
		Sender:   sender,
		Receiver: receiver,
		Value:    value,
		Data:     data,
		Fee:      FeeFor(value),
	}

	return tx, nil
}

// Signed reports whether the transaction carries a signature.
func (tx Tx) Signed() bool {
	return tx.Signature != ""
}

// Sign uses the specified private key to sign the transaction with the
// provided nonce. A signed transaction is immutable.
func (tx *Tx) Sign(privateKey *ecdsa.PrivateKey, nonce uint64) error {
	if tx.Signed() {
		return ErrAlreadySigned
	}

	if PublicKeyToAccountID(privateKey.PublicKey) != tx.Sender {
		return ErrSenderMismatch
	}

	unsigned := *tx
	unsigned.Nonce = nonce

	data, err := unsigned.signingData()
	if err != nil {
		return err
	}

	sig, err := signature.Sign(data, privateKey)
	if err != nil {
		return err
	}

	tx.Nonce = nonce
	tx.Signature = sig

	return nil
}

// Verify recomputes the signing data and checks the signature against the
// sender's public key. It does not modify the transaction.
func (tx Tx) Verify() error {
	if !tx.Signed() {
		return ErrNotSigned
	}

	if len(tx.Data) > MaxDataLen {
		return fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(tx.Data))
	}

	data, err := tx.signingData()
	if err != nil {
		return err
	}

	if err := signature.Verify(data, tx.Signature, string(tx.Sender)); err != nil {
		return fmt.Errorf("tx %s:%d: %w", tx.Sender.Short(), tx.Nonce, err)
	}

	return nil
}

// Canonical returns the canonical encoding of the signed transaction. This
// is the form embedded into block hashes and used as the mempool key.
func (tx Tx) Canonical() ([]byte, error) {
	return signature.Canonical(tx)
}

// Key returns the canonical encoding as a string for use as a map key.
func (tx Tx) Key() (string, error) {
	data, err := tx.Canonical()
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%d", tx.Sender.Short(), tx.Nonce)
}

// signingData returns the canonical encoding of every field except the
// signature.
func (tx Tx) signingData() ([]byte, error) {
	d := struct {
		Sender   AccountID `json:"sender"`
		Receiver AccountID `json:"receiver"`
		Value    uint64    `json:"value"`
		Data     string    `json:"data"`
		Fee      uint64    `json:"fee"`
		Nonce    uint64    `json:"nonce"`
	}{
		Sender:   tx.Sender,
		Receiver: tx.Receiver,
		Value:    tx.Value,
		Data:     tx.Data,
		Fee:      tx.Fee,
		Nonce:    tx.Nonce,
	}

	return signature.Canonical(d)
}
