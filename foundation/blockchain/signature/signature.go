// Package signature provides helper functions for handling the blockchain
// signature needs: the canonical encoding, hashing, signing and verification.
package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature does not verify against
// the data and public key it claims.
var ErrInvalidSignature = errors.New("invalid signature")

// =============================================================================

// Hash returns the lowercase hex encoded sha256 digest of the data.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// HashValue returns the hash of the canonical encoding of the value.
func HashValue(value any) (string, error) {
	data, err := Canonical(value)
	if err != nil {
		return "", err
	}

	return Hash(data), nil
}

// Sign uses the specified private key to sign the sha256 digest of the data.
// The 65 byte [R|S|V] signature is returned hex encoded.
func Sign(data []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	digest := sha256.Sum256(data)

	sig, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return hex.EncodeToString(sig), nil
}

// Verify checks the hex encoded signature was produced over the data by the
// owner of the hex encoded public key.
func Verify(data []byte, sigHex string, publicKeyHex string) error {
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("%w: public key: %s", ErrInvalidSignature, err)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: signature: %s", ErrInvalidSignature, err)
	}

	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(sig))
	}

	digest := sha256.Sum256(data)

	// Check the recovery id is either 0 or 1.
	if v := sig[crypto.RecoveryIDOffset]; v != 0 && v != 1 {
		return fmt.Errorf("%w: recovery id", ErrInvalidSignature)
	}

	if !crypto.VerifySignature(publicKey, digest[:], sig[:crypto.RecoveryIDOffset]) {
		return ErrInvalidSignature
	}

	// The key recovered from [R|S|V] must be the claimed key so V is bound
	// to the signer.
	signer, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return fmt.Errorf("%w: recover: %s", ErrInvalidSignature, err)
	}

	var recovered []byte
	switch len(publicKey) {
	case 33:
		recovered = crypto.CompressPubkey(signer)
	default:
		recovered = crypto.FromECDSAPub(signer)
	}

	if !bytes.Equal(recovered, publicKey) {
		return fmt.Errorf("%w: signer mismatch", ErrInvalidSignature)
	}

	return nil
}

// PublicKeyHex converts the public key to the hex encoded compressed form
// that is used as an account identifier.
func PublicKeyHex(pk ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.CompressPubkey(&pk))
}

// IsPublicKeyHex validates the string decodes to a secp256k1 public key.
func IsPublicKeyHex(s string) bool {
	data, err := hex.DecodeString(s)
	if err != nil {
		return false
	}

	switch len(data) {
	case 33:
		_, err = crypto.DecompressPubkey(data)
	case 65:
		_, err = crypto.UnmarshalPubkey(data)
	default:
		return false
	}

	return err == nil
}
