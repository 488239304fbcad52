package database_test

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	kennedyKey = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	pavelKey   = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
)

// =============================================================================

func Test_TransactionSigning(t *testing.T) {
	t.Log("Given the need to sign and verify transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a single transaction.", testID)
		{
			kennedy, kennedyID := account(t, kennedyKey)
			_, pavelID := account(t, pavelKey)

			tx, err := database.NewTx(kennedyID, pavelID, 1000, "hello")
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to construct a transaction.", success, testID)

			if tx.Fee != 50 {
				t.Fatalf("\t%s\tTest %d:\tShould apply the policy fee, got %d.", failed, testID, tx.Fee)
			}
			t.Logf("\t%s\tTest %d:\tShould apply the policy fee.", success, testID)

			if err := tx.Verify(); !errors.Is(err, database.ErrNotSigned) {
				t.Fatalf("\t%s\tTest %d:\tShould not verify an unsigned transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not verify an unsigned transaction.", success, testID)

			if err := tx.Sign(kennedy, 1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to sign the transaction.", success, testID)

			if err := tx.Verify(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to verify the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to verify the transaction.", success, testID)

			before := tx
			if err := tx.Sign(kennedy, 2); !errors.Is(err, database.ErrAlreadySigned) {
				t.Fatalf("\t%s\tTest %d:\tShould not sign a transaction twice: %v", failed, testID, err)
			}
			if tx != before {
				t.Fatalf("\t%s\tTest %d:\tShould not change a signed transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not sign a transaction twice.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen signing with the wrong key.", testID)
		{
			_, kennedyID := account(t, kennedyKey)
			pavel, pavelID := account(t, pavelKey)

			tx, _ := database.NewTx(kennedyID, pavelID, 1000, "")
			if err := tx.Sign(pavel, 1); !errors.Is(err, database.ErrSenderMismatch) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a key that does not own the sender: %v", failed, testID, err)
			}
			if tx.Signed() {
				t.Fatalf("\t%s\tTest %d:\tShould leave the transaction unsigned.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a key that does not own the sender.", success, testID)
		}
	}
}

func Test_TransactionTamper(t *testing.T) {
	type table struct {
		name   string
		change func(t *testing.T, tx *database.Tx)
	}

	_, pavelID := account(t, pavelKey)

	tt := []table{
		{name: "value", change: func(t *testing.T, tx *database.Tx) { tx.Value++ }},
		{name: "fee", change: func(t *testing.T, tx *database.Tx) { tx.Fee-- }},
		{name: "nonce", change: func(t *testing.T, tx *database.Tx) { tx.Nonce++ }},
		{name: "data", change: func(t *testing.T, tx *database.Tx) { tx.Data = "other" }},
		{name: "sender", change: func(t *testing.T, tx *database.Tx) { tx.Sender = pavelID }},
		{name: "receiver", change: func(t *testing.T, tx *database.Tx) { tx.Receiver = tx.Sender }},
		{name: "sigR", change: func(t *testing.T, tx *database.Tx) { flipSigByte(t, tx, 0) }},
		{name: "sigS", change: func(t *testing.T, tx *database.Tx) { flipSigByte(t, tx, 40) }},
		{name: "sigV", change: func(t *testing.T, tx *database.Tx) { flipSigByte(t, tx, crypto.RecoveryIDOffset) }},
	}

	t.Log("Given the need to detect changes to a signed transaction.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				tx := signedTx(t, kennedyKey, pavelKey, 1000, 1)
				tst.change(t, &tx)

				if err := tx.Verify(); !errors.Is(err, database.ErrInvalidSignature) {
					t.Fatalf("\t%s\tTest %d:\tShould fail verification after changing %s: %v", failed, testID, tst.name, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail verification after changing %s.", success, testID, tst.name)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_TransactionRules(t *testing.T) {
	t.Log("Given the need to enforce transaction construction rules.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen constructing invalid transactions.", testID)
		{
			_, kennedyID := account(t, kennedyKey)
			_, pavelID := account(t, pavelKey)

			if _, err := database.NewTx(kennedyID, pavelID, 10, strings.Repeat("x", database.MaxDataLen+1)); !errors.Is(err, database.ErrDataTooLong) {
				t.Fatalf("\t%s\tTest %d:\tShould reject data over the limit: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject data over the limit.", success, testID)

			if _, err := database.NewTx(kennedyID, pavelID, 10, strings.Repeat("x", database.MaxDataLen)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept data at the limit: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept data at the limit.", success, testID)

			if _, err := database.NewTx("0xnothex", pavelID, 10, ""); !errors.Is(err, database.ErrInvalidAccount) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a malformed sender: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a malformed sender.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen computing fees.", testID)
		{
			fees := map[uint64]uint64{0: 0, 1: 0, 9: 0, 10: 1, 29: 1, 30: 2, 100: 5, 500: 25, 1000: 50, 1234: 62}
			for value, exp := range fees {
				if got := database.FeeFor(value); got != exp {
					t.Fatalf("\t%s\tTest %d:\tShould compute the fee for %d: got %d, exp %d", failed, testID, value, got, exp)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould compute fees rounded half up.", success, testID)
		}
	}
}

// =============================================================================

func Test_BlockSealing(t *testing.T) {
	t.Log("Given the need to seal blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen sealing a block with a correct hash.", testID)
		{
			_, minerID := account(t, pavelKey)
			tx := signedTx(t, kennedyKey, pavelKey, 1000, 1)
			block := database.NewBlock("", 1700000000, []database.Tx{tx})

			if err := block.Verify(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould treat an unsealed block as valid: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould treat an unsealed block as valid.", success, testID)

			sealed := block
			sealed.Nonce = 42
			sealed.Coinbase = minerID
			hash, err := sealed.ComputeHash()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to compute the hash: %v", failed, testID, err)
			}

			if err := block.Seal(hash, 42, minerID); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to seal the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to seal the block.", success, testID)

			if !block.Sealed() || block.Hash != hash {
				t.Fatalf("\t%s\tTest %d:\tShould carry the proof of work fields.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould carry the proof of work fields.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen sealing a block with a wrong hash.", testID)
		{
			_, minerID := account(t, pavelKey)
			block := database.NewBlock("abc", 1700000000, nil)

			err := block.Seal(strings.Repeat("0", 64), 1, minerID)
			if !errors.Is(err, database.ErrInvalidHash) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the hash: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the hash.", success, testID)

			if block.Sealed() || block.Nonce != 0 || block.Coinbase != "" {
				t.Fatalf("\t%s\tTest %d:\tShould roll back the proof of work fields.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould roll back the proof of work fields.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen a sealed block carries a tampered transaction.", testID)
		{
			block := sealedBlock(t, []database.Tx{signedTx(t, kennedyKey, pavelKey, 1000, 1)})
			block.Transactions[0].Value = 999

			if err := block.Verify(); !errors.Is(err, database.ErrInvalidSignature) {
				t.Fatalf("\t%s\tTest %d:\tShould fail verification: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail verification.", success, testID)
		}
	}
}

func Test_BlockHashing(t *testing.T) {
	t.Log("Given the need for every node to compute the same block hash.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the block travels over the wire.", testID)
		{
			block := sealedBlock(t, []database.Tx{signedTx(t, kennedyKey, pavelKey, 1000, 1)})

			data, err := json.Marshal(block)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to marshal the block: %v", failed, testID, err)
			}

			var got database.Block
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the block: %v", failed, testID, err)
			}

			if err := got.Verify(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould verify on the receiving side: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould verify on the receiving side.", success, testID)

			zero := block
			zero.Nonce = 0

			data, err = json.Marshal(zero)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to marshal the block: %v", failed, testID, err)
			}

			var fields map[string]any
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the fields: %v", failed, testID, err)
			}

			for _, key := range []string{"parent_hash", "timestamp", "transactions", "hash", "nonce", "coinbase"} {
				if _, exists := fields[key]; !exists {
					t.Fatalf("\t%s\tTest %d:\tShould always carry the %q field: %s", failed, testID, key, data)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould always carry every block field, even a zero nonce.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen mining from a template.", testID)
		{
			_, minerID := account(t, pavelKey)
			block := database.NewBlock("0abc", 1700000100, []database.Tx{signedTx(t, kennedyKey, pavelKey, 500, 3)})

			tmpl, err := block.MiningTemplate(minerID)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to build a template: %v", failed, testID, err)
			}

			for _, nonce := range []uint64{0, 1, 987654321} {
				data := append(append(append([]byte{}, tmpl.Prefix...), strconv.FormatUint(nonce, 10)...), tmpl.Suffix...)

				nb := block
				nb.Nonce = nonce
				nb.Coinbase = minerID
				exp, err := nb.ComputeHash()
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to compute the hash: %v", failed, testID, err)
				}

				if got := signature.Hash(data); got != exp {
					t.Fatalf("\t%s\tTest %d:\tShould match the full hash for nonce %d: got %s, exp %s", failed, testID, nonce, got, exp)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould match the full hash for every nonce.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen checking difficulty targets.", testID)
		{
			if database.LeadingZeros("000a0") != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould count leading zeros.", failed, testID)
			}
			if !database.MeetsTarget("00ab", 2) || database.MeetsTarget("0ab", 2) {
				t.Fatalf("\t%s\tTest %d:\tShould compare against the target.", failed, testID)
			}
			if database.Target(3) != "000" {
				t.Fatalf("\t%s\tTest %d:\tShould build the target prefix.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould check difficulty targets.", success, testID)
		}
	}
}

// =============================================================================

func account(t *testing.T, hexKey string) (*ecdsa.PrivateKey, database.AccountID) {
	t.Helper()

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %v", err)
	}

	return pk, database.PublicKeyToAccountID(pk.PublicKey)
}

// flipSigByte flips the low bit of the specified signature byte.
func flipSigByte(t *testing.T, tx *database.Tx, index int) {
	t.Helper()

	sig, err := hex.DecodeString(tx.Signature)
	if err != nil {
		t.Fatalf("Should be able to decode the signature: %v", err)
	}

	sig[index] ^= 1
	tx.Signature = hex.EncodeToString(sig)
}

func signedTx(t *testing.T, fromKey string, toKey string, value uint64, nonce uint64) database.Tx {
	t.Helper()

	from, fromID := account(t, fromKey)
	_, toID := account(t, toKey)

	tx, err := database.NewTx(fromID, toID, value, "")
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}

	if err := tx.Sign(from, nonce); err != nil {
		t.Fatalf("Should be able to sign a transaction: %v", err)
	}

	return tx
}

func sealedBlock(t *testing.T, txs []database.Tx) database.Block {
	t.Helper()

	_, minerID := account(t, pavelKey)
	block := database.NewBlock("", 1700000000, txs)

	nb := block
	nb.Nonce = 5
	nb.Coinbase = minerID
	hash, err := nb.ComputeHash()
	if err != nil {
		t.Fatalf("Should be able to compute the hash: %v", err)
	}

	if err := block.Seal(hash, 5, minerID); err != nil {
		t.Fatalf("Should be able to seal the block: %v", err)
	}

	return block
}
