package mempool_test

import (
	"testing"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/mempool"
	"github.com/ledgerkit/node/foundation/blockchain/mempool/selector"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func tran(sender database.AccountID, nonce uint64, value uint64) database.Tx {
	return database.Tx{
		Sender:    sender,
		Receiver:  "ff",
		Value:     value,
		Fee:       database.FeeFor(value),
		Nonce:     nonce,
		Signature: "sig",
	}
}

func TestCRUD(t *testing.T) {
	t.Log("Given the need to validate mempool api.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a set of transactions.", testID)
		{
			mp, err := mempool.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the mempool: %v", failed, testID, err)
			}

			txs := []database.Tx{tran("bb", 2, 100), tran("aa", 1, 100), tran("bb", 1, 100)}
			for _, tx := range txs {
				added, err := mp.Add(tx)
				if err != nil || !added {
					t.Fatalf("\t%s\tTest %d:\tShould be able to add new transaction %s: %v", failed, testID, tx, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add new transactions.", success, testID)

			added, err := mp.Add(txs[0])
			if err != nil || added {
				t.Fatalf("\t%s\tTest %d:\tShould not add the same transaction twice.", failed, testID)
			}
			if mp.Count() != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould hold three transactions, got %d.", failed, testID, mp.Count())
			}
			t.Logf("\t%s\tTest %d:\tShould not add the same transaction twice.", success, testID)

			if !mp.Contains(txs[1]) || mp.Contains(tran("cc", 1, 100)) {
				t.Fatalf("\t%s\tTest %d:\tShould report membership.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report membership.", success, testID)

			best := mp.PickBest(-1)
			exp := []string{"aa:1", "bb:1", "bb:2"}
			if len(best) != len(exp) {
				t.Fatalf("\t%s\tTest %d:\tShould pick every transaction, got %d.", failed, testID, len(best))
			}
			for i, tx := range best {
				if tx.String() != exp[i] {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, tx)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, exp[i])
					t.Fatalf("\t%s\tTest %d:\tShould pick in sender and nonce order.", failed, testID)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould pick in sender and nonce order.", success, testID)

			if err := mp.Delete(txs[1]); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to remove a transaction: %v", failed, testID, err)
			}
			if mp.Count() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould be able to remove a transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to remove a transaction.", success, testID)

			mp.Truncate()
			if mp.Count() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould be able to truncate mempool.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to truncate mempool.", success, testID)
		}
	}
}

func TestSnapshot(t *testing.T) {
	t.Log("Given the need to iterate the mempool while it changes.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen taking a snapshot.", testID)
		{
			mp, _ := mempool.New()
			mp.Add(tran("aa", 1, 100))
			mp.Add(tran("aa", 2, 100))

			snap := mp.Snapshot()
			mp.Add(tran("aa", 3, 100))
			mp.Truncate()

			for pass := range 2 {
				var n int
				for range snap {
					n++
				}
				if n != 2 {
					t.Fatalf("\t%s\tTest %d:\tShould see the two transactions on pass %d, got %d.", failed, testID, pass, n)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould be restartable and unaffected by changes.", success, testID)

			for range snap {
				break
			}
			t.Logf("\t%s\tTest %d:\tShould stop early when asked.", success, testID)
		}
	}
}

func TestFeeStrategy(t *testing.T) {
	t.Log("Given the need to pick transactions by fee.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen using the fee strategy.", testID)
		{
			mp, err := mempool.NewWithStrategy(selector.StrategyFee)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the mempool: %v", failed, testID, err)
			}

			mp.Add(tran("bill", 1, 3000))
			mp.Add(tran("bill", 2, 5000))
			mp.Add(tran("pavl", 1, 1500))
			mp.Add(tran("pavl", 2, 4000))
			mp.Add(tran("edua", 1, 2000))

			best := mp.PickBest(4)
			exp := []string{"bill:1", "edua:1", "pavl:1", "bill:2"}
			if len(best) != len(exp) {
				t.Fatalf("\t%s\tTest %d:\tShould pick four transactions, got %d.", failed, testID, len(best))
			}
			for i, tx := range best {
				if tx.String() != exp[i] {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, tx)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, exp[i])
					t.Fatalf("\t%s\tTest %d:\tShould pick by fee while respecting nonces.", failed, testID)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould pick by fee while respecting nonces.", success, testID)

			if _, err := mempool.NewWithStrategy("unknown"); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject an unknown strategy.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an unknown strategy.", success, testID)
		}
	}
}
