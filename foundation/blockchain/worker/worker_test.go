package worker_test

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/database/storage"
	"github.com/ledgerkit/node/foundation/blockchain/genesis"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/blockchain/miner"
	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/worker"
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

type fakeNetwork struct {
	mu   sync.Mutex
	msgs []network.Message
}

func (f *fakeNetwork) ID() string { return "self" }

func (f *fakeNetwork) SendAll(msg network.Message, exclude ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return 1
}

func (f *fakeNetwork) count(typ network.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for _, msg := range f.msgs {
		if msg.Type == typ {
			n++
		}
	}
	return n
}

// blockingMiner never finds a solution and reports when it was cancelled.
type blockingMiner struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (m *blockingMiner) Mine(ctx context.Context, block database.Block, coinbase database.AccountID, difficulty int) (miner.Result, error) {
	close(m.started)
	<-ctx.Done()
	close(m.cancelled)
	return miner.Result{}, ctx.Err()
}

// =============================================================================

func Test_Mining(t *testing.T) {
	t.Log("Given the need to mine blocks from the mempool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the chain starts empty.", testID)
		{
			l := newLedger(t)
			kennedy, a := account(t, kennedyKey)
			_, b := account(t, pavelKey)
			net := fakeNetwork{}

			w := worker.Run(worker.Config{
				Ledger:   l,
				Miner:    miner.New(miner.Config{Workers: 2, BatchSize: 1000}),
				Network:  &net,
				Coinbase: a,
				Interval: time.Hour,
				Mining:   true,
			})
			defer w.Shutdown()

			w.SignalStartMining()
			waitFor(t, func() bool { return l.Height() == 1 })

			tip, _ := l.Tip()
			if !tip.IsGenesis() || len(tip.Transactions) != 0 || l.BalanceOf(a) != genesis.MiningReward {
				t.Fatalf("\t%s\tTest %d:\tShould mine an empty genesis block paying the coinbase.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould mine an empty genesis block paying the coinbase.", success, testID)

			w.SignalStartMining()
			time.Sleep(100 * time.Millisecond)
			if l.Height() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould not mine without transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not mine without transactions.", success, testID)

			tx := signedTx(t, kennedy, b, 500, 0)
			if _, err := l.AddToMempool(tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the transaction: %v", failed, testID, err)
			}

			w.SignalStartMining()
			waitFor(t, func() bool { return l.Height() == 2 })

			if l.BalanceOf(b) != 500 || l.MempoolLength() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould commit the pending transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould commit the pending transaction.", success, testID)

			if got := net.count(network.TypeNewBlock); got != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould gossip every mined block, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould gossip every mined block.", success, testID)
		}
	}
}

func Test_CancelMining(t *testing.T) {
	t.Log("Given the need to abandon a search when a peer block lands.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen cancel is signaled during a search.", testID)
		{
			l := newLedger(t)
			_, a := account(t, kennedyKey)
			m := blockingMiner{started: make(chan struct{}), cancelled: make(chan struct{})}

			w := worker.Run(worker.Config{
				Ledger:   l,
				Miner:    &m,
				Network:  &fakeNetwork{},
				Coinbase: a,
				Interval: time.Hour,
				Mining:   true,
			})
			defer w.Shutdown()

			w.SignalStartMining()
			select {
			case <-m.started:
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest %d:\tShould start a search.", failed, testID)
			}

			w.SignalCancelMining()
			select {
			case <-m.cancelled:
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest %d:\tShould cancel the search.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould cancel the search.", success, testID)
		}
	}
}

func Test_ShareTx(t *testing.T) {
	t.Log("Given the need to share submitted transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen mining is turned off.", testID)
		{
			l := newLedger(t)
			kennedy, _ := account(t, kennedyKey)
			_, b := account(t, pavelKey)
			net := fakeNetwork{}

			w := worker.Run(worker.Config{
				Ledger:  l,
				Network: &net,
			})
			defer w.Shutdown()

			w.SignalShareTx(signedTx(t, kennedy, b, 100, 0))
			waitFor(t, func() bool { return net.count(network.TypeAddTransaction) == 1 })
			t.Logf("\t%s\tTest %d:\tShould gossip the transaction.", success, testID)

			w.SignalStartMining()
			time.Sleep(100 * time.Millisecond)
			if l.Height() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not mine.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not mine.", success, testID)
		}
	}
}

// =============================================================================

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("\t%s\tShould reach the expected state in time.", failed)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	strg, err := storage.NewMemory()
	if err != nil {
		t.Fatalf("Should be able to open storage: %v", err)
	}
	t.Cleanup(func() { strg.Close() })

	gen := genesis.Default()
	gen.Difficulty = 1

	l, err := ledger.New(ledger.Config{Storage: strg, Genesis: gen})
	if err != nil {
		t.Fatalf("Should be able to construct the ledger: %v", err)
	}

	return l
}

func account(t *testing.T, hexKey string) (*ecdsa.PrivateKey, database.AccountID) {
	t.Helper()

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %v", err)
	}

	return pk, database.PublicKeyToAccountID(pk.PublicKey)
}

func signedTx(t *testing.T, from *ecdsa.PrivateKey, to database.AccountID, value uint64, nonce uint64) database.Tx {
	t.Helper()

	tx, err := database.NewTx(database.PublicKeyToAccountID(from.PublicKey), to, value, "")
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}

	if err := tx.Sign(from, nonce); err != nil {
		t.Fatalf("Should be able to sign a transaction: %v", err)
	}

	return tx
}
