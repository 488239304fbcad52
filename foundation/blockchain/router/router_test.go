package router_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/router"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type fakeLedger struct {
	txs    map[uint64]bool
	blocks []database.Block
	reject error
}

func (f *fakeLedger) AddToMempool(tx database.Tx) (bool, error) {
	if f.reject != nil {
		return false, f.reject
	}
	if f.txs[tx.Nonce] {
		return false, nil
	}
	f.txs[tx.Nonce] = true
	return true, nil
}

func (f *fakeLedger) AddBlock(block database.Block) error {
	if f.reject != nil {
		return f.reject
	}
	f.blocks = append(f.blocks, block)
	return nil
}

type sent struct {
	msg     network.Message
	exclude []string
}

type fakeNetwork struct {
	mu           sync.Mutex
	sent         []sent
	disconnected []string
}

func (f *fakeNetwork) ID() string { return "self" }

func (f *fakeNetwork) SendAll(msg network.Message, exclude ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{msg: msg, exclude: exclude})
	return 1
}

func (f *fakeNetwork) Disconnect(id string) bool {
	f.disconnected = append(f.disconnected, id)
	return true
}

func newRouter() (*router.Router, *fakeLedger, *fakeNetwork, *[]database.Block) {
	l := fakeLedger{txs: make(map[uint64]bool)}
	n := fakeNetwork{}

	var landed []database.Block
	r := router.New(router.Config{
		Ledger:  &l,
		Network: &n,
		OnBlock: func(block database.Block) { landed = append(landed, block) },
	})

	return r, &l, &n, &landed
}

func message(t *testing.T, typ network.MessageType, origin string, payload any) network.Message {
	msg, err := network.NewMessage(typ, origin, payload)
	if err != nil {
		t.Fatalf("Should be able to build the message: %v", err)
	}
	return msg
}

// =============================================================================

func Test_Transactions(t *testing.T) {
	t.Log("Given the need to relay transactions received from peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the same transaction arrives twice.", testID)
		{
			r, _, n, _ := newRouter()
			tx := database.Tx{Value: 100, Fee: 5, Nonce: 7}

			r.Handle(message(t, network.TypeAddTransaction, "peer-a", tx))
			r.Handle(message(t, network.TypeAddTransaction, "peer-b", tx))

			if len(n.sent) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould gossip only the first copy, got %d sends.", failed, testID, len(n.sent))
			}
			t.Logf("\t%s\tTest %d:\tShould gossip only the first copy.", success, testID)

			got := n.sent[0]
			if got.msg.NodeID != "self" || len(got.exclude) != 1 || got.exclude[0] != "peer-a" {
				t.Fatalf("\t%s\tTest %d:\tShould name this node and exclude the origin, got %s %v.", failed, testID, got.msg.NodeID, got.exclude)
			}
			t.Logf("\t%s\tTest %d:\tShould name this node and exclude the origin.", success, testID)

			var relayed database.Tx
			if err := got.msg.Decode(&relayed); err != nil || relayed != tx {
				t.Fatalf("\t%s\tTest %d:\tShould relay the same transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould relay the same transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the ledger rejects the transaction.", testID)
		{
			r, l, n, _ := newRouter()
			l.reject = database.ErrInvalidSignature

			r.Handle(message(t, network.TypeAddTransaction, "peer-a", database.Tx{Value: 1}))

			if len(n.sent) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not gossip a rejected transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not gossip a rejected transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the payload is malformed.", testID)
		{
			r, _, n, _ := newRouter()

			r.Handle(network.Message{Type: network.TypeAddTransaction, Data: []byte(`"tx"`), NodeID: "peer-a"})

			if len(n.sent) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould drop the message.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drop the message.", success, testID)
		}
	}
}

func Test_Blocks(t *testing.T) {
	t.Log("Given the need to relay blocks received from peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a valid block arrives.", testID)
		{
			r, l, n, landed := newRouter()
			block := database.Block{ParentHash: "00ab", Timestamp: 100, Hash: "00cd", Nonce: 3}

			r.Handle(message(t, network.TypeNewBlock, "peer-a", block))

			if len(l.blocks) != 1 || l.blocks[0].Hash != block.Hash {
				t.Fatalf("\t%s\tTest %d:\tShould hand the block to the ledger.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould hand the block to the ledger.", success, testID)

			if len(n.sent) != 1 || n.sent[0].msg.Type != network.TypeNewBlock || n.sent[0].exclude[0] != "peer-a" {
				t.Fatalf("\t%s\tTest %d:\tShould gossip the block excluding the origin.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould gossip the block excluding the origin.", success, testID)

			if len(*landed) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould notify that a block landed.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould notify that a block landed.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the ledger rejects the block.", testID)
		{
			r, l, n, landed := newRouter()
			l.reject = errors.New("invalid parent")

			r.Handle(message(t, network.TypeNewBlock, "peer-a", database.Block{Hash: "00cd"}))

			if len(n.sent) != 0 || len(*landed) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not gossip or notify.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not gossip or notify.", success, testID)
		}
	}
}

func Test_Control(t *testing.T) {
	t.Log("Given the need to handle control messages.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer announces it disconnects.", testID)
		{
			r, _, n, _ := newRouter()

			r.Handle(message(t, network.TypeDisconnect, "peer-a", nil))
			r.Handle(message(t, network.TypeHeartBeat, "peer-b", nil))
			r.Handle(message(t, network.TypeInitPing, "peer-c", network.Handshake{ID: "peer-c"}))

			if len(n.disconnected) != 1 || n.disconnected[0] != "peer-a" {
				t.Fatalf("\t%s\tTest %d:\tShould disconnect the origin only, got %v.", failed, testID, n.disconnected)
			}
			t.Logf("\t%s\tTest %d:\tShould disconnect the origin only.", success, testID)

			if len(n.sent) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not gossip control messages.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not gossip control messages.", success, testID)
		}
	}
}
