// Package router dispatches the messages received from peers to the ledger
// and gossips accepted data on to the rest of the network.
package router

import (
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/network"
)

// EventHandler defines a function that is called when events
// occur in the processing of peer messages.
type EventHandler func(v string, args ...any)

// Ledger is the behavior the router needs from the ledger.
type Ledger interface {
	AddToMempool(tx database.Tx) (bool, error)
	AddBlock(block database.Block) error
}

// Network is the behavior the router needs from the peer node.
type Network interface {
	ID() string
	SendAll(msg network.Message, exclude ...string) int
	Disconnect(id string) bool
}

// Config represents the configuration required to construct a router.
type Config struct {
	Ledger    Ledger
	Network   Network
	EvHandler EventHandler

	// OnBlock is called after a peer block was committed. The node uses it
	// to cancel a local mining run on the now stale tip.
	OnBlock func(block database.Block)
}

// Router handles the messages received by the peer node.
type Router struct {
	ledger    Ledger
	network   Network
	evHandler EventHandler
	onBlock   func(block database.Block)
}

// New constructs a router.
func New(cfg Config) *Router {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Router{
		ledger:    cfg.Ledger,
		network:   cfg.Network,
		evHandler: ev,
		onBlock:   cfg.OnBlock,
	}
}

// Handle processes one message. The message NodeID names the peer the
// message arrived from. Rejected data is logged and never passed on.
func (r *Router) Handle(msg network.Message) {
	switch msg.Type {
	case network.TypeAddTransaction:
		r.addTransaction(msg)

	case network.TypeNewBlock:
		r.newBlock(msg)

	case network.TypeDisconnect:
		r.network.Disconnect(msg.NodeID)

	case network.TypeHeartBeat, network.TypeInitPing, network.TypeRespPong:

	default:
		r.evHandler("router: Handle: WARNING: unknown message %s", msg)
	}
}

// Gossip sends the payload to every peer except the excluded one, naming
// this node as the sender.
func (r *Router) Gossip(typ network.MessageType, payload any, exclude ...string) int {
	msg, err := network.NewMessage(typ, r.network.ID(), payload)
	if err != nil {
		r.evHandler("router: Gossip: ERROR: %s", err)
		return 0
	}

	return r.network.SendAll(msg, exclude...)
}

// =============================================================================

func (r *Router) addTransaction(msg network.Message) {
	var tx database.Tx
	if err := msg.Decode(&tx); err != nil {
		r.evHandler("router: addTransaction: WARNING: %s", err)
		return
	}

	added, err := r.ledger.AddToMempool(tx)
	if err != nil {
		r.evHandler("router: addTransaction: tx[%s] rejected: %s", tx, err)
		return
	}

	if !added {
		return
	}

	sent := r.Gossip(network.TypeAddTransaction, tx, msg.NodeID)
	r.evHandler("router: addTransaction: tx[%s] gossiped to %d peers", tx, sent)
}

func (r *Router) newBlock(msg network.Message) {
	var block database.Block
	if err := msg.Decode(&block); err != nil {
		r.evHandler("router: newBlock: WARNING: %s", err)
		return
	}

	if err := r.ledger.AddBlock(block); err != nil {
		r.evHandler("router: newBlock: block[%s] rejected: %s", block, err)
		return
	}

	sent := r.Gossip(network.TypeNewBlock, block, msg.NodeID)
	r.evHandler("router: newBlock: block[%s] gossiped to %d peers", block, sent)

	if r.onBlock != nil {
		r.onBlock(block)
	}
}
