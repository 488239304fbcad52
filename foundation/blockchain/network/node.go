package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/peer"
	"github.com/ledgerkit/node/foundation/blockchain/signature"
	"golang.org/x/time/rate"
)

// Default timings.
const (
	DefaultReadTimeout       = 15 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultReconnectInterval = 5 * time.Second
)

// ErrMaxConnections is returned when a connection is refused because the
// node already holds the configured maximum.
var ErrMaxConnections = errors.New("too many connections")

// EventHandler defines a function that is called when events
// occur in the processing of the network.
type EventHandler func(v string, args ...any)

// Handler is called for every message received from a peer. The message
// NodeID identifies the connection it arrived on.
type Handler func(msg Message)

// ConnectResult describes the outcome of a successful Connect call.
type ConnectResult int

// Set of connect results.
const (
	Connected ConnectResult = iota + 1
	AlreadyConnected
	Self
)

// String implements the fmt.Stringer interface for logging.
func (cr ConnectResult) String() string {
	switch cr {
	case Connected:
		return "connected"
	case AlreadyConnected:
		return "already connected"
	case Self:
		return "self"
	}
	return "unknown"
}

// PeerInfo describes a live connection.
type PeerInfo struct {
	ID       string    `json:"id"`
	Addr     peer.Peer `json:"addr"`
	Outbound bool      `json:"outbound"`
}

// =============================================================================

// Config represents the configuration required to start a node.
type Config struct {
	Host              string
	Port              int
	Bootstrap         []peer.Peer
	MaxConnections    int // Zero means unlimited.
	ReadTimeout       time.Duration
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	MessageRate       float64 // Inbound frames per second per connection, zero means unlimited.
	MessageBurst      int
	Handler           Handler
	EvHandler         EventHandler
}

// Node manages the inbound and outbound connections of this process, the
// list of addresses to connect to, and the gossip broadcast.
type Node struct {
	cfg       Config
	id        string
	self      peer.Peer
	evHandler EventHandler

	listener net.Listener
	connect  *peer.PeerSet

	mu       sync.RWMutex
	inbound  map[*Connection]struct{}
	outbound map[*Connection]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutOnce sync.Once
}

// New constructs a node. The identity is derived from the host, port and
// start time.
func New(cfg Config) *Node {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}

	n := Node{
		cfg:       cfg,
		id:        signature.Hash([]byte(cfg.Host + strconv.Itoa(cfg.Port) + strconv.FormatInt(time.Now().UnixNano(), 10))),
		self:      peer.New(cfg.Host, cfg.Port),
		evHandler: ev,
		connect:   peer.NewPeerSet(),
		inbound:   make(map[*Connection]struct{}),
		outbound:  make(map[*Connection]struct{}),
	}

	for _, p := range cfg.Bootstrap {
		if !p.Match(n.self) {
			n.connect.Add(p)
		}
	}

	return &n
}

// ID returns the identity of this node.
func (n *Node) ID() string {
	return n.id
}

// Addr returns the address this node accepts connections on.
func (n *Node) Addr() peer.Peer {
	return n.self
}

// Start binds the listening address and starts the accept loop and the
// maintenance loop. Failing to bind is the only fatal error of the node.
func (n *Node) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", n.self.String())
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.self, err)
	}

	// Pick up the port the system assigned when zero was requested.
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok && n.self.Port == 0 {
		n.self.Port = tcp.Port
	}

	n.listener = listener
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.evHandler("network: Start: node[%s] listening[%s]", short(n.id), n.self)

	operations := []func(){
		n.acceptOperations,
		n.maintenanceOperations,
	}

	n.wg.Add(len(operations))
	for _, op := range operations {
		go func() {
			defer n.wg.Done()
			op()
		}()
	}

	return nil
}

// Shutdown stops every connection, each sending a disconnect notice, closes
// the listener and waits for all goroutines to return.
func (n *Node) Shutdown() {
	n.shutOnce.Do(func() {
		n.evHandler("network: Shutdown: started")
		defer n.evHandler("network: Shutdown: completed")

		if n.cancel != nil {
			n.cancel()
		}
		if n.listener != nil {
			n.listener.Close()
		}

		for _, c := range n.connections() {
			c.Stop()
		}

		n.wg.Wait()
	})
}

// Connect dials the address and performs the handshake. Connecting to this
// node or to a peer that is already connected is not an error.
func (n *Node) Connect(addr peer.Peer) (ConnectResult, error) {
	if addr.Match(n.self) {
		return Self, nil
	}

	n.mu.RLock()
	for c := range n.outbound {
		if c.addr.Match(addr) {
			n.mu.RUnlock()
			return AlreadyConnected, nil
		}
	}
	n.mu.RUnlock()

	if n.full() {
		return 0, ErrMaxConnections
	}

	ctx := n.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	dialer := net.Dialer{Timeout: n.cfg.ReadTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := n.newConnection(conn, true)
	c.addr = addr

	if err := c.handshake(n.handshake()); err != nil {
		conn.Close()
		return 0, fmt.Errorf("connect %s: %w", addr, err)
	}

	switch {
	case c.id == n.id:
		conn.Close()
		return Self, nil

	case !n.register(c):
		conn.Close()
		return AlreadyConnected, nil
	}

	n.evHandler("network: Connect: peer[%s] addr[%s]: connected", short(c.id), addr)

	return Connected, nil
}

// SendAll broadcasts the message to every connection whose peer identity is
// not excluded. It returns the number of peers the message was written to.
func (n *Node) SendAll(msg Message, exclude ...string) int {
	frame, err := encodeFrame(msg)
	if err != nil {
		n.evHandler("network: SendAll: ERROR: %s", err)
		return 0
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var sent int
	for _, c := range n.connections() {
		if _, exists := skip[c.id]; exists {
			continue
		}

		if err := c.write(frame); err != nil {
			n.evHandler("network: SendAll: peer[%s]: WARNING: %s", short(c.id), err)
			continue
		}
		sent++
	}

	return sent
}

// Disconnect stops the connection with the specified peer identity. It
// reports whether such a connection existed.
func (n *Node) Disconnect(id string) bool {
	var found bool
	for _, c := range n.connections() {
		if c.id == id {
			c.Stop()
			found = true
		}
	}

	if found {
		n.evHandler("network: Disconnect: peer[%s]", short(id))
	}

	return found
}

// Peers returns the live connections.
func (n *Node) Peers() []PeerInfo {
	conns := n.connections()

	peers := make([]PeerInfo, 0, len(conns))
	for _, c := range conns {
		peers = append(peers, PeerInfo{ID: c.id, Addr: c.addr, Outbound: c.outbound})
	}

	return peers
}

// ClientAddrs returns the reachable addresses of every live connection: the
// dialed address of outbound peers and the announced address of inbound
// peers. This is the peer list advertised in the handshake.
func (n *Node) ClientAddrs() []peer.Peer {
	set := peer.NewPeerSet()
	for _, c := range n.connections() {
		if !c.addr.IsZero() {
			set.Add(c.addr)
		}
	}

	return set.Copy(n.self)
}

// PendingAddrs returns the addresses still waiting for a connection.
func (n *Node) PendingAddrs() []peer.Peer {
	return n.connect.Copy(n.self)
}

// =============================================================================

// acceptOperations accepts inbound connections until the listener closes.
func (n *Node) acceptOperations() {
	n.evHandler("network: acceptOperations: G started")
	defer n.evHandler("network: acceptOperations: G completed")

	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.stopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			n.evHandler("network: acceptOperations: ERROR: %s", err)
			continue
		}

		if n.full() {
			n.evHandler("network: acceptOperations: WARNING: refusing %s: %s", conn.RemoteAddr(), ErrMaxConnections)
			conn.Close()
			continue
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.accept(conn)
		}()
	}
}

// accept performs the handshake for an inbound connection.
func (n *Node) accept(conn net.Conn) {
	c := n.newConnection(conn, false)

	if err := c.handshake(n.handshake()); err != nil {
		n.evHandler("network: accept: remote[%s]: WARNING: %s", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	if c.id == n.id || !n.register(c) {
		conn.Close()
		return
	}

	n.evHandler("network: accept: peer[%s] addr[%s]: connected", short(c.id), c.addr)
}

// maintenanceOperations runs the reconnection and heartbeat cycles.
func (n *Node) maintenanceOperations() {
	n.evHandler("network: maintenanceOperations: G started")
	defer n.evHandler("network: maintenanceOperations: G completed")

	reconnect := time.NewTicker(n.cfg.ReconnectInterval)
	defer reconnect.Stop()

	heartbeat := time.NewTicker(n.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	n.reconnect()

	for {
		select {
		case <-reconnect.C:
			n.reconnect()

		case <-heartbeat.C:
			if msg, err := NewMessage(TypeHeartBeat, n.id, nil); err == nil {
				n.SendAll(msg)
			}

		case <-n.ctx.Done():
			return
		}
	}
}

// reconnect tries every pending address. Addresses that connected, or that
// turned out to be this node or an existing peer, are removed. Failures stay
// for the next cycle.
func (n *Node) reconnect() {
	for _, addr := range n.connect.Copy(n.self) {
		if n.stopped() {
			return
		}

		res, err := n.Connect(addr)
		if err != nil {
			n.evHandler("network: reconnect: addr[%s]: %s", addr, err)
			continue
		}

		n.connect.Remove(addr)
		n.evHandler("network: reconnect: addr[%s]: %s", addr, res)
	}
}

// handshake builds the local handshake payload.
func (n *Node) handshake() Handshake {
	return Handshake{
		ID:      n.id,
		Clients: n.ClientAddrs(),
		ActHost: n.self,
	}
}

// newConnection wraps the socket with the node's settings.
func (n *Node) newConnection(conn net.Conn, outbound bool) *Connection {
	limit := rate.Inf
	if n.cfg.MessageRate > 0 {
		limit = rate.Limit(n.cfg.MessageRate)
	}

	burst := n.cfg.MessageBurst
	if burst <= 0 {
		burst = max(int(n.cfg.MessageRate), 1)
	}

	return newConnection(connConfig{
		Conn:        conn,
		Outbound:    outbound,
		LocalID:     n.id,
		ReadTimeout: n.cfg.ReadTimeout,
		MessageRate: limit,
		BurstSize:   burst,
		OnMessage:   n.onMessage,
		OnClose:     n.onClose,
		EvHandler:   n.evHandler,
	})
}

// register adds the connection to its set and starts its receive loop. It
// refuses a second connection to the same peer identity.
func (n *Node) register(c *Connection) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped() {
		return false
	}

	for _, set := range []map[*Connection]struct{}{n.inbound, n.outbound} {
		for existing := range set {
			if existing.id == c.id {
				return false
			}
		}
	}

	if c.outbound {
		n.outbound[c] = struct{}{}
	} else {
		n.inbound[c] = struct{}{}
	}

	// Learn the addresses the peer is connected to, skipping the ones
	// already served by a live connection.
	known := make(map[peer.Peer]struct{})
	for _, set := range []map[*Connection]struct{}{n.inbound, n.outbound} {
		for existing := range set {
			known[existing.addr] = struct{}{}
		}
	}
	for _, addr := range c.clients {
		if _, exists := known[addr]; exists || addr.IsZero() || addr.Match(n.self) {
			continue
		}
		n.connect.Add(addr)
	}
	if c.outbound {
		n.connect.Remove(c.addr)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		c.run()
	}()

	return true
}

// onMessage hands a received message to the configured handler.
func (n *Node) onMessage(c *Connection, msg Message) {
	if msg.Type == TypeInitPing || msg.Type == TypeRespPong {
		return
	}

	if n.cfg.Handler != nil {
		n.cfg.Handler(msg)
	}
}

// onClose removes the connection. An outbound address that dropped without
// being stopped locally goes back on the connect list.
func (n *Node) onClose(c *Connection) {
	n.mu.Lock()
	delete(n.inbound, c)
	delete(n.outbound, c)
	n.mu.Unlock()

	if c.outbound && !c.isShutdown() && !n.stopped() {
		n.connect.Add(c.addr)
	}

	n.evHandler("network: onClose: peer[%s] addr[%s]: removed", short(c.id), c.addr)
}

// connections returns a snapshot of every live connection.
func (n *Node) connections() []*Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()

	conns := make([]*Connection, 0, len(n.inbound)+len(n.outbound))
	for c := range n.inbound {
		conns = append(conns, c)
	}
	for c := range n.outbound {
		conns = append(conns, c)
	}

	return conns
}

// full reports whether the connection limit is reached.
func (n *Node) full() bool {
	if n.cfg.MaxConnections <= 0 {
		return false
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.inbound)+len(n.outbound) >= n.cfg.MaxConnections
}

// stopped reports whether the node was shut down.
func (n *Node) stopped() bool {
	return n.ctx != nil && n.ctx.Err() != nil
}
