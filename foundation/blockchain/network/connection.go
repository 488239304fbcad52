package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/peer"
	"golang.org/x/time/rate"
)

// Connection settings.
const (
	readSize     = 4096
	maxFrameSize = 4 << 20
	writeTimeout = 5 * time.Second
)

// ErrHandshake is returned when the remote side does not complete the
// handshake as expected.
var ErrHandshake = errors.New("handshake failed")

// connConfig represents the configuration required to construct a
// connection.
type connConfig struct {
	Conn        net.Conn
	Outbound    bool
	LocalID     string
	ReadTimeout time.Duration
	MessageRate rate.Limit
	BurstSize   int
	OnMessage   func(c *Connection, msg Message)
	OnClose     func(c *Connection)
	EvHandler   EventHandler
}

// Connection represents a framed, bidirectional message channel with one
// peer. It is created by the Node and is only usable after the handshake.
type Connection struct {
	conn        net.Conn
	outbound    bool
	localID     string
	readTimeout time.Duration
	limiter     *rate.Limiter
	onMessage   func(c *Connection, msg Message)
	onClose     func(c *Connection)
	evHandler   EventHandler

	id      string    // Identity the peer announced in the handshake.
	addr    peer.Peer // Dialed address, or the address the peer announced.
	clients []peer.Peer
	pending []byte

	sendMu   sync.Mutex
	shut     chan struct{}
	stopOnce sync.Once
}

// newConnection wraps the socket. The handshake must be run before the
// connection is started.
func newConnection(cfg connConfig) *Connection {
	if cfg.MessageRate == 0 {
		cfg.MessageRate = rate.Inf
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}

	return &Connection{
		conn:        cfg.Conn,
		outbound:    cfg.Outbound,
		localID:     cfg.LocalID,
		readTimeout: cfg.ReadTimeout,
		limiter:     rate.NewLimiter(cfg.MessageRate, cfg.BurstSize),
		onMessage:   cfg.OnMessage,
		onClose:     cfg.OnClose,
		evHandler:   cfg.EvHandler,
		shut:        make(chan struct{}),
	}
}

// ID returns the identity the peer announced in the handshake.
func (c *Connection) ID() string {
	return c.id
}

// Addr returns the reachable address of the peer.
func (c *Connection) Addr() peer.Peer {
	return c.addr
}

// Outbound reports whether this side dialed the connection.
func (c *Connection) Outbound() bool {
	return c.outbound
}

// Send encodes the message and writes the frame. Concurrent sends are
// serialised so frames never interleave.
func (c *Connection) Send(msg Message) error {
	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	return c.write(frame)
}

// Stop signals the receive loop to terminate, sends a best effort disconnect
// notice naming the local node and closes the socket. It does not wait for
// the receive loop to return.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		close(c.shut)

		if msg, err := NewMessage(TypeDisconnect, c.localID, nil); err == nil {
			if err := c.Send(msg); err != nil {
				c.evHandler("network: Stop: peer[%s]: disconnect notice: %s", short(c.id), err)
			}
		}

		c.conn.Close()
	})
}

// =============================================================================

// handshake exchanges the init_ping and resp_pong messages. The dialing side
// speaks first. The read timeout bounds the whole exchange.
func (c *Connection) handshake(local Handshake) error {
	c.conn.SetDeadline(time.Now().Add(c.readTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if c.outbound {
		if err := c.sendHandshake(TypeInitPing, local); err != nil {
			return err
		}
	}

	msg, err := c.readFirst()
	if err != nil {
		return err
	}

	exp := TypeRespPong
	if !c.outbound {
		exp = TypeInitPing
	}

	if msg.Type != exp {
		return fmt.Errorf("%w: got %s, exp %s", ErrHandshake, msg.Type, exp)
	}

	var remote Handshake
	if err := msg.Decode(&remote); err != nil {
		return fmt.Errorf("%w: %s", ErrHandshake, err)
	}

	if remote.ID == "" {
		return fmt.Errorf("%w: missing node id", ErrHandshake)
	}

	c.id = remote.ID
	c.clients = remote.Clients
	if !c.outbound || c.addr.IsZero() {
		c.addr = remote.ActHost
	}

	if !c.outbound {
		if err := c.sendHandshake(TypeRespPong, local); err != nil {
			return err
		}
	}

	return nil
}

// sendHandshake sends one of the handshake messages.
func (c *Connection) sendHandshake(typ MessageType, local Handshake) error {
	msg, err := NewMessage(typ, c.localID, local)
	if err != nil {
		return err
	}

	return c.Send(msg)
}

// readFirst blocks until one complete frame arrives. Bytes following that
// frame are kept for the receive loop.
func (c *Connection) readFirst() (Message, error) {
	buf := make([]byte, readSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)

			frames, rest := splitFrames(c.pending)
			if len(frames) > 0 {
				var tail []byte
				for _, f := range frames[1:] {
					tail = append(append(tail, f...), Delimiter)
				}
				c.pending = append(tail, rest...)

				return decodeFrame(frames[0])
			}

			if len(c.pending) > maxFrameSize {
				return Message{}, fmt.Errorf("%w: frame too large", ErrHandshake)
			}
		}

		if err != nil {
			return Message{}, fmt.Errorf("%w: %s", ErrHandshake, err)
		}
	}
}

// run is the receive loop. Reads are bounded by the read timeout and simply
// retried when it expires. Malformed frames are logged and dropped.
func (c *Connection) run() {
	c.evHandler("network: run: peer[%s] addr[%s] outbound[%v]: G started", short(c.id), c.addr, c.outbound)
	defer func() {
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.evHandler("network: run: peer[%s]: G completed", short(c.id))
	}()

	c.deliver()

	buf := make([]byte, readSize)
	for {
		if c.isShutdown() {
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			c.deliver()
		}

		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}

			if !c.isShutdown() {
				c.evHandler("network: run: peer[%s]: read: %s", short(c.id), err)
			}
			return
		}
	}
}

// deliver hands every complete frame in the buffer to the message callback.
func (c *Connection) deliver() {
	frames, rest := splitFrames(c.pending)
	c.pending = rest

	if len(c.pending) > maxFrameSize {
		c.evHandler("network: deliver: peer[%s]: WARNING: dropping oversized frame", short(c.id))
		c.pending = nil
	}

	for _, frame := range frames {
		if !c.limiter.Allow() {
			c.evHandler("network: deliver: peer[%s]: WARNING: rate limit exceeded, frame dropped", short(c.id))
			continue
		}

		msg, err := decodeFrame(frame)
		if err != nil {
			c.evHandler("network: deliver: peer[%s]: WARNING: %s", short(c.id), err)
			continue
		}

		// The sender is identified by the connection it arrived on.
		msg.NodeID = c.id

		if c.onMessage != nil {
			c.onMessage(c, msg)
		}
	}
}

// write sends the frame with a deadline so a stalled peer can't block the
// caller forever.
func (c *Connection) write(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send to %s: %w", short(c.id), err)
	}

	return nil
}

// isShutdown is used to test if a shutdown has been signaled.
func (c *Connection) isShutdown() bool {
	select {
	case <-c.shut:
		return true
	default:
		return false
	}
}
