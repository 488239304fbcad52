package network_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/peer"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	*network.Node
	received chan network.Message
}

func startNode(t *testing.T, bootstrap ...peer.Peer) testNode {
	t.Helper()
	return startNodeWith(t, nil, bootstrap...)
}

// startNodeWith starts a node on a system assigned port after letting the
// caller adjust the configuration.
func startNodeWith(t *testing.T, adjust func(cfg *network.Config), bootstrap ...peer.Peer) testNode {
	t.Helper()

	received := make(chan network.Message, 100)

	cfg := network.Config{
		Host:              "127.0.0.1",
		Port:              0,
		Bootstrap:         bootstrap,
		ReadTimeout:       time.Second,
		HeartbeatInterval: time.Hour,
		ReconnectInterval: 100 * time.Millisecond,
		Handler:           func(msg network.Message) { received <- msg },
		EvHandler:         func(v string, args ...any) { t.Logf(v, args...) },
	}

	if adjust != nil {
		adjust(&cfg)
	}

	n := network.New(cfg)

	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Shutdown)

	return testNode{Node: n, received: received}
}

func peerIDs(n testNode) map[string]bool {
	ids := make(map[string]bool)
	for _, p := range n.Peers() {
		ids[p.ID] = true
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 20*time.Millisecond, what)
}

func receive(t *testing.T, n testNode, typ network.MessageType) network.Message {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-n.received:
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("Should receive a %s message.", typ)
		}
	}
}

func Test_Connect(t *testing.T) {
	a := startNode(t)
	b := startNode(t)

	require.NotZero(t, a.Addr().Port, "the assigned port is reported")
	require.NotEqual(t, a.ID(), b.ID())

	res, err := b.Connect(b.Addr())
	require.NoError(t, err)
	require.Equal(t, network.Self, res)

	res, err = b.Connect(a.Addr())
	require.NoError(t, err)
	require.Equal(t, network.Connected, res)

	res, err = b.Connect(a.Addr())
	require.NoError(t, err)
	require.Equal(t, network.AlreadyConnected, res)

	waitFor(t, "both sides register the connection", func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	})

	require.Equal(t, a.ID(), b.Peers()[0].ID)
	require.True(t, b.Peers()[0].Outbound)
	require.Equal(t, b.ID(), a.Peers()[0].ID)
	require.Equal(t, b.Addr(), a.Peers()[0].Addr, "the inbound side learns the announced address")
	require.Equal(t, []peer.Peer{a.Addr()}, b.ClientAddrs())

	_, err = b.Connect(peer.New("127.0.0.1", 1))
	require.Error(t, err, "an unreachable address fails")
}

func Test_Gossip(t *testing.T) {
	a := startNode(t)
	b := startNode(t, a.Addr())
	c := startNode(t, a.Addr())

	waitFor(t, "both nodes connect through the bootstrap list", func() bool {
		return len(a.Peers()) >= 2
	})

	msg, err := network.NewMessage(network.TypeAddTransaction, a.ID(), map[string]string{"id": "tx"})
	require.NoError(t, err)

	sent := a.SendAll(msg, b.ID())
	require.Equal(t, 1, sent, "the excluded peer is skipped")

	got := receive(t, c, network.TypeAddTransaction)
	require.Equal(t, a.ID(), got.NodeID)

	var data map[string]string
	require.NoError(t, got.Decode(&data))
	require.Equal(t, "tx", data["id"])

	select {
	case msg := <-b.received:
		if msg.Type == network.TypeAddTransaction {
			t.Fatal("Should not send to the excluded peer.")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func Test_Disconnect(t *testing.T) {
	a := startNode(t)
	b := startNode(t)

	_, err := b.Connect(a.Addr())
	require.NoError(t, err)

	waitFor(t, "a registers the inbound connection", func() bool {
		return len(a.Peers()) == 1
	})

	require.False(t, b.Disconnect("unknown"))
	require.True(t, b.Disconnect(a.ID()))

	got := receive(t, a, network.TypeDisconnect)
	require.Equal(t, b.ID(), got.NodeID)

	waitFor(t, "the connection is removed on both sides", func() bool {
		return len(b.Peers()) == 0
	})

	require.Empty(t, b.PendingAddrs(), "a locally stopped connection is not retried")
}

func Test_MaxConnections(t *testing.T) {
	a := network.New(network.Config{
		Host:              "127.0.0.1",
		MaxConnections:    1,
		ReadTimeout:       time.Second,
		HeartbeatInterval: time.Hour,
		ReconnectInterval: time.Hour,
	})
	require.NoError(t, a.Start(context.Background()))
	defer a.Shutdown()

	b := startNode(t)
	c := startNode(t)

	_, err := a.Connect(b.Addr())
	require.NoError(t, err)

	_, err = a.Connect(c.Addr())
	require.ErrorIs(t, err, network.ErrMaxConnections)
}

func Test_Discovery(t *testing.T) {
	a := startNode(t)
	b := startNode(t, a.Addr())

	waitFor(t, "b connects to the hub", func() bool {
		return len(a.Peers()) == 1
	})
	require.Equal(t, []peer.Peer{b.Addr()}, a.ClientAddrs(), "the hub advertises its inbound peer")

	c := startNode(t, a.Addr())

	waitFor(t, "c learns b from the hub handshake and connects", func() bool {
		return peerIDs(b)[c.ID()] && peerIDs(c)[b.ID()]
	})

	require.True(t, peerIDs(a)[b.ID()])
	require.True(t, peerIDs(a)[c.ID()])
	waitFor(t, "every learned address is connected", func() bool {
		return len(c.PendingAddrs()) == 0 && len(b.PendingAddrs()) == 0
	})
}

func Test_HandshakeTimeout(t *testing.T) {
	a := startNode(t)

	t.Run("inbound", func(t *testing.T) {
		conn, err := net.Dial("tcp", a.Addr().String())
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		start := time.Now()
		_, err = conn.Read(make([]byte, 64))
		require.Error(t, err, "a silent dialer is dropped")

		var netErr net.Error
		if errors.As(err, &netErr) {
			require.False(t, netErr.Timeout(), "the node closes the socket before the client deadline")
		}
		require.Less(t, time.Since(start), 4*time.Second)
		require.Empty(t, a.Peers())
	})

	t.Run("outbound", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			time.Sleep(3 * time.Second)
		}()

		addr := ln.Addr().(*net.TCPAddr)

		_, err = a.Connect(peer.New("127.0.0.1", addr.Port))
		require.ErrorIs(t, err, network.ErrHandshake, "a silent listener fails the handshake")
		require.Empty(t, a.Peers())
	})
}

func Test_Reconnect(t *testing.T) {
	a := startNode(t)

	var connects atomic.Int32
	b := startNodeWith(t, func(cfg *network.Config) {
		ev := cfg.EvHandler
		cfg.EvHandler = func(v string, args ...any) {
			if strings.HasPrefix(v, "network: Connect:") {
				connects.Add(1)
			}
			ev(v, args...)
		}
	}, a.Addr())

	waitFor(t, "b connects through the bootstrap list", func() bool {
		return len(a.Peers()) == 1 && connects.Load() == 1
	})

	require.True(t, a.Disconnect(b.ID()), "the remote side drops the connection")

	got := receive(t, b, network.TypeDisconnect)
	require.Equal(t, a.ID(), got.NodeID)

	waitFor(t, "b puts the address back and reconnects", func() bool {
		return connects.Load() >= 2 && peerIDs(b)[a.ID()] && peerIDs(a)[b.ID()]
	})
}

func Test_Heartbeat(t *testing.T) {
	a := startNodeWith(t, func(cfg *network.Config) {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	})
	b := startNode(t, a.Addr())

	got := receive(t, b, network.TypeHeartBeat)
	require.Equal(t, a.ID(), got.NodeID)
}
