// Package peer maintains the peer related information such as the set
// of known peer addresses.
package peer

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
)

// Peer represents the reachable address of a Node in the network. On the
// wire it is encoded as the two element array [host, port].
type Peer struct {
	Host string
	Port int
}

// New contructs a new peer value.
func New(host string, port int) Peer {
	return Peer{
		Host: host,
		Port: port,
	}
}

// Parse converts a "host:port" string into a peer.
func Parse(hostPort string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return Peer{}, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Peer{}, fmt.Errorf("invalid port %q", portStr)
	}

	return New(host, port), nil
}

// Match validates if the specified peer matches this peer.
func (p Peer) Match(other Peer) bool {
	return p == other
}

// String returns the "host:port" form used for dialing.
func (p Peer) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// IsZero reports whether the address is unset.
func (p Peer) IsZero() bool {
	return p.Host == "" && p.Port == 0
}

// MarshalJSON implements the json.Marshaler interface.
func (p Peer) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Host, p.Port})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Peer) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}

	if len(pair) != 2 {
		return fmt.Errorf("peer address: expected [host, port], got %d elements", len(pair))
	}

	var host string
	if err := json.Unmarshal(pair[0], &host); err != nil {
		return fmt.Errorf("peer host: %w", err)
	}

	var port int
	if err := json.Unmarshal(pair[1], &port); err != nil {
		return fmt.Errorf("peer port: %w", err)
	}

	p.Host = host
	p.Port = port

	return nil
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]struct{}
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]struct{}),
	}
}

// Add adds a new peer to the set. It reports whether the set changed.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = struct{}{}
		return true
	}

	return false
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Contains reports whether the peer is in the set.
func (ps *PeerSet) Contains(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[peer]
	return exists
}

// Len returns the number of peers in the set.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns a sorted list of the known peers excluding the specified one.
func (ps *PeerSet) Copy(exclude Peer) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peers := make([]Peer, 0, len(ps.set))
	for peer := range ps.set {
		if !peer.Match(exclude) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Host == peers[j].Host {
			return peers[i].Port < peers[j].Port
		}
		return peers[i].Host < peers[j].Host
	})

	return peers
}
