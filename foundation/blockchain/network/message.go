// Package network implements the peer to peer gossip layer: framed message
// connections, the handshake and the node managing the set of peers.
package network

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ledgerkit/node/foundation/blockchain/peer"
	"github.com/ledgerkit/node/foundation/blockchain/signature"
)

// Delimiter terminates every frame on the wire. The canonical encoding
// escapes control characters so it never appears inside a message.
const Delimiter byte = 0x14

// MessageType defines the type of a peer message.
type MessageType string

// Set of message types.
const (
	TypeInitPing       MessageType = "init_ping"
	TypeRespPong       MessageType = "resp_pong"
	TypeHeartBeat      MessageType = "heart_beat"
	TypeAddTransaction MessageType = "add_transaction"
	TypeNewBlock       MessageType = "new_block"
	TypeDisconnect     MessageType = "disconnect"
)

var messageTypes = map[MessageType]struct{}{
	TypeInitPing:       {},
	TypeRespPong:       {},
	TypeHeartBeat:      {},
	TypeAddTransaction: {},
	TypeNewBlock:       {},
	TypeDisconnect:     {},
}

// Message represents one frame exchanged between nodes. The data shape
// depends on the type: Handshake for init_ping and resp_pong, a transaction
// for add_transaction, a block for new_block, and an empty object otherwise.
type Message struct {
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data"`
	NodeID string          `json:"node_id"`
}

// Handshake is the payload of the init_ping and resp_pong messages.
type Handshake struct {
	ID      string      `json:"id"`
	Clients []peer.Peer `json:"clients"`
	ActHost peer.Peer   `json:"act_host"`
}

// NewMessage creates a message of the specified type with the payload
// encoded as its data. A nil payload is sent as an empty object.
func NewMessage(typ MessageType, nodeID string, payload any) (Message, error) {
	data := json.RawMessage(`{}`)

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		data = b
	}

	msg := Message{
		Type:   typ,
		Data:   data,
		NodeID: nodeID,
	}

	return msg, nil
}

// Decode unmarshals the message data into the provided value.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// String implements the fmt.Stringer interface for logging.
func (m Message) String() string {
	return fmt.Sprintf("%s from %s", m.Type, short(m.NodeID))
}

// =============================================================================

// encodeFrame returns the canonical encoding of the message followed by the
// delimiter.
func encodeFrame(msg Message) ([]byte, error) {
	if msg.Data == nil {
		msg.Data = json.RawMessage(`{}`)
	}

	data, err := signature.Canonical(msg)
	if err != nil {
		return nil, err
	}

	return append(data, Delimiter), nil
}

// decodeFrame parses one frame without its delimiter.
func decodeFrame(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}

	if _, exists := messageTypes[msg.Type]; !exists {
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}

	return msg, nil
}

// splitFrames extracts every complete frame from the buffer and returns the
// remaining partial frame.
func splitFrames(buf []byte) (frames [][]byte, rest []byte) {
	for {
		idx := bytes.IndexByte(buf, Delimiter)
		if idx == -1 {
			return frames, buf
		}

		if idx > 0 {
			frames = append(frames, buf[:idx])
		}
		buf = buf[idx+1:]
	}
}

func short(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
