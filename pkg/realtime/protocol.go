package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every message of the JSON hub protocol
const RecordSeparator byte = 0x1E

// Hub message types used by the channel
const (
	MessageInvocation = 1
	MessagePing       = 6
	MessageClose      = 7
)

// ReceiveNotification is the hub method the backend invokes for pushes
const ReceiveNotification = "ReceiveNotification"

// HandshakeRequest is the first record a client sends after connecting
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server's answer; an empty Error means accepted
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// HubMessage is one record on the wire
type HubMessage struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// DefaultHandshake is the handshake for JSON protocol version 1
var DefaultHandshake = HandshakeRequest{Protocol: "json", Version: 1}

// EncodeRecord marshals v and appends the record separator
func EncodeRecord(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hub record: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// SplitRecords splits a frame into its records, dropping empty ones
func SplitRecords(frame []byte) [][]byte {
	var records [][]byte
	for _, part := range bytes.Split(frame, []byte{RecordSeparator}) {
		if len(bytes.TrimSpace(part)) > 0 {
			records = append(records, part)
		}
	}
	return records
}

// NewInvocation builds an invocation message for target
func NewInvocation(target string, args ...interface{}) (*HubMessage, error) {
	msg := &HubMessage{Type: MessageInvocation, Target: target}
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument for %s: %w", target, err)
		}
		msg.Arguments = append(msg.Arguments, data)
	}
	return msg, nil
}
