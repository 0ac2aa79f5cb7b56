// Package protocol defines the graphql-ws frames exchanged between clients
// and the collaboration server.
package protocol

import (
	"encoding/json"
	"errors"
)

var errMissingType = errors.New("message has no type")

// Subprotocol is negotiated during the websocket upgrade.
const Subprotocol = "graphql-ws"

type MessageType string

// Client to server.
const (
	MsgConnectionInit      MessageType = "connection_init"
	MsgStart               MessageType = "start"
	MsgStop                MessageType = "stop"
	MsgConnectionTerminate MessageType = "connection_terminate"

	// Short aliases accepted from clients.
	MsgInit      MessageType = "init"
	MsgTerminate MessageType = "terminate"
)

// Server to client.
const (
	MsgConnectionAck   MessageType = "connection_ack"
	MsgConnectionError MessageType = "connection_error"
	MsgData            MessageType = "data"
	MsgError           MessageType = "error"
	MsgComplete        MessageType = "complete"
	MsgKeepAlive       MessageType = "ka"
)

// Operation kinds carried by a start payload.
const (
	OperationQuery        = "query"
	OperationMutation     = "mutation"
	OperationSubscription = "subscription"
)

// Message is one frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitPayload is the payload of connection_init.
type InitPayload struct {
	AuthToken string `json:"authToken,omitempty"`
}

// StartPayload names the operation a start message runs.
type StartPayload struct {
	Operation     string          `json:"operation"`
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

// ErrorEntry is one element of an error payload.
type ErrorEntry struct {
	Message string `json:"message"`
}

// ConnectionErrorPayload is the payload of connection_error.
type ConnectionErrorPayload struct {
	Message string `json:"message"`
}

// DataPayload wraps an operation result under its operation name. Errors
// carries problems that did not prevent the result, such as a change that
// was applied but could not be persisted.
type DataPayload struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []ErrorEntry               `json:"errors,omitempty"`
}

// New builds a message, encoding payload unless it is nil.
func New(typ MessageType, id string, payload any) (Message, error) {
	msg := Message{ID: id, Type: typ}
	if payload == nil {
		return msg, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		msg.Payload = raw
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = data
	return msg, nil
}

// Start builds a start message.
func Start(id, operation, operationName string, variables any) (Message, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return Message{}, err
	}
	return New(MsgStart, id, StartPayload{
		Operation:     operation,
		OperationName: operationName,
		Variables:     vars,
	})
}

// Data builds a data message carrying value under operationName. Each
// warning becomes an entry of the payload errors.
func Data(id, operationName string, value any, warnings ...string) (Message, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, err
	}
	payload := DataPayload{Data: map[string]json.RawMessage{operationName: raw}}
	for _, w := range warnings {
		payload.Errors = append(payload.Errors, ErrorEntry{Message: w})
	}
	return New(MsgData, id, payload)
}

// Error builds an error message with a single entry.
func Error(id, message string) Message {
	msg, _ := New(MsgError, id, []ErrorEntry{{Message: message}})
	return msg
}

// ConnectionError builds a connection_error message.
func ConnectionError(message string) Message {
	msg, _ := New(MsgConnectionError, "", ConnectionErrorPayload{Message: message})
	return msg
}

// Parse decodes a frame. A frame without a type is malformed.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errMissingType
	}
	return msg, nil
}
