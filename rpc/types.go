package rpc

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrTransport wraps every failure that is not a JSON-RPC error object:
	// dial and write failures, a closed connection, malformed responses.
	ErrTransport = errors.New("rpc: transport failure")
	ErrClosed    = errors.New("rpc: client closed")
)

// Request is a jsonrpc request
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Response is a jsonrpc response or a subscription notification
type Response struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      *uint64             `json:"id,omitempty"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *Error              `json:"error,omitempty"`
	Method  string              `json:"method,omitempty"`
	Params  *Notification       `json:"params,omitempty"`
}

// Notification is the params object of a subscription message.
type Notification struct {
	Subscription string              `json:"subscription"`
	Result       jsoniter.RawMessage `json:"result"`
}

// Error is a jsonrpc error object
type Error struct {
	Code    int                 `json:"code"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}

	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func transportError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}
