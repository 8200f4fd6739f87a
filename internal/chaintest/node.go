package chaintest

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultFinalized uint64 = 1_000_000
	DefaultHead      uint64 = 1_000_003
	DefaultNonce     uint32 = 7

	subscriptionID = "sub-1"
)

// Handler serves one JSON-RPC method. Returning an *RPCError sends it as
// the error object; any other error is sent with code -32000.
type Handler func(params []jsoniter.RawMessage) (any, error)

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

type request struct {
	ID     uint64                `json:"id"`
	Method string                `json:"method"`
	Params []jsoniter.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      *uint64   `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
	Method  string    `json:"method,omitempty"`
	Params  any       `json:"params,omitempty"`
}

// Node is an in-process Substrate JSON-RPC node over a websocket. It serves
// the chain methods the SDK reads from fixture state and replays a scripted
// list of transaction status updates to every watched submission.
type Node struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	lock      sync.Mutex
	handlers  map[string]Handler
	calls     map[string]int
	submitted [][]byte
	statuses  []any
	unwatched []string
	conns     []*websocket.Conn

	finalized uint64
	head      uint64
	nonce     uint32
	meta      metadata.RuntimeMetadata
}

// NewNode starts a node serving MetadataV14. It is closed with the test.
func NewNode(t testing.TB) *Node {
	t.Helper()

	n := &Node{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		handlers:  make(map[string]Handler),
		calls:     make(map[string]int),
		finalized: DefaultFinalized,
		head:      DefaultHead,
		nonce:     DefaultNonce,
		meta:      MetadataV14(),
		statuses:  []any{"ready", map[string]any{"inBlock": hexutil.Encode(BlockHash(DefaultHead + 1))}},
	}

	n.registerDefaults()

	n.server = httptest.NewServer(http.HandlerFunc(n.serveWS))
	t.Cleanup(n.Close)

	return n
}

// URL is the ws:// endpoint of the node.
func (n *Node) URL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *Node) Close() {
	n.lock.Lock()
	for _, c := range n.conns {
		c.Close()
	}
	n.lock.Unlock()

	n.server.Close()
}

// Handle replaces the handler of method.
func (n *Node) Handle(method string, h Handler) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.handlers[method] = h
}

// SetStatuses scripts the updates sent after author_submitAndWatchExtrinsic.
func (n *Node) SetStatuses(statuses ...any) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.statuses = statuses
}

// SetChain sets the finalized and the head block numbers.
func (n *Node) SetChain(finalized, head uint64) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.finalized, n.head = finalized, head
}

func (n *Node) SetNonce(nonce uint32) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.nonce = nonce
}

// SetMetadata sets the metadata served by state_getMetadata.
func (n *Node) SetMetadata(m metadata.RuntimeMetadata) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.meta = m
}

// Calls returns how often method was called.
func (n *Node) Calls(method string) int {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.calls[method]
}

// Submitted returns the extrinsics received so far.
func (n *Node) Submitted() [][]byte {
	n.lock.Lock()
	defer n.lock.Unlock()

	return append([][]byte{}, n.submitted...)
}

// Unwatched returns the subscription ids passed to author_unwatchExtrinsic.
func (n *Node) Unwatched() []string {
	n.lock.Lock()
	defer n.lock.Unlock()

	return append([]string{}, n.unwatched...)
}

// BlockHash is the fixture hash of block number. It encodes the number so
// headers can be served for any hash.
func BlockHash(number uint64) []byte {
	h := make([]byte, 32)
	h[0] = 0xbb
	binary.BigEndian.PutUint64(h[24:], number)

	return h
}

// GenesisHash is BlockHash(0).
func GenesisHash() []byte {
	return BlockHash(0)
}

func blockNumberOf(hash []byte) (uint64, bool) {
	if len(hash) != 32 || hash[0] != 0xbb {
		return 0, false
	}

	return binary.BigEndian.Uint64(hash[24:]), true
}

func header(number uint64) map[string]any {
	parent := ""
	if number > 0 {
		parent = hexutil.Encode(BlockHash(number - 1))
	}

	return map[string]any{
		"parentHash":     parent,
		"number":         "0x" + strconv.FormatUint(number, 16),
		"stateRoot":      hexutil.Encode(make([]byte, 32)),
		"extrinsicsRoot": hexutil.Encode(make([]byte, 32)),
		"digest":         map[string]any{"logs": []string{}},
	}
}

func (n *Node) registerDefaults() {
	n.handlers["state_getRuntimeVersion"] = func([]jsoniter.RawMessage) (any, error) {
		return map[string]any{
			"specName":           "peaq-node",
			"implName":           "peaq-node",
			"specVersion":        SpecVersion,
			"implVersion":        1,
			"transactionVersion": TransactionVersion,
		}, nil
	}

	n.handlers["state_getMetadata"] = func([]jsoniter.RawMessage) (any, error) {
		n.lock.Lock()
		m := n.meta
		n.lock.Unlock()

		return hexutil.Encode(EncodedMetadata(m)), nil
	}

	n.handlers["chain_getBlockHash"] = func(params []jsoniter.RawMessage) (any, error) {
		var number uint64
		if len(params) > 0 {
			if err := json.Unmarshal(params[0], &number); err != nil {
				return nil, &RPCError{Code: -32602, Message: "invalid block number"}
			}
		}

		return hexutil.Encode(BlockHash(number)), nil
	}

	n.handlers["chain_getFinalizedHead"] = func([]jsoniter.RawMessage) (any, error) {
		n.lock.Lock()
		defer n.lock.Unlock()

		return hexutil.Encode(BlockHash(n.finalized)), nil
	}

	n.handlers["chain_getHeader"] = func(params []jsoniter.RawMessage) (any, error) {
		n.lock.Lock()
		number := n.head
		n.lock.Unlock()

		if len(params) > 0 {
			var raw string
			if err := json.Unmarshal(params[0], &raw); err != nil {
				return nil, &RPCError{Code: -32602, Message: "invalid hash"}
			}

			hash, err := hexutil.Decode(raw)
			if err != nil {
				return nil, &RPCError{Code: -32602, Message: "invalid hash"}
			}

			num, ok := blockNumberOf(hash)
			if !ok {
				return nil, nil
			}

			number = num
		}

		return header(number), nil
	}

	n.handlers["system_accountNextIndex"] = func(params []jsoniter.RawMessage) (any, error) {
		if len(params) != 1 {
			return nil, &RPCError{Code: -32602, Message: "expected an account"}
		}

		n.lock.Lock()
		defer n.lock.Unlock()

		return n.nonce, nil
	}

	n.handlers["author_unwatchExtrinsic"] = func(params []jsoniter.RawMessage) (any, error) {
		var id string
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &id)
		}

		n.lock.Lock()
		n.unwatched = append(n.unwatched, id)
		n.lock.Unlock()

		return true, nil
	}
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	n.lock.Lock()
	n.conns = append(n.conns, conn)
	n.lock.Unlock()

	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		if !n.dispatch(conn, &req) {
			return
		}
	}
}

// dispatch answers one request. It reports false when the connection was
// closed on purpose.
func (n *Node) dispatch(conn *websocket.Conn, req *request) bool {
	n.lock.Lock()
	n.calls[req.Method]++
	h, ok := n.handlers[req.Method]
	n.lock.Unlock()

	id := req.ID

	if req.Method == "author_submitAndWatchExtrinsic" && !ok {
		return n.submitAndWatch(conn, req)
	}

	if !ok {
		return n.send(conn, &response{JSONRPC: "2.0", ID: &id, Error: &RPCError{Code: -32601, Message: "Method not found"}})
	}

	result, err := h(req.Params)
	if err != nil {
		rpcErr, isRPC := err.(*RPCError)
		if !isRPC {
			rpcErr = &RPCError{Code: -32000, Message: err.Error()}
		}

		return n.send(conn, &response{JSONRPC: "2.0", ID: &id, Error: rpcErr})
	}

	if result == nil {
		// null results need an explicit field
		return n.sendRaw(conn, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":null}`, id))
	}

	return n.send(conn, &response{JSONRPC: "2.0", ID: &id, Result: result})
}

// CloseConnection is a status entry that drops the connection instead of
// sending an update.
type CloseConnection struct{}

func (n *Node) submitAndWatch(conn *websocket.Conn, req *request) bool {
	id := req.ID

	var raw string
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params[0], &raw)
	}

	ext, err := hexutil.Decode(raw)
	if err != nil {
		return n.send(conn, &response{JSONRPC: "2.0", ID: &id, Error: &RPCError{Code: -32602, Message: "invalid extrinsic"}})
	}

	n.lock.Lock()
	n.submitted = append(n.submitted, ext)
	statuses := append([]any{}, n.statuses...)
	n.lock.Unlock()

	if !n.send(conn, &response{JSONRPC: "2.0", ID: &id, Result: subscriptionID}) {
		return false
	}

	for _, status := range statuses {
		if _, ok := status.(CloseConnection); ok {
			conn.Close()
			return false
		}

		note := &response{
			JSONRPC: "2.0",
			Method:  "author_extrinsicUpdate",
			Params:  map[string]any{"subscription": subscriptionID, "result": status},
		}

		if !n.send(conn, note) {
			return false
		}
	}

	return true
}

func (n *Node) send(conn *websocket.Conn, resp *response) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		return false
	}

	return conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (n *Node) sendRaw(conn *websocket.Conn, frame string) bool {
	return conn.WriteMessage(websocket.TextMessage, []byte(frame)) == nil
}
