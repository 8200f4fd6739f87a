// Package rpc is a JSON-RPC 2.0 client for Substrate nodes over a websocket,
// with support for pub/sub subscriptions.
package rpc

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultDialRetries = 3
	DefaultDialBackoff = 200 * time.Millisecond

	subscriptionBuffer = 16
)

type config struct {
	logger      hclog.Logger
	header      http.Header
	dialRetries uint64
	dialBackoff time.Duration
}

type Option func(*config)

func WithLogger(logger hclog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithHeader sets extra headers sent with the websocket handshake.
func WithHeader(header http.Header) Option {
	return func(c *config) {
		c.header = header
	}
}

// WithDialRetries sets how often a failed dial is retried with exponential
// backoff starting at base.
func WithDialRetries(retries uint64, base time.Duration) Option {
	return func(c *config) {
		c.dialRetries = retries
		c.dialBackoff = base
	}
}

type pendingCall struct {
	ch  chan *Response
	sub *Subscription
	err error
}

// Client is a websocket JSON-RPC client. It is safe for concurrent use. A
// single goroutine reads frames and routes responses and notifications.
type Client struct {
	logger hclog.Logger
	conn   *websocket.Conn

	// gorilla/websocket supports one concurrent writer
	writeLock sync.Mutex

	lock    sync.Mutex
	pending map[uint64]*pendingCall
	subs    map[string]*Subscription
	err     error

	nextID    atomic.Uint64
	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}
}

// Dial connects to a websocket endpoint, retrying failed handshakes.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	cfg := &config{
		logger:      hclog.NewNullLogger(),
		dialRetries: DefaultDialRetries,
		dialBackoff: DefaultDialBackoff,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger.Named("rpc")

	var conn *websocket.Conn

	backoff := retry.WithMaxRetries(cfg.dialRetries, retry.NewExponential(cfg.dialBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, cfg.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		if err != nil {
			logger.Debug("dial failed", "endpoint", endpoint, "err", err)

			return retry.RetryableError(err)
		}

		conn = c

		return nil
	})
	if err != nil {
		return nil, transportError("failed to dial %s: %v", endpoint, err)
	}

	return newClient(conn, logger), nil
}

func newClient(conn *websocket.Conn, logger hclog.Logger) *Client {
	c := &Client{
		logger:  logger,
		conn:    conn,
		pending: make(map[uint64]*pendingCall),
		subs:    make(map[string]*Subscription),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// Call invokes method and decodes the result into result, which may be nil.
// A JSON-RPC error object is returned as *Error; everything else wraps
// ErrTransport.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) error {
	resp, err := c.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Result, result); err != nil {
		return transportError("malformed %s result: %v", method, err)
	}

	return nil
}

// Subscribe starts a subscription. Notifications for it are delivered on
// the returned subscription until it is unsubscribed or the client fails.
func (c *Client) Subscribe(ctx context.Context, method, unsubscribeMethod string, params ...any) (*Subscription, error) {
	sub := &Subscription{
		client:      c,
		method:      method,
		unsubMethod: unsubscribeMethod,
		ch:          make(chan jsoniter.RawMessage, subscriptionBuffer),
		errCh:       make(chan error, 1),
		done:        make(chan struct{}),
	}

	if _, err := c.roundTrip(ctx, method, params, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params []any, sub *Subscription) (*Response, error) {
	if params == nil {
		params = []any{}
	}

	id := c.nextID.Add(1)
	call := &pendingCall{ch: make(chan *Response, 1), sub: sub}

	c.lock.Lock()
	if c.err != nil {
		err := c.err
		c.lock.Unlock()

		return nil, err
	}
	c.pending[id] = call
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		delete(c.pending, id)
		c.lock.Unlock()
	}()

	if err := c.write(ctx, &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-call.ch:
		if !ok {
			return nil, c.failure()
		}

		if call.err != nil {
			return nil, call.err
		}

		if resp.Error != nil {
			return nil, resp.Error
		}

		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return transportError("failed to encode %s request: %v", req.Method, err)
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}

	c.logger.Trace("request", "id", req.ID, "method", req.Method)

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return transportError("failed to write %s request: %v", req.Method, err)
	}

	return nil
}

func (c *Client) readLoop() {
	defer close(c.doneCh)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
				c.shutdown(ErrClosed)
			default:
				c.logger.Debug("connection lost", "err", err)
				c.shutdown(transportError("connection lost: %v", err))
			}

			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping malformed frame", "err", err)

			continue
		}

		switch {
		case resp.ID != nil:
			c.handleResponse(&resp)
		case resp.Params != nil:
			c.handleNotification(&resp)
		default:
			c.logger.Warn("dropping frame without id or subscription")
		}
	}
}

func (c *Client) handleResponse(resp *Response) {
	c.lock.Lock()
	call, ok := c.pending[*resp.ID]
	c.lock.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request", "id", *resp.ID)

		return
	}

	// subscriptions are registered before the next frame is read, so no
	// notification for them can be missed
	if call.sub != nil && resp.Error == nil {
		var subID string
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			var num uint64
			if numErr := json.Unmarshal(resp.Result, &num); numErr != nil {
				call.err = transportError("malformed subscription id %s", string(resp.Result))
				call.ch <- resp

				return
			}

			subID = strconv.FormatUint(num, 10)
		}

		call.sub.id = subID

		c.lock.Lock()
		c.subs[subID] = call.sub
		c.lock.Unlock()
	}

	call.ch <- resp
}

func (c *Client) handleNotification(resp *Response) {
	c.lock.Lock()
	sub, ok := c.subs[resp.Params.Subscription]
	c.lock.Unlock()

	if !ok {
		c.logger.Debug("notification for unknown subscription", "method", resp.Method, "subscription", resp.Params.Subscription)

		return
	}

	select {
	case sub.ch <- resp.Params.Result:
	case <-sub.done:
	case <-c.closeCh:
	}
}

func (c *Client) shutdown(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.err != nil {
		return
	}

	c.err = err

	for id, call := range c.pending {
		close(call.ch)
		delete(c.pending, id)
	}

	for id, sub := range c.subs {
		sub.fail(err)
		delete(c.subs, id)
	}
}

func (c *Client) failure() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.err == nil {
		return ErrClosed
	}

	return c.err
}

func (c *Client) removeSubscription(id string) {
	c.lock.Lock()
	delete(c.subs, id)
	c.lock.Unlock()
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.writeLock.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeLock.Unlock()

		err = c.conn.Close()
		<-c.doneCh
	})

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return transportError("failed to close: %v", err)
	}

	return nil
}

// Subscription is an active pub/sub subscription.
type Subscription struct {
	client      *Client
	id          string
	method      string
	unsubMethod string

	ch    chan jsoniter.RawMessage
	errCh chan error

	once sync.Once
	done chan struct{}
}

func (s *Subscription) ID() string {
	return s.id
}

// Notifications delivers the result of every notification in order.
func (s *Subscription) Notifications() <-chan jsoniter.RawMessage {
	return s.ch
}

// Err receives at most one error when the connection fails.
func (s *Subscription) Err() <-chan error {
	return s.errCh
}

// Unsubscribe stops the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var err error

	s.once.Do(func() {
		close(s.done)
		s.client.removeSubscription(s.id)

		if s.unsubMethod == "" {
			return
		}

		var ok bool
		if callErr := s.client.Call(ctx, s.unsubMethod, &ok, s.id); callErr != nil {
			err = callErr
		}
	})

	return err
}

func (s *Subscription) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
