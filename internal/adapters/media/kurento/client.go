// Package kurento implements the media engine's JSON-RPC 2.0 control
// protocol over a single WebSocket connection.
package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/core"
)

var ErrClosed = errors.New("engine connection closed")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("engine rpc error %d: %s", e.Code, e.Message)
}

// rpcEnvelope covers both responses (ID set) and server notifications
// (Method set).
type rpcEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type engineEvent struct {
	Type   string
	Object string
	Data   json.RawMessage
}

// Client implements core.MediaClient. A single read loop completes pending
// calls and feeds a dispatcher goroutine running event handlers, so a
// handler may issue further calls without deadlocking the read loop.
type Client struct {
	conn        *websocket.Conn
	callTimeout time.Duration

	nextID    atomic.Uint64
	sessionID atomic.Value // string, assigned by the engine on first response

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[uint64]chan rpcEnvelope
	handlers map[string]func(engineEvent) // object + "/" + event type
	closed   bool

	events chan engineEvent
	done   chan struct{}
}

// Dial connects to the engine's control WebSocket.
func Dial(ctx context.Context, uri string, callTimeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	c := &Client{
		conn:        conn,
		callTimeout: callTimeout,
		pending:     make(map[uint64]chan rpcEnvelope),
		handlers:    make(map[string]func(engineEvent)),
		events:      make(chan engineEvent, 64),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

// CreatePipeline allocates a MediaPipeline object inside the engine.
func (c *Client) CreatePipeline(ctx context.Context) (core.MediaPipeline, error) {
	id, err := c.create(ctx, "MediaPipeline", map[string]any{})
	if err != nil {
		return nil, err
	}
	return &Pipeline{client: c, id: id}, nil
}

// Ping checks engine liveness.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.call(ctx, "ping", map[string]any{"interval": 240000})
	if err != nil {
		return err
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return fmt.Errorf("decode ping result: %w", err)
	}
	if body.Value != "pong" {
		return fmt.Errorf("unexpected ping result %q", body.Value)
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	_ = c.conn.Close()
}

// call sends one request and waits for its response, bounded by ctx and
// the call timeout. The engine session id from the first response is
// threaded into every later request.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	if sid, ok := c.sessionID.Load().(string); ok && sid != "" {
		if params == nil {
			params = make(map[string]any)
		}
		params["sessionId"] = sid
	}

	ch := make(chan rpcEnvelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, env.Error
		}
		c.captureSessionID(env.Result)
		return env.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: engine call timed out after %s", method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) captureSessionID(result json.RawMessage) {
	if sid, ok := c.sessionID.Load().(string); ok && sid != "" {
		return
	}
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &body); err == nil && body.SessionID != "" {
		c.sessionID.Store(body.SessionID)
	}
}

// create allocates an engine object and returns its id.
func (c *Client) create(ctx context.Context, objectType string, constructorParams map[string]any) (string, error) {
	res, err := c.call(ctx, "create", map[string]any{
		"type":              objectType,
		"constructorParams": constructorParams,
	})
	if err != nil {
		return "", err
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return "", fmt.Errorf("decode create result: %w", err)
	}
	return body.Value, nil
}

// invokeOp calls an operation on an engine object.
func (c *Client) invokeOp(ctx context.Context, object, operation string, operationParams map[string]any) (json.RawMessage, error) {
	params := map[string]any{
		"object":    object,
		"operation": operation,
	}
	if operationParams != nil {
		params["operationParams"] = operationParams
	}
	return c.call(ctx, "invoke", params)
}

// release destroys an engine object and drops its event handlers, so no
// callback can fire against released state.
func (c *Client) release(ctx context.Context, object string) error {
	c.removeHandlers(object)
	_, err := c.call(ctx, "release", map[string]any{"object": object})
	return err
}

// subscribe registers a server-side subscription and a local handler for
// one event type of one object.
func (c *Client) subscribe(ctx context.Context, object, eventType string, fn func(engineEvent)) error {
	_, err := c.call(ctx, "subscribe", map[string]any{
		"object": object,
		"type":   eventType,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handlers[object+"/"+eventType] = fn
	c.mu.Unlock()
	return nil
}

func (c *Client) removeHandlers(object string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.handlers {
		if len(key) > len(object) && key[:len(object)] == object && key[len(object)] == '/' {
			delete(c.handlers, key)
		}
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var env rpcEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			log.Warn().Err(err).Str("module", "adapters.media.kurento").Msg("read loop terminated")
			return
		}
		switch {
		case env.Method == "onEvent":
			c.pushEvent(env.Params)
		case env.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		default:
			log.Debug().Str("module", "adapters.media.kurento").Str("method", env.Method).Msg("ignoring engine notification")
		}
	}
}

func (c *Client) pushEvent(params json.RawMessage) {
	var body struct {
		Value struct {
			Type   string          `json:"type"`
			Object string          `json:"object"`
			Data   json.RawMessage `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(params, &body); err != nil {
		log.Error().Err(err).Str("module", "adapters.media.kurento").Msg("malformed engine event")
		return
	}
	ev := engineEvent{Type: body.Value.Type, Object: body.Value.Object, Data: body.Value.Data}
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("module", "adapters.media.kurento").Str("type", ev.Type).Msg("event queue full, dropping event")
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.mu.Lock()
			fn := c.handlers[ev.Object+"/"+ev.Type]
			c.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		}
	}
}
