package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sameehj/shellmcp/pkg/mcp"
)

const (
	defaultWriteTimeout = 15 * time.Second
	// defaultReadTimeout leaves room for a command running up to the
	// server's own execution limit.
	defaultReadTimeout = 90 * time.Second
)

// Client speaks JSON-RPC to a shellmcp /ws endpoint over one lazily dialed
// connection. Calls are serialized; the server answers in order.
type Client struct {
	url          string
	header       http.Header
	writeTimeout time.Duration
	readTimeout  time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID atomic.Int64
}

func NewClient(url string) *Client {
	return &Client{
		url:          url,
		header:       http.Header{},
		writeTimeout: defaultWriteTimeout,
		readTimeout:  defaultReadTimeout,
	}
}

func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// SetReadTimeout bounds how long a call waits for its response.
func (c *Client) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

// SetToken sends token as a bearer credential on the next dial.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		c.header.Del("Authorization")
		return
	}
	c.header.Set("Authorization", "Bearer "+token)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// HandleMessage forwards one raw JSON-RPC message and returns the remote
// response. Transport failures come back as internal errors so a bridged
// client always gets an answer.
func (c *Client) HandleMessage(ctx context.Context, payload []byte) (*mcp.Response, bool) {
	var req mcp.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return &mcp.Response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &mcp.RPCError{Code: mcp.CodeParseError, Message: "Parse error", Data: mcp.ErrorDetails{Details: err.Error()}},
		}, true
	}

	raw, err := c.roundTrip(ctx, payload, !req.IsNotification())
	if err != nil {
		c.logWarn("remote_call_failed", "method", req.Method, "error", err)
		if req.IsNotification() {
			return nil, false
		}
		return &mcp.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &mcp.RPCError{Code: mcp.CodeInternalError, Message: "Internal error", Data: mcp.ErrorDetails{Details: err.Error()}},
		}, true
	}
	if raw == nil {
		return nil, false
	}

	var resp mcp.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &mcp.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &mcp.RPCError{Code: mcp.CodeInternalError, Message: "Internal error", Data: mcp.ErrorDetails{Details: err.Error()}},
		}, true
	}
	return &resp, true
}

// Call sends method with params and decodes the result into out. A JSON-RPC
// error is returned as *mcp.RPCError.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	raw, err := c.roundTrip(ctx, payload, true)
	if err != nil {
		return err
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *mcp.RPCError   `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// ExecuteCommand runs command on the remote server. dir may be empty.
func (c *Client) ExecuteCommand(ctx context.Context, command, dir string) (*mcp.ToolResult, error) {
	params := mcp.CallParams{Name: mcp.ToolExecuteCommand}
	args, err := json.Marshal(mcp.ExecuteCommandArgs{Command: command, WorkingDirectory: dir})
	if err != nil {
		return nil, err
	}
	params.Arguments = args

	var result mcp.ToolResult
	if err := c.Call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) roundTrip(ctx context.Context, payload []byte, expectReply bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.resetConn()
		return nil, fmt.Errorf("write: %w", err)
	}
	if !expectReply {
		return nil, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		c.resetConn()
		return nil, fmt.Errorf("read: %w", err)
	}
	return raw, nil
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if c.url == "" {
		return nil, errors.New("remote url is required")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) resetConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
