// Package rpc is a JSON-RPC 2.0 client for the aria2 download engine.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const DefaultPort = 16800

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the engine answered, but not with a usable result.
type ProtocolError struct {
	Method     string
	StatusCode int
	Code       int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Method, e.Message, e.StatusCode)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Client is safe for concurrent use. It keeps no state between calls.
type Client struct {
	url    string
	secret string
	http   *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient targets http://host:port/jsonrpc. An empty secret disables the
// token parameter.
func NewClient(host string, port int, secret string, opts ...ClientOption) *Client {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = DefaultPort
	}

	c := &Client{
		url:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/jsonrpc",
		secret: secret,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

// Call invokes method with positional params and decodes the result into
// result, which may be nil when the caller does not care.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	args := make([]interface{}, 0, len(params)+1)
	if c.secret != "" {
		args = append(args, "token:"+c.secret)
	}
	args = append(args, params...)

	id := uuid.NewString()
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: args})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var rpcResp response
	decodeErr := json.Unmarshal(data, &rpcResp)

	if decodeErr == nil && rpcResp.Error != nil {
		return &ProtocolError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Code:       rpcResp.Error.Code,
			Message:    rpcResp.Error.Message,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProtocolError{Method: method, StatusCode: resp.StatusCode, Message: "unexpected status " + resp.Status}
	}
	if decodeErr != nil {
		return &ProtocolError{Method: method, StatusCode: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	}
	if rpcResp.ID != "" && rpcResp.ID != id {
		return &ProtocolError{Method: method, StatusCode: resp.StatusCode, Message: "response id mismatch"}
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return &ProtocolError{Method: method, StatusCode: resp.StatusCode, Message: "missing result"}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return &ProtocolError{Method: method, StatusCode: resp.StatusCode, Message: "unexpected result type: " + err.Error()}
	}
	return nil
}
