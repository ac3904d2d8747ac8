package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/openfloor/indexer/internal/metrics"
)

// jsonRPCMethodNotFound is the standard error code nodes return for
// unsupported methods; the fetcher's capability probe relies on it.
const jsonRPCMethodNotFound = -32601

// ErrMethodNotSupported marks a node that does not implement the
// requested RPC method. Callers probe once and fall back.
var ErrMethodNotSupported = errors.New("rpc method not supported")

// RateLimitedError carries the provider's retry-after hint. The queue
// layer feeds RetryAfter directly into its delay parameter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// BatchRequest is one call in a JSON-RPC batch.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse is one result in a JSON-RPC batch, position-matched to
// the request slice.
type BatchResponse struct {
	Result json.RawMessage
	Err    error
}

// Client is the transport used by the fetcher.
type Client interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	BatchCall(ctx context.Context, reqs []BatchRequest) ([]BatchResponse, error)
}

// HTTPClient is a JSON-RPC 2.0 client over HTTP POST.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client

	mu     sync.Mutex
	nextID int64
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		nextID: 1,
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

func (c *HTTPClient) Call(
	ctx context.Context,
	method string,
	params ...any,
) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.id(),
	}

	body, err := c.post(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil {
		c.recordFailure()
		if resp.Error.Code == jsonRPCMethodNotFound {
			return nil, fmt.Errorf("%s: %w", method, ErrMethodNotSupported)
		}
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	c.recordSuccess()
	return resp.Result, nil
}

func (c *HTTPClient) BatchCall(
	ctx context.Context,
	reqs []BatchRequest,
) ([]BatchResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	batch := make([]map[string]any, len(reqs))
	for i, r := range reqs {
		params := r.Params
		if params == nil {
			params = []any{}
		}
		batch[i] = map[string]any{
			"jsonrpc": "2.0",
			"method":  r.Method,
			"params":  params,
			"id":      i + 1,
		}
	}

	body, err := c.post(ctx, batch)
	if err != nil {
		return nil, err
	}

	var raw []rpcResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	// Nodes may reorder batch responses; match on id.
	out := make([]BatchResponse, len(reqs))
	for _, r := range raw {
		idx := int(r.ID) - 1
		if idx < 0 || idx >= len(out) {
			continue
		}
		if r.Error != nil {
			if r.Error.Code == jsonRPCMethodNotFound {
				out[idx].Err = ErrMethodNotSupported
			} else {
				out[idx].Err = fmt.Errorf("rpc error %d: %s", r.Error.Code, r.Error.Message)
			}
			continue
		}
		out[idx].Result = r.Result
	}

	c.recordSuccess()
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.recordFailure()
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordFailure()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (c *HTTPClient) id() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *HTTPClient) recordSuccess() {
	metrics.RPCCalls.WithLabelValues("success").Inc()
}

func (c *HTTPClient) recordFailure() {
	metrics.RPCCalls.WithLabelValues("failure").Inc()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}
