// Package fetch retrieves validator and system state from a Sui full node over
// JSON-RPC.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/validator-score-ea/internal/config"
	"github.com/yourorg/validator-score-ea/internal/mapper"
	"github.com/yourorg/validator-score-ea/internal/model"
)

// Sui JSON-RPC methods used for scoring
const (
	MethodLatestSystemState = "suix_getLatestSuiSystemState"
	MethodValidatorsApy     = "suix_getValidatorsApy"
)

// Fetcher produces scoring snapshots
type Fetcher interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// RPCError is an error object returned by the node
type RPCError struct {
	Method  string          `json:"-"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// Client is a Sui JSON-RPC client with retries and a short-lived snapshot cache.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	timeout    time.Duration
	nextID     atomic.Uint64

	mu        sync.Mutex
	cacheTTL  time.Duration
	cached    *model.Snapshot
	cacheTime time.Time
}

// NewClient creates a client for the configured RPC endpoint
func NewClient(cfg config.Config) *Client {
	retryClient := newRetryClient(cfg.RetryMax)
	return NewClientWithHTTP(cfg.SuiRPCURL, StandardClient(retryClient), cfg.RequestTimeout)
}

// NewClientWithHTTP creates a client using the given HTTP client
func NewClientWithHTTP(rpcURL string, httpClient *http.Client, timeout time.Duration) *Client {
	return &Client{
		rpcURL:     rpcURL,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// WithCacheTTL enables snapshot caching and returns the client
func (c *Client) WithCacheTTL(ttl time.Duration) *Client {
	c.cacheTTL = ttl
	return c
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("error encoding %s request: %w", method, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logrus.WithFields(logrus.Fields{"method": method, "url": c.rpcURL}).Debug("Calling Sui RPC")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d, body: %s", method, resp.StatusCode, string(b))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("error decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		rpcResp.Error.Method = method
		return rpcResp.Error
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("%s: empty result", method)
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("error decoding %s result: %w", method, err)
	}
	return nil
}

// LatestSystemState returns the current system state summary
func (c *Client) LatestSystemState(ctx context.Context) (mapper.SystemStateSummary, error) {
	var state mapper.SystemStateSummary
	err := c.call(ctx, MethodLatestSystemState, &state)
	return state, err
}

// ValidatorsApy returns the APY of every active validator
func (c *Client) ValidatorsApy(ctx context.Context) (mapper.ValidatorsApy, error) {
	var apys mapper.ValidatorsApy
	err := c.call(ctx, MethodValidatorsApy, &apys)
	return apys, err
}

// Snapshot fetches system state and APYs concurrently and maps them.
func (c *Client) Snapshot(ctx context.Context) (model.Snapshot, error) {
	if snap, ok := c.fromCache(); ok {
		return snap, nil
	}

	var (
		state mapper.SystemStateSummary
		apys  mapper.ValidatorsApy
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		state, err = c.LatestSystemState(gctx)
		return err
	})
	g.Go(func() (err error) {
		apys, err = c.ValidatorsApy(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Snapshot{}, err
	}

	snap, err := mapper.Snapshot(state, apys)
	if err != nil {
		return model.Snapshot{}, err
	}

	logrus.WithFields(logrus.Fields{
		"epoch":      snap.Epoch,
		"validators": len(snap.Validators),
		"apys":       len(snap.Apys),
	}).Debug("Fetched Sui snapshot")

	c.store(snap)
	return snap, nil
}

func (c *Client) fromCache() (model.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cacheTTL <= 0 || c.cached == nil || time.Since(c.cacheTime) > c.cacheTTL {
		return model.Snapshot{}, false
	}
	return *c.cached, true
}

func (c *Client) store(snap model.Snapshot) {
	if c.cacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = &snap
	c.cacheTime = time.Now()
}
