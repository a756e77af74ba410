// Package nodeclient is the Node Client (C1): a stateless HTTP façade over
// an Ergo-family node's JSON API, with bounded exponential backoff on
// transient failures. The retry policy is built on
// github.com/cenkalti/backoff/v4, the same backoff dependency the broader
// example corpus's chain clients reach for (see AKJUS-bsc-erigon's go.mod).
package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ergowatch/watcher/internal/log"
	"github.com/ergowatch/watcher/internal/metrics"
)

var logger = log.New("node")

// Client fetches blocks and headers from the upstream node. It holds no
// mutable state beyond the underlying *http.Client: a stateless HTTP
// façade.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries bounds the number of retry attempts for transient errors.
// Zero means unbounded (governed only by the caller's context).
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New builds a Client against baseURL with the given per-request timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) backoffPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	var wrapped backoff.BackOff = b
	if c.maxRetries > 0 {
		wrapped = backoff.WithMaxRetries(wrapped, c.maxRetries)
	}
	return backoff.WithContext(wrapped, ctx)
}

// doJSON issues a GET request against path and decodes the JSON response
// into out, retrying KindTransient failures with backoff. A 404 is mapped
// to KindNotFound and never retried; any other 4xx or a malformed body is
// KindProtocol.
func (c *Client) doJSON(ctx context.Context, op, path string, out any) error {
	var notFound bool
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(newProtocol(op, err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.NodeRequestErrors.Mark(1)
			return newTransient(op, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode >= 500:
			metrics.NodeRequestErrors.Mark(1)
			return newTransient(op, fmt.Errorf("upstream returned %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return backoff.Permanent(newProtocol(op, fmt.Errorf("upstream returned %d", resp.StatusCode)))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return newTransient(op, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(newProtocol(op, fmt.Errorf("decoding response: %w", err)))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.NodeRequestRetry.Mark(1)
		logger.Warn("retrying node request", "op", op, "err", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, c.backoffPolicy(ctx), notify); err != nil {
		return err
	}
	if notFound {
		return newNotFound(op, fmt.Errorf("%s: not found", path))
	}
	return nil
}

// GetInfo fetches GET /info.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.doJSON(ctx, "get_info", "/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlockIDAt fetches GET /blocks/at/{h}. It returns ("", nil) when the
// node hasn't produced a block at that height yet.
func (c *Client) GetBlockIDAt(ctx context.Context, height int64) (string, error) {
	var ids blockIDsAt
	path := fmt.Sprintf("/blocks/at/%d", height)
	if err := c.doJSON(ctx, "get_block_id_at", path, &ids); err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// GetBlock fetches GET /blocks/{id}: the full block payload.
func (c *Client) GetBlock(ctx context.Context, id string) (*Block, error) {
	var block Block
	path := fmt.Sprintf("/blocks/%s", id)
	if err := c.doJSON(ctx, "get_block", path, &block); err != nil {
		return nil, err
	}
	if block.Header.ID == "" {
		return nil, newProtocol("get_block", fmt.Errorf("block %s: empty header in response", id))
	}
	return &block, nil
}

// GetHeader fetches GET /blocks/{id}/header.
func (c *Client) GetHeader(ctx context.Context, id string) (*Header, error) {
	var h Header
	path := fmt.Sprintf("/blocks/%s/header", id)
	if err := c.doJSON(ctx, "get_header", path, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetGenesisBoxes fetches GET /utxo/genesis.
func (c *Client) GetGenesisBoxes(ctx context.Context) ([]Output, error) {
	var boxes []Output
	if err := c.doJSON(ctx, "get_genesis_boxes", "/utxo/genesis", &boxes); err != nil {
		return nil, err
	}
	return boxes, nil
}
