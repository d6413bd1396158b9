// Package tradeclient talks to the downstream trade execution service.
//
// The client performs no retries: the downstream bulk endpoint has
// partial-success semantics, so a naive retry would multiply duplicates. The
// orchestrator is the sole retry decision point and its default policy for
// bulk submissions is zero retries.
package tradeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrTransient marks 5xx responses, network errors, and timeouts. These are
// retryable by the caller and count toward the circuit breaker.
var ErrTransient = errors.New("trade service transient failure")

// ErrRejected marks 4xx responses: the request we built was not acceptable.
// Non-retryable; does not count toward the breaker.
var ErrRejected = errors.New("trade service rejected request")

// Submission is one order offered to the trade service.
type Submission struct {
	OrderID     int64            `json:"orderId"`
	PortfolioID string           `json:"portfolioId"`
	SecurityID  string           `json:"securityId"`
	OrderType   string           `json:"orderType"`
	Quantity    decimal.Decimal  `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limitPrice,omitempty"`
}

// SubmissionResult is the downstream outcome for one submission, in request
// order.
type SubmissionResult struct {
	OrderID      int64  `json:"orderId"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	TradeOrderID *int64 `json:"tradeOrderId"`
}

// BulkResponse is the downstream aggregate.
type BulkResponse struct {
	Status         string             `json:"status"`
	TotalRequested int                `json:"totalRequested"`
	Successful     int                `json:"successful"`
	Failed         int                `json:"failed"`
	Results        []SubmissionResult `json:"results"`
}

// Client is the interface the orchestrator depends on; satisfied by *HTTP and
// by test stubs.
type Client interface {
	BulkSubmit(ctx context.Context, submissions []Submission) (*BulkResponse, error)
}

// Config holds client settings.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxConnections int
}

// HTTP is the production client.
type HTTP struct {
	baseURL string
	hc      *http.Client
	log     *zap.Logger
}

// New builds a client with a pooled transport bounded to a small number of
// connections to the downstream host.
func New(cfg Config, log *zap.Logger) *HTTP {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTP{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc: &http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
		},
		log: log,
	}
}

// BulkSubmit posts the submissions to the bulk endpoint and maps the
// response:
//
//	201        all accepted
//	200, 207   partial outcome; per-item results carry the detail
//	other 4xx  ErrRejected
//	5xx, network/timeout errors  ErrTransient
func (c *HTTP) BulkSubmit(ctx context.Context, submissions []Submission) (*BulkResponse, error) {
	payload, err := json.Marshal(struct {
		Submissions []Submission `json:"submissions"`
	}{submissions})
	if err != nil {
		return nil, fmt.Errorf("encoding bulk request: %w", err)
	}

	url := c.baseURL + "/tradeOrders/bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Error("trade service unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated,
		resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusMultiStatus:
		var parsed BulkResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			c.log.Error("trade service response unparseable",
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", body))
			return nil, fmt.Errorf("%w: decoding response: %v", ErrTransient, err)
		}
		return &parsed, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Operator requirement: downstream error bodies are logged verbatim.
		c.log.Error("trade service rejected bulk request",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)

	default:
		c.log.Error("trade service error response",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
}
