package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"tradeescrow/observability"
	"tradeescrow/services/trade-gateway/engine"
)

// Endpoint addresses one ledger deployment of the escrow contract.
type Endpoint struct {
	RPCURL   string
	Contract string
}

// Config tunes the HTTP client.
type Config struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Transport http.RoundTripper
	Logger    *slog.Logger
	Metrics   *observability.EscrowMetrics
}

// Client talks to the ledger REST API. Every call is bounded by the client
// timeout and paced by a shared rate limiter.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.EscrowMetrics
}

// NewClient builds a Client. Zero values pick a 10s timeout and 5 req/s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Limit(5)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Height returns the ledger's current block height.
func (c *Client) Height(ctx context.Context, ep Endpoint) (uint64, error) {
	var body struct {
		Height quantity `json:"height"`
	}
	if err := c.get(ctx, ep.RPCURL, "/block", nil, &body); err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(string(body.Height), 10, 64)
	if err != nil || height == 0 {
		return 0, fmt.Errorf("%w: invalid block height %q", engine.ErrLedgerUnavailable, body.Height)
	}
	return height, nil
}

// Events returns the contract's events of kind emitted in [start, end).
// Events that fail to decode are logged and dropped; only transport and
// envelope failures fail the call.
func (c *Client) Events(ctx context.Context, ep Endpoint, kind EventKind, start, end uint64) ([]Event, error) {
	query := url.Values{}
	query.Set("start", strconv.FormatUint(start, 10))
	query.Set("end", strconv.FormatUint(end, 10))
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	path := "/events/" + ep.Contract + "::" + string(kind)
	if err := c.get(ctx, ep.RPCURL, path, query, &body); err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, fmt.Errorf("%w: %s response without data", engine.ErrLedgerUnavailable, kind)
	}
	events := make([]Event, 0, len(body.Data))
	for _, raw := range body.Data {
		evt, err := decodeEntry(raw, kind)
		if err != nil {
			c.metrics.RecordEvent(kind.label(), "malformed")
			c.logger.Warn("ledger: dropping malformed event",
				slog.String("kind", string(kind)),
				slog.Uint64("start", start),
				slog.Uint64("end", end),
				slog.Any("error", err))
			continue
		}
		evt.Height = start
		events = append(events, evt)
	}
	return events, nil
}

func decodeEntry(raw json.RawMessage, kind EventKind) (Event, error) {
	var entry struct {
		Data eventData `json:"data"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Event{}, fmt.Errorf("event payload: %w", err)
	}
	return entry.Data.decode(kind)
}

// TransactionEvent returns the first escrow event emitted by txHash.
func (c *Client) TransactionEvent(ctx context.Context, ep Endpoint, txHash string) (Event, error) {
	var body struct {
		Output struct {
			Move struct {
				Events []struct {
					Type string    `json:"type"`
					Data eventData `json:"data"`
				} `json:"events"`
			} `json:"Move"`
		} `json:"output"`
	}
	if err := c.get(ctx, ep.RPCURL, "/transactions/"+url.PathEscape(txHash), nil, &body); err != nil {
		return Event{}, err
	}
	events := body.Output.Move.Events
	if len(events) == 0 {
		return Event{}, fmt.Errorf("%w: transaction has no events", engine.ErrInvalidRequest)
	}
	contract := shortContract(ep.Contract)
	for _, raw := range events {
		var kind EventKind
		switch raw.Type {
		case contract + "::" + string(KindClaim):
			kind = KindClaim
		case contract + "::" + string(KindDeposit):
			kind = KindDeposit
		default:
			continue
		}
		evt, err := raw.Data.decode(kind)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
		}
		evt.TxHash = txHash
		return evt, nil
	}
	return Event{}, fmt.Errorf("%w: no escrow events in transaction", engine.ErrInvalidRequest)
}

func (c *Client) get(ctx context.Context, base, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrLedgerUnavailable, err)
	}
	target := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrLedgerUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: ledger %s", engine.ErrNotFound, path)
	}
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", engine.ErrLedgerUnavailable, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty response from %s", engine.ErrLedgerUnavailable, path)
		}
		return fmt.Errorf("%w: decode %s: %w", engine.ErrLedgerUnavailable, path, err)
	}
	return nil
}
