// Package marketapi implements ports.MarketSnapshotSource and
// ports.BrokerGateway against the event exchange's REST API. Requests are
// rate limited; idempotent reads retry transient failures with exponential
// backoff inside the caller's deadline.
package marketapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"strikePilot/internal/domain"
	"strikePilot/internal/ports"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// maxReadAttempts bounds retries of idempotent GETs within one call.
const maxReadAttempts = 3

// Client talks to the event exchange.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     ports.Logger
}

// Config holds configuration for the market API client.
type Config struct {
	BaseURL           string
	APIToken          string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Logger            ports.Logger
}

// New creates a market API client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for market API client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: market API base URL must be set", ports.ErrConfigurationError)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
		logger:     cfg.Logger,
	}, nil
}

// --- Wire types ---

type marketsResponse struct {
	UnderlyingPrice float64      `json:"underlying_price"`
	Markets         []wireMarket `json:"markets"`
}

type wireMarket struct {
	Ticker      string  `json:"ticker"`
	StrikePrice float64 `json:"strike_price"`
	YesAskCents int     `json:"yes_ask"`
	NoAskCents  int     `json:"no_ask"`
	CloseTime   int64   `json:"close_ts"` // Unix milliseconds
}

type orderRequest struct {
	ClientOrderID   string `json:"client_order_id"`
	Ticker          string `json:"ticker"`
	Side            string `json:"side"`
	Count           int64  `json:"count"`
	LimitPriceCents int    `json:"limit_price,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
}

type fillsResponse struct {
	Fills []wireFill `json:"fills"`
}

type wireFill struct {
	OrderID    string `json:"order_id"`
	Ticker     string `json:"ticker"`
	Side       string `json:"side"`
	PriceCents int    `json:"price"`
	Count      int64  `json:"count"`
	FilledTS   int64  `json:"filled_ts"` // Unix milliseconds
}

type settlementsResponse struct {
	Settlements []wireSettlement `json:"settlements"`
}

type wireSettlement struct {
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	PayoutCents int    `json:"payout"`
	SettledTS   int64  `json:"settled_ts"` // Unix milliseconds
}

// --- ports.MarketSnapshotSource ---

// CurrentStrikes returns every tradable strike for the instrument, one YES
// and one NO quote per market, priced in dollars per contract.
func (c *Client) CurrentStrikes(ctx context.Context, instrument domain.Instrument) ([]domain.StrikeQuote, error) {
	query := url.Values{"series": {string(instrument)}, "status": {"active"}}
	var resp marketsResponse
	if err := c.getJSON(ctx, "/v1/markets", query, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	quotes := make([]domain.StrikeQuote, 0, 2*len(resp.Markets))
	for _, m := range resp.Markets {
		ttc := time.UnixMilli(m.CloseTime).Sub(now)
		if ttc <= 0 {
			continue // already determined, not tradable
		}
		base := domain.StrikeQuote{
			Instrument:      instrument,
			Ticker:          m.Ticker,
			StrikePrice:     m.StrikePrice,
			TimeToClose:     ttc,
			UnderlyingPrice: resp.UnderlyingPrice,
		}
		yes := base
		yes.Side = domain.SideYes
		yes.AskPrice = centsToDollars(m.YesAskCents)
		no := base
		no.Side = domain.SideNo
		no.AskPrice = centsToDollars(m.NoAskCents)
		quotes = append(quotes, yes, no)
	}
	return quotes, nil
}

// --- ports.BrokerGateway ---

// SubmitOrder places an order. Submissions are never retried here: the
// caller owns idempotency via the client order ID and a duplicate retry
// could double an exposure.
func (c *Client) SubmitOrder(ctx context.Context, req ports.OrderRequest) (string, error) {
	body := orderRequest{
		ClientOrderID:   req.ClientOrderID,
		Ticker:          req.Ticker,
		Side:            string(req.Side),
		Count:           req.Size,
		LimitPriceCents: dollarsToCents(req.LimitPrice),
	}
	var resp orderResponse
	if err := c.postJSON(ctx, "/v1/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("%w: order accepted without an order ID", ports.ErrUnknown)
	}
	return resp.OrderID, nil
}

// FetchFills returns fills recorded at or after since.
func (c *Client) FetchFills(ctx context.Context, since time.Time) ([]domain.Fill, error) {
	query := url.Values{"min_ts": {strconv.FormatInt(since.UnixMilli(), 10)}}
	var resp fillsResponse
	if err := c.getJSON(ctx, "/v1/fills", query, &resp); err != nil {
		return nil, err
	}
	fills := make([]domain.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fills = append(fills, domain.Fill{
			BrokerOrderID: f.OrderID,
			Ticker:        f.Ticker,
			Side:          domain.Side(f.Side),
			Price:         centsToDollars(f.PriceCents),
			Size:          f.Count,
			FilledAt:      time.UnixMilli(f.FilledTS),
		})
	}
	return fills, nil
}

// FetchSettlements returns settlements recorded at or after since.
func (c *Client) FetchSettlements(ctx context.Context, since time.Time) ([]domain.Settlement, error) {
	query := url.Values{"min_ts": {strconv.FormatInt(since.UnixMilli(), 10)}}
	var resp settlementsResponse
	if err := c.getJSON(ctx, "/v1/settlements", query, &resp); err != nil {
		return nil, err
	}
	settlements := make([]domain.Settlement, 0, len(resp.Settlements))
	for _, s := range resp.Settlements {
		settlements = append(settlements, domain.Settlement{
			BrokerOrderID: s.OrderID,
			Ticker:        s.Ticker,
			Payout:        centsToDollars(s.PayoutCents),
			SettledAt:     time.UnixMilli(s.SettledTS),
		})
	}
	return settlements, nil
}

// --- Transport helpers ---

// getJSON performs a rate-limited GET, retrying transient failures with
// exponential backoff up to maxReadAttempts within the caller's deadline.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	backoffCfg := backoff.NewExponentialBackOff()
	var lastErr error
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ports.ErrContextCanceled, ctx.Err())
			case <-time.After(sleep):
			}
		}
		lastErr = c.doJSON(ctx, http.MethodGet, path, query, nil, out)
		if lastErr == nil {
			return nil
		}
		if !ports.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// postJSON performs a single rate-limited POST. No retries.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding request body: %v", ports.ErrInvalidRequest, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, err, method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(ctx, resp, method, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", ports.ErrConnectionFailed, err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decoding %s %s response: %v", ports.ErrUnknown, method, path, err)
		}
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, err error, method, path string) error {
	fields := map[string]interface{}{"method": method, "path": path, "originalError": err.Error()}
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrContextCanceled, err)
	default:
		finalErr = fmt.Errorf("%s %s: %w: %w", method, path, ports.ErrConnectionFailed, err)
	}
	c.logger.Warn(ctx, "Market API request failed", fields)
	return finalErr
}

func (c *Client) statusError(ctx context.Context, resp *http.Response, method, path string) error {
	// Bodies on error paths are small; keep a prefix for the log.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	fields := map[string]interface{}{
		"method": method, "path": path, "status": resp.StatusCode, "body": string(snippet),
	}

	var mapped error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		mapped = ports.ErrAuthenticationFailed
	case resp.StatusCode == http.StatusNotFound:
		mapped = ports.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		mapped = ports.ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest && method == http.MethodPost:
		mapped = ports.ErrOrderRejected
	case resp.StatusCode == http.StatusBadRequest:
		mapped = ports.ErrInvalidRequest
	case resp.StatusCode >= 500:
		mapped = ports.ErrExchangeUnavailable
	default:
		mapped = ports.ErrUnknown
	}
	c.logger.Warn(ctx, "Market API returned error status", fields)
	return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, mapped)
}

func centsToDollars(cents int) float64 {
	return float64(cents) / 100
}

func dollarsToCents(dollars float64) int {
	return int(dollars*100 + 0.5)
}
