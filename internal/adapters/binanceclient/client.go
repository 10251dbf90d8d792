// Package binanceclient implements ports.PriceSource against the Binance
// spot API: the underlying price for each instrument plus a momentum score
// over a rolling window of recent closes. Only public market-data endpoints
// are used.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"strikePilot/internal/momentum"
	"strikePilot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// klineInterval is the sampling interval of the momentum window.
	klineInterval = "1m"
)

// Client implements the ports.PriceSource interface using the go-binance library.
type Client struct {
	spot     *binance.Client
	logger   ports.Logger
	momentum *momentum.Calculator
}

// Config holds configuration specific to the Binance price adapter.
type Config struct {
	UseTestnet bool
	Logger     ports.Logger
	Momentum   *momentum.Calculator
}

// New creates a new Binance price source adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.Momentum == nil {
		return nil, fmt.Errorf("momentum calculator is required for Binance client")
	}

	// Market-data endpoints are public; no keys needed.
	client := binance.NewClient("", "")
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{spot: client, logger: cfg.Logger, momentum: cfg.Momentum}, nil
}

// CurrentPriceAndMomentum returns the latest close for symbol together with
// the momentum score over the recent kline window.
func (c *Client) CurrentPriceAndMomentum(ctx context.Context, symbol string) (float64, float64, error) {
	op := "CurrentPriceAndMomentum"
	limit := c.momentum.RequiredDataPoints()

	klines, err := c.spot.NewKlinesService().
		Symbol(symbol).
		Interval(klineInterval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return 0, 0, c.handleError(ctx, err, op)
	}
	if len(klines) < limit {
		err := fmt.Errorf("only %d of %d klines returned for symbol %s", len(klines), limit, symbol)
		return 0, 0, c.handleError(ctx, err, op)
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i], err = strconv.ParseFloat(k.Close, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse close '%s': %w", k.Close, err)
			return 0, 0, c.handleError(ctx, parseErr, op)
		}
	}

	score, err := c.momentum.Score(closes)
	if err != nil {
		return 0, 0, c.handleError(ctx, err, op)
	}
	return closes[len(closes)-1], score, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	ms, err := c.spot.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(ms), nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1120, -1121: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrExchangeUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}
