package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// cancelAttempts bounds the backoff-paced retry loop for cancellations,
// which are idempotent at the broker.
const cancelAttempts = 3

// Compile-time interface check.
var _ Adapter = (*HTTPAdapter)(nil)

// HTTPAdapter talks to a broker's REST API. Submissions are never retried
// here: the idempotency guarantee lives above this layer, and a timed-out
// send is reported as uncertain rather than replayed.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPAdapter(baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns "http".
func (a *HTTPAdapter) Name() string {
	return "http"
}

type submitRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	OrderType     string `json:"order_type"`
	LimitPrice    string `json:"limit_price,omitempty"`
	TimeInForce   string `json:"time_in_force"`
}

type submitResponse struct {
	BrokerOrderID string `json:"broker_order_id"`
}

// Submit posts the order once. A timeout after the request was written is
// wrapped as UncertainError; a connection failure before any bytes reached
// the broker is a plain error and safe to report as rejected.
func (a *HTTPAdapter) Submit(ctx context.Context, order *types.Order) (string, error) {
	payload := submitRequest{
		ClientOrderID: order.OrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		OrderType:     order.OrderType,
		TimeInForce:   order.TimeInForce,
	}
	if order.LimitPrice.Valid {
		payload.LimitPrice = order.LimitPrice.Decimal.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &UncertainError{cause: err}
		}
		return "", fmt.Errorf("broker submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// The broker may have persisted the order before failing.
		return "", &UncertainError{cause: fmt.Errorf("broker returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("broker rejected order: %d %s", resp.StatusCode, string(msg))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &UncertainError{cause: fmt.Errorf("unreadable broker response: %w", err)}
	}
	if out.BrokerOrderID == "" {
		return "", &UncertainError{cause: errors.New("broker response missing order id")}
	}
	return out.BrokerOrderID, nil
}

// Cancel requests cancellation, retrying transient failures with
// exponential backoff. Cancellation is idempotent broker-side, so retries
// are safe.
func (a *HTTPAdapter) Cancel(ctx context.Context, brokerOrderID string) error {
	logger := log.With().Str("component", "broker_http").Str("broker_order_id", brokerOrderID).Logger()

	backoffCfg := backoff.NewExponentialBackOff()
	var lastErr error
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		lastErr = a.cancelOnce(ctx, brokerOrderID)
		if lastErr == nil {
			return nil
		}

		logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("cancel attempt failed")
		if attempt == cancelAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffCfg.NextBackOff()):
		}
	}
	return fmt.Errorf("broker cancel failed after %d attempts: %w", cancelAttempts, lastErr)
}

func (a *HTTPAdapter) cancelOnce(ctx context.Context, brokerOrderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/orders/"+url.PathEscape(brokerOrderID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 404 means the broker never saw the order or it is already gone;
	// treat it as acknowledged so the webhook path can settle final state.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("broker returned %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
