package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mealmate/internal/domain"
	"mealmate/internal/infra/circuitbreaker"
	"mealmate/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("mealmate/gateway")

type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

type CreateOrderRequest struct {
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// Order is the gateway-side order a checkout is opened against.
type Order struct {
	ID          string         `json:"id"`
	AmountMinor int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Receipt     string         `json:"receipt"`
	Status      string         `json:"status"`
	Raw         map[string]any `json:"-"`
}

type Refund struct {
	ID          string         `json:"id"`
	PaymentID   string         `json:"payment_id"`
	AmountMinor int64          `json:"amount"`
	Status      string         `json:"status"`
	Raw         map[string]any `json:"-"`
}

// Processed reports whether the gateway settled the refund synchronously.
func (r *Refund) Processed() bool {
	return r.Status == "processed"
}

// IsTimeout reports whether a call failed without an answer from the gateway, so
// the gateway may still have acted on it.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Client talks to the Razorpay REST API with basic auth. Every call runs through a
// circuit breaker; failures surface as domain.ErrGateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}
}

func (c *Client) KeyID() string { return c.cfg.KeyID }

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	ctx, span := tracer.Start(ctx, "gateway.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("receipt", req.Receipt), attribute.Int64("amount", req.AmountMinor))

	var out Order
	raw, err := c.do(ctx, "create_order", http.MethodPost, "/orders", req, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, domain.GatewayFailure("create gateway order", err)
	}
	if out.ID == "" {
		return nil, domain.GatewayFailure("create gateway order", errors.New("response missing order id"))
	}
	out.Raw = raw
	return &out, nil
}

func (c *Client) CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinor int64) (*Refund, error) {
	ctx, span := tracer.Start(ctx, "gateway.CreateRefund")
	defer span.End()
	span.SetAttributes(attribute.String("payment_id", gatewayPaymentID), attribute.Int64("amount", amountMinor))

	path := "/payments/" + url.PathEscape(gatewayPaymentID) + "/refund"
	var out Refund
	raw, err := c.do(ctx, "create_refund", http.MethodPost, path, map[string]int64{"amount": amountMinor}, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create refund failed")
		return nil, domain.GatewayFailure("create gateway refund", err)
	}
	if out.ID == "" {
		return nil, domain.GatewayFailure("create gateway refund", errors.New("response missing refund id"))
	}
	out.Raw = raw
	return &out, nil
}

// VerifyPaymentSignature checks hex(HMAC-SHA256(key_secret, order_id + "|" + payment_id)).
func (c *Client) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error {
	expected := SignPayment(c.cfg.KeySecret, gatewayOrderID, gatewayPaymentID)
	if !equalHex(expected, signature) {
		return domain.Signaturef("payment signature verification failed")
	}
	return nil
}

// VerifyWebhookSignature checks hex(HMAC-SHA256(webhook_secret, raw body)).
func (c *Client) VerifyWebhookSignature(body []byte, signature string) error {
	if c.cfg.WebhookSecret == "" {
		return domain.Signaturef("webhook secret is not configured")
	}
	expected := SignWebhook(c.cfg.WebhookSecret, body)
	if !equalHex(expected, signature) {
		return domain.Signaturef("webhook signature verification failed")
	}
	return nil
}

func SignPayment(secret, gatewayOrderID, gatewayPaymentID string) string {
	return sign(secret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
}

func SignWebhook(secret string, body []byte) string {
	return sign(secret, body)
}

func sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(got))))
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (map[string]any, error) {
	start := time.Now()
	var raw map[string]any

	err := c.breaker.Execute(ctx, func() error {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr apiError
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Description != "" {
				return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, apiErr.Error.Description)
			}
			return fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		return json.Unmarshal(data, &raw)
	})

	metrics.ObserveGatewayCall(op, start, err)
	return raw, err
}
