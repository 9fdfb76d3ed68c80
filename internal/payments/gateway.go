package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
	"github.com/vitanips/vitanips-core/internal/security"
)

// Gateway transaction statuses
const (
	TxSuccessful = "successful"
	TxFailed     = "failed"
	TxPending    = "pending"
)

// Verification is what the gateway reports for a transaction reference
type Verification struct {
	Reference   string          `json:"tx_ref"`
	GatewayTxID string          `json:"id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// Gateway verifies transactions against the payment provider
type Gateway interface {
	Verify(ctx context.Context, reference string) (*Verification, error)
}

// GatewayConfig configures HTTPGateway
type GatewayConfig struct {
	BaseURL         string
	SecretKey       string
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

// HTTPGateway verifies references over the provider's REST API. Calls are
// rate limited and guarded by a circuit breaker; client errors such as an
// unknown reference do not count toward tripping it.
type HTTPGateway struct {
	baseURL string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Verification]
	logger  *zap.Logger
}

type clientError struct {
	status int
	body   string
}

func (e *clientError) Error() string {
	return fmt.Sprintf("gateway rejected request: status %d: %s", e.status, e.body)
}

func NewHTTPGateway(cfg GatewayConfig, logger *zap.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 30 * time.Second
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[*Verification](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Payment gateway breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SecretKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker: breaker,
		logger:  logger,
	}
}

// Verify looks a transaction up by our reference
func (g *HTTPGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	v, err := g.breaker.Execute(func() (*Verification, error) {
		return g.fetch(ctx, reference)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.Wrap(err, apperrors.ErrGatewayDown.Code, apperrors.ErrGatewayDown.Message)
	}
	return v, err
}

type verifyEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID       json.Number     `json:"id"`
		TxRef    string          `json:"tx_ref"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Status   string          `json:"status"`
	} `json:"data"`
}

func (g *HTTPGateway) fetch(ctx context.Context, reference string) (*Verification, error) {
	endpoint := g.baseURL + "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	var env verifyEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &clientError{status: resp.StatusCode, body: security.Redact(env.Message)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway error: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", decodeErr)
	}

	g.logger.Debug("Gateway verification",
		zap.String("reference", reference),
		zap.String("status", env.Data.Status),
	)

	return &Verification{
		Reference:   env.Data.TxRef,
		GatewayTxID: env.Data.ID.String(),
		Status:      strings.ToLower(env.Data.Status),
		Amount:      env.Data.Amount,
		Currency:    strings.ToUpper(env.Data.Currency),
	}, nil
}
