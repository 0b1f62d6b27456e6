// internal/clients/payment_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"firstclub/internal/membership"
)

// PaymentClient talks to the payment gateway. Calls run through a circuit
// breaker: a gateway outage fails fast instead of holding user locks for the
// full timeout on every request.
type PaymentClient struct {
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

func NewPaymentClient(baseURL string) *PaymentClient {
	return &PaymentClient{
		baseURL: baseURL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "payment-gateway",
		}),
	}
}

func (c *PaymentClient) ProcessPayment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*membership.PaymentResult, error) {
	payload := struct {
		UserID uuid.UUID       `json:"user_id"`
		Amount decimal.Decimal `json:"amount"`
	}{UserID: userID, Amount: amount}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payments", c.baseURL), bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		var result membership.PaymentResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", membership.ErrPaymentUnavailable, err)
		}
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	return res.(*membership.PaymentResult), nil
}
