// internal/clients/order_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderClient reads order statistics from the order service.
type OrderClient struct {
	baseURL string
}

func NewOrderClient(baseURL string) *OrderClient {
	return &OrderClient{baseURL: baseURL}
}

func (c *OrderClient) OrderCount(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.get(ctx, fmt.Sprintf("%s/users/%s/orders/count?since=%s",
		c.baseURL, userID, url.QueryEscape(since.Format(time.RFC3339))), &out)
	if err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *OrderClient) TotalOrderValue(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal `json:"total"`
	}
	err := c.get(ctx, fmt.Sprintf("%s/users/%s/orders/total?since=%s",
		c.baseURL, userID, url.QueryEscape(since.Format(time.RFC3339))), &out)
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

func (c *OrderClient) CumulativeSpending(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal `json:"total"`
	}
	err := c.get(ctx, fmt.Sprintf("%s/users/%s/spending", c.baseURL, userID), &out)
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

func (c *OrderClient) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
