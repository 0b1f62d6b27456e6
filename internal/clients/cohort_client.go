// internal/clients/cohort_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// CohortClient answers cohort membership queries against the cohort service.
type CohortClient struct {
	baseURL string
}

func NewCohortClient(baseURL string) *CohortClient {
	return &CohortClient{baseURL: baseURL}
}

func (c *CohortClient) IsInCohort(ctx context.Context, userID uuid.UUID, cohortName string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/cohorts/%s/members/%s", c.baseURL, url.PathEscape(cohortName), userID), nil)
	if err != nil {
		return false, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out struct {
		Member bool `json:"member"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Member, nil
}
