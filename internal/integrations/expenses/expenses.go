package expenses

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/incast-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Credentials identify the caller towards the expenses API
type Credentials struct {
	AuthHeader    string
	CorrelationID string
}

// Client handles integration with the expenses API
type Client struct {
	endpoint string
	client   *http.Client
	log      *logrus.Logger
}

// NewClient initializes a new expenses API client
func NewClient(endpoint string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// buildURL creates the incomes query. depth 0 asks for the whole history.
func (c *Client) buildURL(category string, depth int) string {
	q := url.Values{}
	q.Set("category", category)
	q.Set("last", strconv.Itoa(depth))
	return fmt.Sprintf("%s/incomes?%s", c.endpoint, q.Encode())
}

// FetchIncomes retrieves the incomes of the user identified by creds.
// A non-200 answer is returned as a *models.UpstreamError.
func (c *Client) FetchIncomes(ctx context.Context, creds Credentials, category string, depth int) ([]models.IncomeRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(category, depth), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", creds.AuthHeader)
	req.Header.Set("x-correlation-id", creds.CorrelationID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.UpstreamError{Source: "expenses api", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.UpstreamError{Source: "expenses api", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"cid":    creds.CorrelationID,
			"status": resp.StatusCode,
		}).Errorf("ExpensesAPI generated an ERROR: %s", string(body))
		return nil, &models.UpstreamError{Source: "expenses api", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	var parsed models.GetIncomesResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &models.UpstreamError{Source: "expenses api", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
		}
	}

	c.log.WithFields(logrus.Fields{"cid": creds.CorrelationID, "incomes": len(parsed.Incomes)}).Debug("Retrieved incomes")
	return parsed.Incomes, nil
}
