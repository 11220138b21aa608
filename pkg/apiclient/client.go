// Package apiclient is a thin HTTP client for the payment status endpoint.
// The bearer token is passed per call so one client serves many users.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const statusPath = "/api/payments/status/"

// Payment mirrors the payment section of a status response.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	CourseID   uuid.UUID       `json:"course_id"`
	CourseName string          `json:"course_name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	Reason     *string         `json:"failure_reason,omitempty"`
}

// Enrollment mirrors the enrollment section of a status response.
type Enrollment struct {
	ID            uuid.UUID       `json:"id"`
	CourseID      uuid.UUID       `json:"course_id"`
	CourseName    string          `json:"course_name"`
	Status        string          `json:"status"`
	PlanType      string          `json:"plan_type"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	PriceSnapshot decimal.Decimal `json:"price_snapshot"`
	Currency      string          `json:"currency"`
}

// StatusResult is the decoded data of a successful status query.
type StatusResult struct {
	Status     string      `json:"status"`
	Payment    *Payment    `json:"payment"`
	Enrollment *Enrollment `json:"enrollment,omitempty"`
	Message    string      `json:"-"`
}

// Error is returned for any non-2xx response.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a client for baseURL. A nil httpClient gets a 10 second timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// PaymentStatus queries the status of the payment identified by reference,
// which may be a payment id or a gateway reference.
func (c *Client) PaymentStatus(ctx context.Context, reference, token string) (*StatusResult, error) {
	endpoint := c.baseURL + statusPath + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query payment status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.Message
			if env.Error != nil {
				apiErr.Code = env.Error.Code
				if env.Error.Message != "" {
					apiErr.Message = env.Error.Message
				}
			}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode status response: %w", decodeErr)
	}

	var result StatusResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, fmt.Errorf("decode status data: %w", err)
	}
	if result.Status == "" {
		return nil, errors.New("status response missing status")
	}
	result.Message = env.Message
	return &result, nil
}
