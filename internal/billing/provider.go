package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultProviderBaseURL = "https://api.billing.example.com/v1"

// ProviderSubscription represents a subscription as returned by the hosted
// billing provider.
type ProviderSubscription struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	ShortURL     string            `json:"short_url"`
	Notes        map[string]string `json:"notes,omitempty"`
}

// ProviderClient is the surface of the hosted billing provider we depend on.
type ProviderClient interface {
	CreateSubscription(planID string, notes map[string]string) (*ProviderSubscription, error)
	GetSubscription(subscriptionID string) (*ProviderSubscription, error)
	CancelSubscription(subscriptionID string, atPeriodEnd bool) (*ProviderSubscription, error)
}

// HTTPProviderClient talks to the real billing provider API.
type HTTPProviderClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPProviderClient creates a provider client. An empty baseURL selects
// the production endpoint.
func NewHTTPProviderClient(baseURL, apiKey string) *HTTPProviderClient {
	if baseURL == "" {
		baseURL = defaultProviderBaseURL
	}
	return &HTTPProviderClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ProviderPlan is a billing plan registered with the provider.
type ProviderPlan struct {
	ID       string `json:"id"`
	Interval string `json:"interval"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// CreatePlan registers a monthly or yearly plan with the provider. Run once
// per environment; the returned IDs go into MonthlyPlanID / YearlyPlanID.
func (c *HTTPProviderClient) CreatePlan(planType string) (*ProviderPlan, error) {
	if planType != "monthly" && planType != "yearly" {
		return nil, fmt.Errorf("invalid plan type: %s (must be monthly or yearly)", planType)
	}

	amount := 4900 // cents
	if planType == "yearly" {
		amount = 49900
	}
	reqBody := map[string]interface{}{
		"interval": planType,
		"amount":   amount,
		"currency": "USD",
		"name":     "Traffic AI " + planType,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling plan request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/plans", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("billing provider API error (status %d): %s", resp.StatusCode, string(body))
	}

	var plan ProviderPlan
	if err := json.Unmarshal(body, &plan); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}

	return &plan, nil
}

// CreateSubscription creates a new subscription for a plan
func (c *HTTPProviderClient) CreateSubscription(planID string, notes map[string]string) (*ProviderSubscription, error) {
	type createSubscriptionRequest struct {
		PlanID         string            `json:"plan_id"`
		TotalCount     int               `json:"total_count"`     // 0 for infinite
		CustomerNotify int               `json:"customer_notify"` // 1 to notify customer
		Notes          map[string]string `json:"notes,omitempty"`
	}

	reqBody := createSubscriptionRequest{
		PlanID:         planID,
		TotalCount:     12, // Default to 12 billing cycles
		CustomerNotify: 1,
		Notes:          notes,
	}

	return c.doSubscription("POST", "/subscriptions", reqBody)
}

// GetSubscription fetches a specific subscription by ID
func (c *HTTPProviderClient) GetSubscription(subscriptionID string) (*ProviderSubscription, error) {
	return c.doSubscription("GET", "/subscriptions/"+subscriptionID, nil)
}

// CancelSubscription cancels a subscription, either at the end of the current
// billing period or immediately.
func (c *HTTPProviderClient) CancelSubscription(subscriptionID string, atPeriodEnd bool) (*ProviderSubscription, error) {
	reqBody := map[string]bool{"cancel_at_cycle_end": atPeriodEnd}
	return c.doSubscription("POST", "/subscriptions/"+subscriptionID+"/cancel", reqBody)
}

func (c *HTTPProviderClient) doSubscription(method, path string, reqBody interface{}) (*ProviderSubscription, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("billing provider API error (status %d): %s", resp.StatusCode, string(body))
	}

	var subscription ProviderSubscription
	if err := json.Unmarshal(body, &subscription); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}

	return &subscription, nil
}
