package client

import (
	"encoding/json"
	"net/http"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health checks the server health.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.httpClient.Get(c.server + "/health")
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "health check failed",
		}
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}

	return &health, nil
}

// Ready returns the readiness of each server dependency, keyed by name
// ("database", "nats", "redis") plus an overall "status". A not-ready server returns
// the report together with an *APIError.
func (c *Client) Ready() (map[string]string, error) {
	resp, err := c.httpClient.Get(c.server + "/ready")
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	report := map[string]string{}
	json.NewDecoder(resp.Body).Decode(&report)

	if resp.StatusCode != http.StatusOK {
		return report, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "server not ready",
		}
	}

	return report, nil
}
