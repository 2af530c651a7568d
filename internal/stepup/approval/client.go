// Package approval provides an HTTP client for the external manager-approval
// collaborator used by manager-approval step-up challenges.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Client checks manager approvals against an HTTP service exposing
// POST {base}/v1/approvals/check with a JSON body.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type checkRequest struct {
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	Token       string `json:"token"`
}

type checkResponse struct {
	Approved bool `json:"approved"`
}

// Approved asks the collaborator whether a manager approved the challenge. token
// is the approval reference the requester presented. Transport failures and
// non-200 responses are errors; callers treat them as verification failures.
func (c *Client) Approved(ctx context.Context, userID, challengeID, token string) (bool, error) {
	if c.BaseURL == "" {
		return false, fmt.Errorf("approval: base URL is empty")
	}
	payload, err := json.Marshal(checkRequest{UserID: userID, ChallengeID: challengeID, Token: token})
	if err != nil {
		return false, err
	}
	url := c.BaseURL + "/v1/approvals/check"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("approval: check returned %s", resp.Status)
	}
	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Approved, nil
}
