// Package geoip provides an HTTP client for the external GeoIP lookup collaborator.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"opensase/access-plane/internal/accessctx"
)

const defaultTimeout = 2 * time.Second

// Client resolves client IPs against a GeoIP HTTP service exposing
// GET {base}/v1/lookup/{ip} with a JSON body.
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

type lookupResponse struct {
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Lookup resolves ip to a coarse location. Returns (nil, nil) when the service has no
// mapping for the address (HTTP 404).
func (c *Client) Lookup(ctx context.Context, ip net.IP) (*accessctx.GeoLocation, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("geoip: base URL is empty")
	}
	url := fmt.Sprintf("%s/v1/lookup/%s", c.BaseURL, ip.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip: lookup returned %s", resp.Status)
	}
	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &accessctx.GeoLocation{
		Country:   body.Country,
		Region:    body.Region,
		City:      body.City,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	}, nil
}
