// seed loads development sample data into a running server for local testing.
// Idempotent: every request is an upsert by id. Set SEED_BASE_URL to target a
// non-default server address.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// demoRegoPolicy restricts the restricted segment to compliant devices on the
// corporate network.
const demoRegoPolicy = `package access.policy

default match = false

match if {
	input.context.network == "corporate"
	input.device.compliant
}
`

type seedEntry struct {
	method string
	path   string
	body   map[string]any
}

func main() {
	baseURL := os.Getenv("SEED_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	entries := []seedEntry{
		{"PUT", "/v1/resources/res-wiki", map[string]any{
			"name":        "wiki",
			"type":        "application",
			"sensitivity": "internal",
			"segment":     "corp",
			"owner":       "it",
		}},
		{"PUT", "/v1/resources/res-payroll", map[string]any{
			"name":        "payroll",
			"type":        "database",
			"sensitivity": "restricted",
			"segment":     "finance",
			"owner":       "finance",
		}},
		{"PUT", "/v1/devices/dev-demo-1", map[string]any{
			"user_id":   "dev-user-001",
			"name":      "demo laptop",
			"os":        "linux",
			"managed":   true,
			"compliant": true,
			"posture": map[string]any{
				"firewall_enabled":    true,
				"antivirus_running":   true,
				"disk_encrypted":      true,
				"os_patched":          true,
				"screen_lock_enabled": true,
			},
			"certificates": []map[string]any{{
				"id":          "cert-demo-1",
				"subject":     "dev-user-001",
				"issuer":      "demo-ca",
				"valid_from":  time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339),
				"valid_until": time.Now().Add(365 * 24 * time.Hour).UTC().Format(time.RFC3339),
			}},
		}},
		{"PUT", "/v1/connectors/conn-demo-east", map[string]any{
			"name":        "demo east",
			"resource_id": "res-wiki",
			"type":        "agent",
			"endpoint":    "10.20.0.5:8443",
			"health":      "healthy",
		}},
		{"PUT", "/v1/connectors/conn-demo-finance", map[string]any{
			"name":        "demo finance",
			"resource_id": "res-payroll",
			"type":        "tunnel",
			"endpoint":    "10.30.0.5:8443",
			"health":      "healthy",
		}},
		{"PUT", "/v1/policies/pol-corp-allow", map[string]any{
			"name":     "corp segment allow",
			"priority": 100,
			"enabled":  true,
			"effect":   "allow",
			"match":    map[string]any{"segments": []string{"corp"}},
		}},
		{"PUT", "/v1/policies/pol-finance-compliant", map[string]any{
			"name":      "finance requires compliant corp device",
			"priority":  50,
			"enabled":   true,
			"effect":    "allow",
			"match":     map[string]any{"segments": []string{"finance"}, "groups": []string{"finance"}},
			"rego_rule": demoRegoPolicy,
			"conditions": []map[string]any{
				{"type": "session_recording"},
			},
		}},
	}

	client := &http.Client{Timeout: 10 * time.Second}
	for _, e := range entries {
		if err := send(client, baseURL, e); err != nil {
			log.Fatalf("seed: %s %s: %v", e.method, e.path, err)
		}
		log.Printf("seed: %s %s ok", e.method, e.path)
	}
}

func send(client *http.Client, baseURL string, e seedEntry) error {
	payload, err := json.Marshal(e.body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(e.method, baseURL+e.path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return fmt.Errorf("status %s: %s", resp.Status, buf.String())
	}
	return nil
}
