// Package actuator triggers the physical gate action: pressing the
// configured input_button entity through the automation runtime's REST API.
package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

type Client interface {
	Press(ctx context.Context) error
}

type HTTPClient struct {
	baseURL  string
	token    string
	entityID string
	httpc    *http.Client
}

func New(baseURL, token, entityID string) *HTTPClient {
	if baseURL == "" {
		baseURL = "http://supervisor/core"
	}
	if entityID == "" {
		entityID = "input_button.furtka"
	}
	return &HTTPClient{
		baseURL:  baseURL,
		token:    token,
		entityID: entityID,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HTTPClient) Press(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{"entity_id": c.entityID})
	if err != nil {
		return errors.Wrap(err, "marshal press payload")
	}

	url := c.baseURL + "/api/services/input_button/press"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build press request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "press button")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("press button: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Fake counts presses; used in tests and as a stand-in when no runtime URL
// is configured.
type Fake struct {
	Presses int
	Err     error
}

func (f *Fake) Press(ctx context.Context) error {
	if f.Err != nil {
		return f.Err
	}
	f.Presses++
	return nil
}

var _ Client = (*HTTPClient)(nil)
var _ Client = (*Fake)(nil)
