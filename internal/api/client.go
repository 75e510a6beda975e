package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"securevpn/internal/model"
)

// Client talks to the directory service. It implements session.Service.
type Client struct {
	serviceURL string
	http       *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for the service URL
// (e.g. https://host/functions/v1/vpn-api). A non-positive timeout falls
// back to 10 seconds.
func NewClient(serviceURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		serviceURL: strings.TrimRight(serviceURL, "?"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log.Logger.With().Str("component", "api").Logger(),
	}
}

// ListServers fetches the catalogue. Records that fail validation and
// repeated ids are skipped; the first occurrence wins.
func (c *Client) ListServers(ctx context.Context) ([]model.Endpoint, error) {
	var resp ServersResponse
	if err := c.do(ctx, http.MethodGet, ActionServers, nil, &resp); err != nil {
		return nil, err
	}

	endpoints := make([]model.Endpoint, 0, len(resp.Servers))
	seen := make(map[string]bool, len(resp.Servers))
	for _, rec := range resp.Servers {
		ep := rec.Endpoint()
		if err := ep.Validate(); err != nil {
			c.log.Warn().Err(err).Msg("skipping server record")
			continue
		}
		if seen[ep.ID] {
			c.log.Warn().Str("id", ep.ID).Msg("skipping duplicate server id")
			continue
		}
		seen[ep.ID] = true
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// OpenSession requests a session on the given endpoint.
func (c *Client) OpenSession(ctx context.Context, endpointID string) (model.OpenResult, error) {
	var resp ConnectResponse
	if err := c.do(ctx, http.MethodPost, ActionConnect, ConnectRequest{ServerID: endpointID}, &resp); err != nil {
		return model.OpenResult{}, err
	}
	return model.OpenResult{
		Success:         resp.Success,
		SessionID:       string(resp.SessionID),
		EndpointAddress: resp.EndpointAddress,
		Message:         resp.Message,
	}, nil
}

// CloseSession asks the service to close a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (model.CloseResult, error) {
	var resp DisconnectResponse
	if err := c.do(ctx, http.MethodPost, ActionDisconnect, DisconnectRequest{SessionID: sessionID}, &resp); err != nil {
		return model.CloseResult{}, err
	}
	return model.CloseResult{Success: resp.Success, Message: resp.Message}, nil
}

func (c *Client) actionURL(action string) (string, error) {
	u, err := url.Parse(c.serviceURL)
	if err != nil {
		return "", fmt.Errorf("parse service url: %w", err)
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, action string, body any, out any) error {
	target, err := c.actionURL(action)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	correlationID := uuid.NewString()
	req.Header.Set(CorrelationHeader, correlationID)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer res.Body.Close()

	c.log.Debug().
		Str("action", action).
		Str("correlation_id", correlationID).
		Int("status", res.StatusCode).
		Msg("request done")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%s failed: %s: %s", action, res.Status, msg)
		}
		return fmt.Errorf("%s failed: %s", action, res.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	return nil
}
