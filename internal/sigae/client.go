// Package sigae is the anti-corruption layer between the sync pipeline and
// the SIGAE dispatch-management API. All outbound calls go through a single
// Client that enforces circuit breaking, trace propagation, and error mapping
// to the api_ error family.
//
// The Client deliberately does NOT retry. Retry for this pipeline is the
// workers' job: a failed sync re-enqueues itself with a fixed delay, so a
// retry loop here would multiply upstream load for no benefit.
package sigae

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sigsync/internal/config"
	"sigsync/internal/types"

	"github.com/sony/gobreaker/v2"
)

// Client issues authenticated calls against the SIGAE HTTP API.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	baseURL    string
	apiKey     types.SecretString
	userAgent  string
}

// NewClient builds a Client from configuration. The http.Client timeout comes
// from SIGAE_TIMEOUT and bounds every call, so a hung upstream request cannot
// pin a sync-worker slot indefinitely.
func NewClient(cfg config.SigaeConfig) *Client {
	return newClient(&http.Client{Timeout: cfg.Timeout}, cfg)
}

// NewClientWithHTTP builds a Client around a caller-provided http.Client.
// Used by tests to point at an httptest server.
func NewClientWithHTTP(httpClient *http.Client, cfg config.SigaeConfig) *Client {
	return newClient(httpClient, cfg)
}

func newClient(httpClient *http.Client, cfg config.SigaeConfig) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "sigae",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Client{
		httpClient: httpClient,
		breaker:    cb,
		baseURL:    trimTrailingSlash(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// LatestIncidents returns the most recent incident summaries, newest first.
// limit is the page size; SIGAE caps it server-side.
func (c *Client) LatestIncidents(ctx context.Context, limit int) ([]IncidentSummary, error) {
	var out []IncidentSummary
	query := url.Values{"cantidad": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/api/boletas", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IncidentDetails returns the basic detail record for one incident.
func (c *Client) IncidentDetails(ctx context.Context, id int64) (*IncidentDetail, error) {
	var out IncidentDetail
	if err := c.get(ctx, fmt.Sprintf("/api/boletas/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IncidentReport returns the operational report record for one incident.
func (c *Client) IncidentReport(ctx context.Context, id int64) (*IncidentReport, error) {
	var out IncidentReport
	if err := c.get(ctx, fmt.Sprintf("/api/boletas/%d/reporte", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StationsAttending returns the stations assigned to one incident.
func (c *Client) StationsAttending(ctx context.Context, id int64) ([]StationAttending, error) {
	var out []StationAttending
	if err := c.get(ctx, fmt.Sprintf("/api/boletas/%d/estaciones", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VehiclesDispatched returns the vehicles assigned to one incident.
func (c *Client) VehiclesDispatched(ctx context.Context, id int64) ([]VehicleDispatched, error) {
	var out []VehicleDispatched
	if err := c.get(ctx, fmt.Sprintf("/api/boletas/%d/unidades", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// get issues one GET through the circuit breaker and decodes the JSON body
// into out. Exactly one attempt is made; every failure path maps to an
// api_-family AppError so callers can classify without string matching.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeAPIRequestFailed, "failed to build SIGAE request", err).
			WithDetails(map[string]any{"path": path})
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey.Unmask())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if traceID := types.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx counts as a breaker failure so a dying upstream trips it.
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("sigae returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.NewAppError(types.ErrCodeAPICircuitOpen, "SIGAE circuit breaker is open", err).
				WithDetails(map[string]any{"path": path})
		}
		if resp != nil {
			return types.NewAppError(types.ErrCodeAPIBadStatus,
				fmt.Sprintf("SIGAE returned status %d", resp.StatusCode), err).
				WithDetails(map[string]any{"path": path, "status": resp.StatusCode})
		}
		return types.NewAppError(types.ErrCodeAPIRequestFailed, "SIGAE request failed", err).
			WithDetails(map[string]any{"path": path})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeAPIBadStatus,
			fmt.Sprintf("SIGAE returned status %d", resp.StatusCode), nil).
			WithDetails(map[string]any{"path": path, "status": resp.StatusCode})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeAPIDecodeFailed, "failed to decode SIGAE response", err).
			WithDetails(map[string]any{"path": path})
	}
	return nil
}
