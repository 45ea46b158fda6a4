// Package arcadeapi is the HTTP client for the arcade machine backend's
// account-management API: login status queries, lock session assert/release,
// and asynchronous upload job submission and polling. All calls are routed
// through a circuit breaker so a misbehaving backend trips fast instead of
// piling up timeouts across scanner ticks.
package arcadeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/parlorworks/seatguard/guard"
)

// Client talks to the arcade backend. It implements guard.AccountService.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// New builds a Client. When creds is non-nil a client-credentials token source
// is attached so every request carries a bearer token; pass nil for backends
// that authenticate by account token alone (and in tests).
func New(baseURL string, creds *clientcredentials.Config) *Client {
	hc := &http.Client{Timeout: 15 * time.Second}
	if creds != nil && creds.TokenURL != "" {
		hc = creds.Client(context.Background())
		hc.Timeout = 15 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "arcade-backend",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("arcade backend circuit state changed", slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &Client{BaseURL: baseURL, HTTPClient: hc, breaker: cb}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// doJSON sends a JSON request through the breaker and decodes the response
// body into out (skipped when out is nil). Non-2xx responses are errors.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, err := c.http().Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= http.StatusInternalServerError {
			b, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			_ = r.Body.Close()
			return nil, fmt.Errorf("backend %s %s: %s: %s", method, path, r.Status, string(b))
		}
		return r, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// QueryStatus reports whether the account is currently logged in somewhere on
// the arcade network. The backend's online field arrives in whatever encoding
// its firmware of the day prefers; see NormalizeOnline.
func (c *Client) QueryStatus(ctx context.Context, accountToken string) (*guard.AccountStatus, error) {
	var body struct {
		Online      json.RawMessage `json:"online"`
		DisplayName string          `json:"display_name"`
		Rating      int             `json:"rating"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/account/status", map[string]string{"account_token": accountToken}, &body)
	if err != nil {
		return nil, err
	}
	return &guard.AccountStatus{
		Online:      NormalizeOnline(body.Online),
		DisplayName: body.DisplayName,
		Rating:      body.Rating,
	}, nil
}

type lockRequest struct {
	AccountToken string `json:"account_token"`
	PlaceID      string `json:"place_id"`
	ClientID     string `json:"client_id"`
	RegionID     string `json:"region_id"`
}

// AssertLock logs the account in as a held session on the configured virtual
// cabinet, preventing other logins. Idempotent server-side; re-asserting an
// existing lock refreshes it and may rotate the session ref.
func (c *Client) AssertLock(ctx context.Context, accountToken string, params guard.MachineParams) (*guard.LockResult, error) {
	var body struct {
		Success    bool   `json:"success"`
		SessionRef string `json:"session_ref"`
	}
	req := lockRequest{AccountToken: accountToken, PlaceID: params.PlaceID, ClientID: params.ClientID, RegionID: params.RegionID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/account/lock", req, &body); err != nil {
		return nil, err
	}
	return &guard.LockResult{Success: body.Success, SessionRef: body.SessionRef}, nil
}

// ReleaseLock logs the held session out.
func (c *Client) ReleaseLock(ctx context.Context, accountToken string, params guard.MachineParams) error {
	var body struct {
		Success bool `json:"success"`
	}
	req := lockRequest{AccountToken: accountToken, PlaceID: params.PlaceID, ClientID: params.ClientID, RegionID: params.RegionID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/account/unlock", req, &body); err != nil {
		return err
	}
	if !body.Success {
		return fmt.Errorf("backend refused unlock")
	}
	return nil
}

// SubmitUpload starts an asynchronous upload job (target: "scores" or
// "collectibles") and returns its job id for polling.
func (c *Client) SubmitUpload(ctx context.Context, accountToken, target string) (string, error) {
	var body struct {
		JobID string `json:"job_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/upload/"+target, map[string]string{"account_token": accountToken}, &body)
	if err != nil {
		return "", err
	}
	if body.JobID == "" {
		return "", fmt.Errorf("backend returned empty job id")
	}
	return body.JobID, nil
}

// UploadJob fetches the current state of a submitted upload job.
func (c *Client) UploadJob(ctx context.Context, jobID string) (*guard.JobStatus, error) {
	var body struct {
		Done        bool       `json:"done"`
		Error       string     `json:"error"`
		CompletedAt *time.Time `json:"completed_at"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/upload/jobs/"+jobID, nil, &body); err != nil {
		return nil, err
	}
	return &guard.JobStatus{Done: body.Done, Error: body.Error, CompletedAt: body.CompletedAt}, nil
}
