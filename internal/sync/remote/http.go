package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/sayantanroy47/tasky-sync/internal/errors"
)

// HTTPAdapter implements Adapter over the REST sync protocol:
// POST {base}/sync/push and GET {base}/sync/pull?cursor=<opaque>.
// A circuit breaker sits in front of the remote so a flapping server is
// backed away from instead of hammered; an open circuit reads as a
// transient failure.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	creds   CredentialProvider
	breaker *gobreaker.CircuitBreaker
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Credentials    CredentialProvider
}

// NewHTTPAdapter creates an HTTPAdapter.
func NewHTTPAdapter(cfg HTTPConfig) *HTTPAdapter {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAdapter{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		creds:   cfg.Credentials,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sync-remote",
			Timeout: timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type pushRequest struct {
	Items []PushItem `json:"items"`
}

type pushResponse struct {
	Results []PushResult `json:"results"`
}

// Push implements Adapter.
func (a *HTTPAdapter) Push(ctx context.Context, items []PushItem) ([]PushResult, error) {
	body, err := json.Marshal(pushRequest{Items: items})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode push batch", err)
	}

	data, err := a.do(ctx, http.MethodPost, a.baseURL+"/sync/push", body)
	if err != nil {
		return nil, err
	}

	var resp pushResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataIntegrity, "malformed push response", err)
	}
	if len(resp.Results) != len(items) {
		return nil, apperrors.New(apperrors.ErrDataIntegrity,
			fmt.Sprintf("push response has %d results for %d items", len(resp.Results), len(items)))
	}
	return resp.Results, nil
}

// Pull implements Adapter.
func (a *HTTPAdapter) Pull(ctx context.Context, cursor string) (*PullResponse, error) {
	u := a.baseURL + "/sync/pull?cursor=" + url.QueryEscape(cursor)
	data, err := a.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var resp PullResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataIntegrity, "malformed pull response", err)
	}
	return &resp, nil
}

func (a *HTTPAdapter) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	token, err := a.creds.Token(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrAuthRequired, "no sync credential available", err)
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "sync request failed", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to read response", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, apperrors.New(apperrors.ErrAuthRequired, "sync credential rejected")
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, apperrors.New(apperrors.ErrTransientNetwork,
				fmt.Sprintf("remote returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return nil, apperrors.New(apperrors.ErrDataIntegrity,
				fmt.Sprintf("unexpected status %d", resp.StatusCode))
		}
		return data, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "remote circuit open", err)
		}
		return nil, err
	}
	return result.([]byte), nil
}
