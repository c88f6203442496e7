package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/locations"
	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/response"
)

// serviceClient calls the internal endpoints of another service.
type serviceClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newServiceClient(baseURL, token string) *serviceClient {
	return &serviceClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *serviceClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InternalTokenHeader, c.token)
	middleware.PropagateTraceID(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var env response.APIResponse
		_ = json.NewDecoder(resp.Body).Decode(&env)
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, env.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// locationClient reads online rescuers from the location service.
type locationClient struct{ *serviceClient }

func (c locationClient) OnlineRescuers(ctx context.Context) ([]locations.OnlineRescuer, error) {
	var env response.Envelope[[]locations.OnlineRescuer]
	if _, err := c.do(ctx, http.MethodGet, "/internal/rescuers/online", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// caseClient assigns and lists cases through the case service.
type caseClient struct{ *serviceClient }

func (c caseClient) Assign(ctx context.Context, caseID, rescuerID string) error {
	status, err := c.do(ctx, http.MethodPost, "/internal/cases/"+caseID+"/assign",
		map[string]string{"rescue_id": rescuerID}, nil)
	if status == http.StatusConflict {
		return errAlreadyDispatched
	}
	return err
}

func (c caseClient) PendingCases(ctx context.Context) ([]cases.Case, error) {
	var env response.Envelope[[]cases.Case]
	if _, err := c.do(ctx, http.MethodGet, "/internal/cases/pending", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}
