package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"emergency-rescue-system/pkg/cases"
)

// SSESource subscribes to the notification service change stream.
type SSESource struct {
	URL   string
	Token func() string
	HTTP  *http.Client
}

// NewSSESource streams from api's notification endpoint with api's token.
func NewSSESource(api *API) *SSESource {
	return &SSESource{URL: api.NotificationsURL(), Token: api.Token, HTTP: &http.Client{}}
}

func (s *SSESource) Subscribe(ctx context.Context) (<-chan cases.ChangeEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.Token != nil {
		req.Header.Set("Authorization", "Bearer "+s.Token())
	}

	httpClient := s.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: "subscribe failed"}
	}

	out := make(chan cases.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readSSE(resp.Body, func(name, data string) {
			if name == "connected" {
				return
			}
			var ev cases.ChangeEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				log.Printf("[WARN] Undecodable change event: %v", err)
				ev = cases.ChangeEvent{Type: name}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

// readSSE calls emit for every dispatched event until r ends.
func readSSE(r io.Reader, emit func(name, data string)) {
	scanner := bufio.NewScanner(r)
	var name string
	var data []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				emit(name, strings.Join(data, "\n"))
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
