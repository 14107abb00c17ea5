// Package client is the HTTP implementation of the sync engine's remote.
// It talks to the trip API with a bearer token and consumes change events
// over server-sent events.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"tripmap/api/internal/notify"
	syncer "tripmap/api/internal/sync"
)

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api: %s (%d %s)", e.Message, e.Status, e.Code)
}

func (c *Client) Authenticate(ctx context.Context, displayName string) (string, error) {
	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/session/login", map[string]any{"name": displayName}, &resp)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return resp.UserID, nil
}

// Join registers membership. The server treats a repeat join as success, so
// reconnecting with a stored code needs no special casing here. The userID
// argument is unused; the bearer token identifies the caller.
func (c *Client) Join(ctx context.Context, tripID, joinCode, _ string) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/trips/"+tripID+"/join", map[string]any{"joinCode": joinCode}, nil)
	if err != nil {
		return fmt.Errorf("join trip: %w", err)
	}
	return nil
}

func (c *Client) FetchTrip(ctx context.Context, tripID string) (syncer.TripSnapshot, error) {
	var resp struct {
		Trip struct {
			ID        string          `json:"id"`
			Title     string          `json:"title"`
			Planner   json.RawMessage `json:"planner"`
			Status    json.RawMessage `json:"status"`
			UpdatedBy string          `json:"updatedBy"`
		} `json:"trip"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/trips/"+tripID, nil, &resp)
	if err != nil {
		return syncer.TripSnapshot{}, fmt.Errorf("fetch trip: %w", err)
	}
	return syncer.TripSnapshot{
		ID:        resp.Trip.ID,
		Title:     resp.Trip.Title,
		Planner:   resp.Trip.Planner,
		Status:    resp.Trip.Status,
		UpdatedBy: resp.Trip.UpdatedBy,
	}, nil
}

func (c *Client) UpdateTrip(ctx context.Context, tripID string, plannerDoc, statusDoc json.RawMessage, origin string) error {
	body := map[string]any{"origin": origin}
	if len(plannerDoc) > 0 {
		body["planner"] = json.RawMessage(plannerDoc)
	}
	if len(statusDoc) > 0 {
		body["status"] = json.RawMessage(statusDoc)
	}
	if err := c.doJSON(ctx, http.MethodPut, "/api/trips/"+tripID, body, nil); err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	return nil
}

// Subscribe opens the SSE stream and decodes each data line into a change
// event. The channel closes when the stream ends or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, tripID string) (<-chan notify.ChangeEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/trips/"+tripID+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	// The stream outlives the client's request timeout, so use a transport
	// without one.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan notify.ChangeEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event notify.ChangeEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				log.Printf("client: skip malformed change event: %v", err)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func decodeError(resp *http.Response) error {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return &apiError{Status: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
	}
	return &apiError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}
