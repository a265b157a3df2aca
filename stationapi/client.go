// Package stationapi is the REST data-access client for the station server.
// Every endpoint answers with a {success, data, message, code} envelope;
// success:false is returned as an error value, never a panic.
package stationapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"stationedge/conflict"
	"stationedge/protocol"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// Response is the server's envelope.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Error is a non-conflict failure reported by the server or the transport.
type Error struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stationapi %s %s", e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// Client calls the station server REST API.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a client. tokens may be nil for unauthenticated use.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Reconfigure updates the base URL and timeout for hot-reload.
func (c *Client) Reconfigure(baseURL string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.httpClient.Timeout = timeout
}

// GetAvailableQueues returns the per-destination summaries.
func (c *Client) GetAvailableQueues(ctx context.Context) ([]protocol.QueueSummary, error) {
	var out []protocol.QueueSummary
	if err := c.do(ctx, http.MethodGet, "/api/queue/available", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetQueueByDestination returns one destination's vehicles.
func (c *Client) GetQueueByDestination(ctx context.Context, destinationID string) ([]protocol.QueueItem, error) {
	var out []protocol.QueueItem
	if err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(destinationID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type vehicleRequest struct {
	LicensePlate string                 `json:"licensePlate"`
	Status       protocol.VehicleStatus `json:"status,omitempty"`
}

// EnterQueue adds a vehicle to its destination queue.
func (c *Client) EnterQueue(ctx context.Context, licensePlate string) error {
	return c.do(ctx, http.MethodPost, "/api/queue/enter", &vehicleRequest{LicensePlate: licensePlate}, nil)
}

// ExitQueue removes a vehicle from its queue.
func (c *Client) ExitQueue(ctx context.Context, licensePlate string) error {
	return c.do(ctx, http.MethodPost, "/api/queue/exit", &vehicleRequest{LicensePlate: licensePlate}, nil)
}

// UpdateVehicleStatus sets a queued vehicle's status.
func (c *Client) UpdateVehicleStatus(ctx context.Context, licensePlate string, status protocol.VehicleStatus) error {
	return c.do(ctx, http.MethodPut, "/api/queue/status", &vehicleRequest{LicensePlate: licensePlate, Status: status}, nil)
}

type bookingRequest struct {
	DestinationID  string `json:"destinationId"`
	SeatsRequested int    `json:"seatsRequested"`
}

// CreateBooking books seats on a destination. The server spreads the seats
// over vehicles in queue order.
func (c *Client) CreateBooking(ctx context.Context, destinationID string, seats int) (*protocol.BookingResult, error) {
	var out protocol.BookingResult
	if err := c.do(ctx, http.MethodPost, "/api/bookings", &bookingRequest{DestinationID: destinationID, SeatsRequested: seats}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("stationapi marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	c.mu.RLock()
	base := c.baseURL
	hc := c.httpClient
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, method, base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("stationapi %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("stationapi token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("stationapi %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return decode(method, path, resp, result)
}

func decode(method, path string, resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("stationapi read body: %w", err)
	}

	var env Response
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &Error{Method: method, Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("stationapi decode %s: %w", path, err)
	}
	if !env.Success || resp.StatusCode >= 400 {
		return responseError(method, path, resp.StatusCode, &env)
	}
	if result != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("stationapi decode %s data: %w", path, err)
		}
	}
	return nil
}

// responseError maps a failed envelope to *conflict.Error when it carries a
// conflict code (or HTTP 409), otherwise to *Error.
func responseError(method, path string, status int, env *Response) error {
	if env.Code != "" {
		if code, ok := conflict.ParseCode(env.Code); ok {
			return &conflict.Error{Code: code, Message: env.Message}
		}
	}
	if status == http.StatusConflict {
		code, _ := conflict.ParseCode(env.Code)
		if code == "" {
			code = conflict.CodeBookingConflict
		}
		return &conflict.Error{Code: code, Message: env.Message}
	}
	return &Error{Method: method, Path: path, Status: status, Code: env.Code, Message: env.Message}
}
