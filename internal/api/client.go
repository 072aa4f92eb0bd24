// Package api is the dashboard's view of the REST data provider.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Provider is everything the dashboard reads from or writes to the backend.
type Provider interface {
	ListSensors(ctx context.Context) ([]domain.Sensor, error)
	GetSensor(ctx context.Context, id string) (domain.SensorDetail, error)
	GetSensorHistory(ctx context.Context, id string, r domain.HistoryRange) ([]domain.HistoryPoint, error)
	GetSummary(ctx context.Context) (domain.Summary, error)
	ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}

type Client struct {
	baseURL   string
	apiKey    string
	authToken string
	http      *http.Client
	cb        *gobreaker.CircuitBreaker
}

func New(cfg config.APIConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fails := cfg.BreakerFailures
	if fails <= 0 {
		fails = 5
	}
	return &Client{
		baseURL:   base,
		apiKey:    cfg.Key,
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sensor-api",
			Timeout: cfg.BreakerOpen(),
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(fails)
			},
			// A missing resource says nothing about the provider's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
	}
}

// BreakerState reports the circuit breaker state, for the settings panel.
func (c *Client) BreakerState() string { return c.cb.State().String() }

func (c *Client) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	var out []domain.Sensor
	if err := c.getJSON(ctx, "/sensors", &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSensor(ctx context.Context, id string) (domain.SensorDetail, error) {
	var out domain.SensorDetail
	if err := c.getJSON(ctx, "/sensors/"+url.PathEscape(id), &out, nil); err != nil {
		return domain.SensorDetail{}, err
	}
	return out, nil
}

func (c *Client) GetSensorHistory(ctx context.Context, id string, r domain.HistoryRange) ([]domain.HistoryPoint, error) {
	params := url.Values{}
	if !r.Start.IsZero() {
		params.Set("startDate", r.Start.UTC().Format(time.RFC3339))
	}
	if !r.End.IsZero() {
		params.Set("endDate", r.End.UTC().Format(time.RFC3339))
	}
	var out []domain.HistoryPoint
	if err := c.getJSON(ctx, "/sensors/"+url.PathEscape(id)+"/history", &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSummary(ctx context.Context) (domain.Summary, error) {
	var out domain.Summary
	if err := c.getJSON(ctx, "/sensors/summary", &out, nil); err != nil {
		return domain.Summary{}, err
	}
	return out, nil
}

func (c *Client) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []domain.Alert
	if err := c.getJSON(ctx, "/alerts", &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AcknowledgeAlert(ctx context.Context, id string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, http.MethodPut, "/alerts/"+url.PathEscape(id)+"/acknowledge", nil, nil)
	})
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any, params url.Values) error {
	u := path
	if params != nil {
		if q := params.Encode(); q != "" {
			u += "?" + q
		}
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, http.MethodGet, u, nil, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
