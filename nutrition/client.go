// Package nutrition implements the pet nutrition tool layer: an HTTP client
// for the external nutrition data service and the four tools the agent
// exposes to the model (feeding guidelines, dietary restrictions,
// supplements, order creation).
//
// Lookup failures never surface as Go errors. The data client converts every
// failure mode (missing configuration, bad upstream status, transport
// failure) into a Record whose Facts field carries an explanatory message,
// so the model can still respond conversationally.
package nutrition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petclinic/nutrition-agent/agent/telemetry"
)

// fetchTimeout bounds the outbound lookup. Requests that exceed it degrade
// into a "service down" record.
const fetchTimeout = 5 * time.Second

// Record is the nutrition data returned for a pet type. It lives for a
// single tool invocation and is never persisted.
type Record struct {
	// Facts is free-form nutrition text, or an explanatory error message
	// when the lookup degraded.
	Facts string `json:"facts"`
	// Products is the clinic product list text for the pet type. Empty when
	// the lookup degraded or the upstream has no products.
	Products string `json:"products"`
}

// ClientOptions configures the nutrition data client.
type ClientOptions struct {
	// HTTPClient overrides the HTTP client used for lookups. When nil a
	// client with the fixed lookup timeout is used.
	HTTPClient *http.Client

	// Logger is used for non-fatal diagnostics. When nil, defaults to a
	// no-op logger.
	Logger telemetry.Logger

	// Tracer records a span per lookup. When nil, defaults to a no-op
	// tracer.
	Tracer telemetry.Tracer
}

// Client fetches nutrition data from the external service. An empty base URL
// is a recoverable condition: lookups return a degraded record without
// network I/O.
type Client struct {
	baseURL string
	http    *http.Client
	logger  telemetry.Logger
	tracer  telemetry.Tracer
}

// NewClient builds a nutrition data client for the given service base URL.
// baseURL may be empty when the service location is not configured.
func NewClient(baseURL string, opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: fetchTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
		tracer:  tracer,
	}
}

// Fetch looks up nutrition data for the given pet type. The pet type is
// lower-cased before use. Fetch never returns an error: all failure modes
// produce a Record whose Facts field explains the degradation.
func (c *Client) Fetch(ctx context.Context, petType string) Record {
	ctx, span := c.tracer.Start(ctx, "get_nutrition_data")
	defer span.End()
	span.SetAttributes("pet.type", petType)
	if c.baseURL == "" {
		span.SetAttributes("nutrition.service.url", "not_configured", "error", "nutrition_service_not_configured")
		return Record{Facts: "Error: Nutrition service not found"}
	}
	span.SetAttributes("nutrition.service.url", c.baseURL)

	pet := strings.ToLower(petType)
	url := c.baseURL + "/" + pet
	span.SetAttributes("http.url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.SetAttributes("error", "request_exception")
		span.RecordError(err)
		return Record{Facts: "Error: Nutrition service down"}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "nutrition lookup failed", "pet_type", pet, "err", err)
		span.SetAttributes("error", "request_exception")
		span.RecordError(err)
		return Record{Facts: "Error: Nutrition service down"}
	}
	defer resp.Body.Close()
	span.SetAttributes("http.status_code", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		span.SetAttributes("error", "http_error")
		return Record{Facts: fmt.Sprintf("Error: Nutrition service could not find information for pet: %s", pet)}
	}
	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		c.logger.Warn(ctx, "nutrition response decode failed", "pet_type", pet, "err", err)
		span.SetAttributes("error", "request_exception")
		span.RecordError(err)
		return Record{Facts: "Error: Nutrition service down"}
	}
	span.SetAttributes("success", true, "has_facts", rec.Facts != "", "has_products", rec.Products != "")
	return rec
}

// Name implements health.Pinger.
func (c *Client) Name() string { return "nutrition" }

// Ping implements health.Pinger by issuing a GET against the service base
// URL. Unlike Fetch, a missing base URL or an upstream failure surfaces as an
// error so health checks report the dependency as down.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return errors.New("nutrition service URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("nutrition service returned %d", resp.StatusCode)
	}
	return nil
}
