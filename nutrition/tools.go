package nutrition

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petclinic/nutrition-agent/agent/telemetry"
	"github.com/petclinic/nutrition-agent/agent/tools"
)

// Tool identifiers registered with the agent.
const (
	ToolFeedingGuidelines      tools.Ident = "get_feeding_guidelines"
	ToolDietaryRestrictions    tools.Ident = "get_dietary_restrictions"
	ToolNutritionalSupplements tools.Ident = "get_nutritional_supplements"
	ToolCreateOrder            tools.Ident = "create_order"
)

// productSuffix is appended to lookup results whenever the data service
// returned a product list.
const productSuffix = " Recommended products available at our clinic: %s"

type (
	// Toolset binds the four nutrition tools to a data client. Each tool
	// performs one lookup and formats a plain-text result; create_order
	// additionally validates product availability and synthesizes an order.
	Toolset struct {
		client *Client
		logger telemetry.Logger
		tracer telemetry.Tracer
	}

	// ToolsetOptions configures optional Toolset collaborators.
	ToolsetOptions struct {
		// Logger defaults to a no-op logger when nil.
		Logger telemetry.Logger
		// Tracer defaults to a no-op tracer when nil.
		Tracer telemetry.Tracer
	}

	// lookupPayload is the argument shape shared by the three lookup tools.
	lookupPayload struct {
		PetType string `json:"pet_type"`
	}

	// orderPayload is the create_order argument shape. Quantity is optional
	// and defaults to 1.
	orderPayload struct {
		ProductName string `json:"product_name"`
		PetType     string `json:"pet_type"`
		Quantity    int    `json:"quantity"`
	}
)

// lookupSchema validates the single pet_type argument of the lookup tools.
var lookupSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"pet_type": {
			"type": "string",
			"description": "Pet species to look up, e.g. \"dog\" or \"cat\""
		}
	},
	"required": ["pet_type"],
	"additionalProperties": false
}`)

// orderSchema validates create_order arguments.
var orderSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"product_name": {
			"type": "string",
			"description": "Name of the clinic product to order"
		},
		"pet_type": {
			"type": "string",
			"description": "Pet species the product is for"
		},
		"quantity": {
			"type": "integer",
			"minimum": 1,
			"description": "Number of items to order, defaults to 1"
		}
	},
	"required": ["product_name", "pet_type"],
	"additionalProperties": false
}`)

// NewToolset builds the nutrition toolset on top of the given data client.
func NewToolset(client *Client, opts ToolsetOptions) *Toolset {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Toolset{client: client, logger: logger, tracer: tracer}
}

// Specs returns the tool specs to register with the agent, in the order they
// are advertised to the model.
func (t *Toolset) Specs() []*tools.Spec {
	return []*tools.Spec{
		{
			Name:        ToolFeedingGuidelines,
			Description: "Get feeding guidelines based on pet type",
			InputSchema: lookupSchema,
			Handler:     t.FeedingGuidelines,
		},
		{
			Name:        ToolDietaryRestrictions,
			Description: "Get dietary recommendations for specific health conditions by animal type",
			InputSchema: lookupSchema,
			Handler:     t.DietaryRestrictions,
		},
		{
			Name:        ToolNutritionalSupplements,
			Description: "Get supplement recommendations by animal type",
			InputSchema: lookupSchema,
			Handler:     t.NutritionalSupplements,
		},
		{
			Name:        ToolCreateOrder,
			Description: "Create an order for a recommended product. Requires pet_type and quantity.",
			InputSchema: orderSchema,
			Handler:     t.CreateOrder,
		},
	}
}

// Registry builds a validating registry over the toolset's specs.
func (t *Toolset) Registry() (*tools.Registry, error) {
	return tools.NewRegistry(t.Specs()...)
}

// FeedingGuidelines returns feeding guidance for a pet type.
func (t *Toolset) FeedingGuidelines(ctx context.Context, payload json.RawMessage) (string, error) {
	return t.lookup(ctx, ToolFeedingGuidelines, payload, func(petType string, rec Record) string {
		return fmt.Sprintf("Nutrition info for %s: %s", petType, rec.Facts)
	})
}

// DietaryRestrictions returns condition-specific dietary guidance for a pet
// type.
func (t *Toolset) DietaryRestrictions(ctx context.Context, payload json.RawMessage) (string, error) {
	return t.lookup(ctx, ToolDietaryRestrictions, payload, func(petType string, rec Record) string {
		return fmt.Sprintf("Dietary info for %s: %s. Consult veterinarian for condition-specific advice.", petType, rec.Facts)
	})
}

// NutritionalSupplements returns supplement guidance for a pet type.
func (t *Toolset) NutritionalSupplements(ctx context.Context, payload json.RawMessage) (string, error) {
	return t.lookup(ctx, ToolNutritionalSupplements, payload, func(petType string, rec Record) string {
		return fmt.Sprintf("Supplement info for %s: %s. Consult veterinarian for supplements.", petType, rec.Facts)
	})
}

// lookup runs the shared fetch-and-format flow of the three lookup tools.
func (t *Toolset) lookup(ctx context.Context, name tools.Ident, payload json.RawMessage, format func(string, Record) string) (string, error) {
	ctx, span := t.tracer.Start(ctx, name.String())
	defer span.End()
	span.SetAttributes("tool.name", name.String())

	var p lookupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", name, err)
	}
	span.SetAttributes("pet.type", p.PetType)

	rec := t.client.Fetch(ctx, p.PetType)
	result := format(p.PetType, rec)
	if rec.Products != "" {
		result += fmt.Sprintf(productSuffix, rec.Products)
	}
	span.SetAttributes("result.length", len(result))
	return result, nil
}

// CreateOrder validates product availability for the pet type and synthesizes
// an order confirmation. Unavailable products produce a rejection string, not
// an error.
func (t *Toolset) CreateOrder(ctx context.Context, payload json.RawMessage) (string, error) {
	ctx, span := t.tracer.Start(ctx, ToolCreateOrder.String())
	defer span.End()
	span.SetAttributes("tool.name", ToolCreateOrder.String())

	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", ToolCreateOrder, err)
	}
	span.SetAttributes("product.name", p.ProductName, "pet.type", p.PetType, "order.quantity", p.Quantity)

	rec := t.client.Fetch(ctx, p.PetType)
	if !productAvailable(rec.Products, p.ProductName) {
		span.SetAttributes("order.success", false, "error", "product_not_available")
		return fmt.Sprintf("Sorry, can't make the order. %s is not available in our inventory for %s.", p.ProductName, p.PetType), nil
	}
	order := newOrder(p.ProductName, p.PetType, p.Quantity)
	span.SetAttributes("order.id", order.ID, "order.total", order.TotalCost, "order.success", true)
	t.logger.Info(ctx, "order created",
		"order_id", order.ID,
		"product_name", order.ProductName,
		"pet_type", order.PetType,
		"quantity", order.Quantity,
	)
	return order.Confirmation(), nil
}
