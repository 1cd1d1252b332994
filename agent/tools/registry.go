package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds the tools exposed to the model for one agent. It compiles
// each tool's JSON Schema once at construction and validates every payload
// before dispatch. Dispatch failures never cross the registry boundary as
// errors: they are converted into error-shaped text results so the model can
// recover conversationally.
type Registry struct {
	order   []Ident
	specs   map[Ident]*Spec
	schemas map[Ident]*jsonschema.Schema
}

// NewRegistry builds a Registry from the given specs. Registration order is
// preserved and is the order tools are advertised to the model.
func NewRegistry(specs ...*Spec) (*Registry, error) {
	r := &Registry{
		specs:   make(map[Ident]*Spec, len(specs)),
		schemas: make(map[Ident]*jsonschema.Schema, len(specs)),
	}
	for _, spec := range specs {
		if spec == nil {
			continue
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("tools: spec is missing a name")
		}
		if spec.Description == "" {
			return nil, fmt.Errorf("tools: tool %q is missing a description", spec.Name)
		}
		if spec.Handler == nil {
			return nil, fmt.Errorf("tools: tool %q is missing a handler", spec.Name)
		}
		if _, ok := r.specs[spec.Name]; ok {
			return nil, fmt.Errorf("tools: tool %q registered twice", spec.Name)
		}
		if len(spec.InputSchema) > 0 {
			schema, err := compileSchema(spec.Name, spec.InputSchema)
			if err != nil {
				return nil, err
			}
			r.schemas[spec.Name] = schema
		}
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("tools: at least one tool is required")
	}
	return r, nil
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []*Spec {
	out := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name Ident) (*Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Execute validates the payload against the tool's schema and runs its
// handler. Unknown tools, invalid payloads and handler errors all produce an
// error-shaped Result rather than a Go error.
func (r *Registry) Execute(ctx context.Context, name Ident, toolUseID string, payload any) Result {
	res := Result{Name: name, ToolUseID: toolUseID}
	spec, ok := r.specs[name]
	if !ok {
		res.Content = fmt.Sprintf("Error: tool %q is not available.", name)
		res.IsError = true
		return res
	}
	raw, err := normalizePayload(payload)
	if err != nil {
		res.Content = fmt.Sprintf("Error: invalid arguments for tool %q: %v", name, err)
		res.IsError = true
		return res
	}
	if schema, ok := r.schemas[name]; ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			res.Content = fmt.Sprintf("Error: invalid arguments for tool %q: %v", name, err)
			res.IsError = true
			return res
		}
		if err := schema.Validate(decoded); err != nil {
			res.Content = fmt.Sprintf("Error: invalid arguments for tool %q: %v", name, err)
			res.IsError = true
			return res
		}
	}
	content, err := spec.Handler(ctx, raw)
	if err != nil {
		res.Content = fmt.Sprintf("Error: tool %q failed: %v", name, err)
		res.IsError = true
		return res
	}
	res.Content = content
	return res
}

// normalizePayload converts the decoded payload produced by provider
// adapters into raw JSON for the handler. A nil payload becomes an empty
// object so tools with only optional arguments still dispatch.
func normalizePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}

func compileSchema(name Ident, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tools: tool %q schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("%s.schema.json", name)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tools: tool %q schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tools: tool %q schema: %w", name, err)
	}
	return schema, nil
}
