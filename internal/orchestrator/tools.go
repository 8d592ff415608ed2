// Package orchestrator runs the tool-augmented reply generation loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/conversation-orchestrator/internal/catalog"
	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
)

// Tool identifiers bound to every generation request.
const (
	ToolBrowseCatalog     = "browse_catalog"
	ToolProductDetails    = "get_product_details"
	ToolCompanyInfo       = "get_company_info"
	ToolSearchProducts    = "search_products"
	ToolTransferToHuman   = "transfer_to_human"
	searchDefaultTopK     = 5
	toolResultMaxProducts = 10
)

// HandoffFunc signals that the conversation should move to a human agent.
type HandoffFunc func(ctx context.Context) error

// ToolContext is the request-scoped state threaded through tool execution.
// A fresh value is built per invocation and passed as a parameter; it is
// never stored on the engine, so concurrent requests cannot observe each
// other's tenant.
type ToolContext struct {
	TenantID       string
	TenantSchema   string
	ConversationID string
	ParticipantID  string
	Catalog        catalog.Service
	Handoff        HandoffFunc
}

// toolHandler executes one tool. Handlers never return an error: failures
// are folded into the result payload so the second model invocation can
// explain them to the user.
type toolHandler func(ctx context.Context, tc ToolContext, args json.RawMessage) map[string]any

// Registry is the fixed set of tools available to the model.
type Registry struct {
	handlers map[string]toolHandler
	defs     []llm.ToolDef
}

// NewRegistry builds the standard tool registry.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]toolHandler{}}
	r.register(llm.ToolDef{
		Name:        ToolBrowseCatalog,
		Description: "List the business's featured products.",
		Parameters:  objectSchema(nil, nil),
	}, handleBrowseCatalog)
	r.register(llm.ToolDef{
		Name:        ToolProductDetails,
		Description: "Get full details for one product by its id.",
		Parameters: objectSchema(map[string]any{
			"product_id": map[string]any{"type": "string", "description": "Catalog product id"},
		}, []string{"product_id"}),
	}, handleProductDetails)
	r.register(llm.ToolDef{
		Name:        ToolCompanyInfo,
		Description: "Get the business's profile: hours, address, website.",
		Parameters:  objectSchema(nil, nil),
	}, handleCompanyInfo)
	r.register(llm.ToolDef{
		Name:        ToolSearchProducts,
		Description: "Search the catalog semantically for products matching a query.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "What the customer is looking for"},
			"top_k": map[string]any{"type": "integer", "description": "How many results to return"},
		}, []string{"query"}),
	}, handleSearchProducts)
	r.register(llm.ToolDef{
		Name:        ToolTransferToHuman,
		Description: "Hand the conversation over to a human agent when the customer asks for one or the request is out of scope.",
		Parameters: objectSchema(map[string]any{
			"reason": map[string]any{"type": "string", "description": "Why the handoff is needed"},
		}, nil),
	}, handleTransferToHuman)
	return r
}

func (r *Registry) register(def llm.ToolDef, h toolHandler) {
	r.handlers[def.Name] = h
	r.defs = append(r.defs, def)
}

// Definitions returns the tool definitions bound to generation requests.
func (r *Registry) Definitions() []llm.ToolDef {
	return r.defs
}

// Execute dispatches one tool call by name. An unrecognized name yields an
// error payload, not a failure: the loop proceeds to the second model
// invocation either way.
func (r *Registry) Execute(ctx context.Context, tc ToolContext, call llm.ToolCall) map[string]any {
	handler, ok := r.handlers[call.Name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Unknown tool: %s", call.Name)}
	}
	return handler(ctx, tc, call.Arguments)
}

func handleBrowseCatalog(ctx context.Context, tc ToolContext, _ json.RawMessage) map[string]any {
	if tc.Catalog == nil {
		return map[string]any{"error": "catalog service not configured"}
	}
	products, err := tc.Catalog.GetFeatured(ctx, tc.TenantID)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"products": capProducts(products)}
}

func handleProductDetails(ctx context.Context, tc ToolContext, args json.RawMessage) map[string]any {
	if tc.Catalog == nil {
		return map[string]any{"error": "catalog service not configured"}
	}
	var in struct {
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.ProductID == "" {
		return map[string]any{"error": "product_id is required"}
	}
	product, err := tc.Catalog.GetDetail(ctx, tc.TenantID, in.ProductID)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"product": product}
}

func handleCompanyInfo(ctx context.Context, tc ToolContext, _ json.RawMessage) map[string]any {
	if tc.Catalog == nil {
		return map[string]any{"error": "catalog service not configured"}
	}
	info, err := tc.Catalog.GetCompanyInfo(ctx, tc.TenantID)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"company": info}
}

func handleSearchProducts(ctx context.Context, tc ToolContext, args json.RawMessage) map[string]any {
	if tc.Catalog == nil {
		return map[string]any{"error": "catalog service not configured"}
	}
	var in struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Query == "" {
		return map[string]any{"error": "query is required"}
	}
	if in.TopK <= 0 {
		in.TopK = searchDefaultTopK
	}
	products, err := tc.Catalog.SemanticSearch(ctx, tc.TenantID, in.Query, in.TopK)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"products": capProducts(products), "query": in.Query}
}

func handleTransferToHuman(ctx context.Context, tc ToolContext, args json.RawMessage) map[string]any {
	var in struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(args, &in)

	if tc.Handoff == nil {
		return map[string]any{"error": "handoff not available"}
	}
	if err := tc.Handoff(ctx); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"transferred": true, "reason": in.Reason}
}

func capProducts(products []catalog.Product) []catalog.Product {
	if len(products) > toolResultMaxProducts {
		return products[:toolResultMaxProducts]
	}
	return products
}

func objectSchema(properties map[string]any, required []string) json.RawMessage {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}
