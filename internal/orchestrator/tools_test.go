package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/catalog"
)

func TestRegistryDefinitionsCoverAllTools(t *testing.T) {
	r := NewRegistry()
	names := map[string]bool{}
	for _, def := range r.Definitions() {
		names[def.Name] = true
		require.NotEmpty(t, def.Description)
		require.NotEmpty(t, def.Parameters)
	}
	for _, want := range []string{ToolBrowseCatalog, ToolProductDetails, ToolCompanyInfo, ToolSearchProducts, ToolTransferToHuman} {
		require.True(t, names[want], "missing tool %s", want)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), ToolContext{}, toolCall("c1", "made_up", `{}`))
	require.Equal(t, "Unknown tool: made_up", result["error"])
}

func TestExecuteFoldsErrorsIntoPayload(t *testing.T) {
	r := NewRegistry()
	tc := ToolContext{Catalog: &fakeCatalog{err: errors.New("catalog down")}}

	for _, name := range []string{ToolBrowseCatalog, ToolCompanyInfo} {
		result := r.Execute(context.Background(), tc, toolCall("c", name, `{}`))
		require.Equal(t, "catalog down", result["error"], "tool %s", name)
	}
}

func TestExecuteWithoutCatalog(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), ToolContext{}, toolCall("c", ToolBrowseCatalog, `{}`))
	require.Contains(t, result["error"], "not configured")
}

func TestProductDetailsRequiresID(t *testing.T) {
	r := NewRegistry()
	tc := ToolContext{Catalog: &fakeCatalog{}}

	result := r.Execute(context.Background(), tc, toolCall("c", ToolProductDetails, `{}`))
	require.Equal(t, "product_id is required", result["error"])

	result = r.Execute(context.Background(), tc, toolCall("c", ToolProductDetails, `{"product_id":"p1"}`))
	require.NotContains(t, result, "error")
	require.NotNil(t, result["product"])
}

func TestSearchProductsRequiresQuery(t *testing.T) {
	r := NewRegistry()
	tc := ToolContext{Catalog: &fakeCatalog{}}

	result := r.Execute(context.Background(), tc, toolCall("c", ToolSearchProducts, `not json`))
	require.Equal(t, "query is required", result["error"])

	result = r.Execute(context.Background(), tc, toolCall("c", ToolSearchProducts, `{"query":"widgets"}`))
	require.Equal(t, "widgets", result["query"])
}

func TestSearchProductsCapsResults(t *testing.T) {
	products := make([]catalog.Product, 25)
	for i := range products {
		products[i] = catalog.Product{ID: fmt.Sprintf("p%d", i)}
	}
	r := NewRegistry()
	tc := ToolContext{Catalog: &fakeCatalog{featured: products}}

	result := r.Execute(context.Background(), tc, toolCall("c", ToolSearchProducts, `{"query":"w"}`))
	require.Len(t, result["products"], toolResultMaxProducts)
}

func TestTransferToHumanInvokesHandoff(t *testing.T) {
	r := NewRegistry()

	called := false
	tc := ToolContext{Handoff: func(context.Context) error {
		called = true
		return nil
	}}

	result := r.Execute(context.Background(), tc, toolCall("c", ToolTransferToHuman, `{"reason":"asked for agent"}`))
	require.True(t, called)
	require.Equal(t, true, result["transferred"])
	require.Equal(t, "asked for agent", result["reason"])
}

func TestTransferToHumanHandoffFailure(t *testing.T) {
	r := NewRegistry()
	tc := ToolContext{Handoff: func(context.Context) error {
		return errors.New("conversation missing")
	}}

	result := r.Execute(context.Background(), tc, toolCall("c", ToolTransferToHuman, `{}`))
	require.Equal(t, "conversation missing", result["error"])
}

func TestObjectSchemaShape(t *testing.T) {
	raw := objectSchema(map[string]any{
		"query": map[string]any{"type": "string"},
	}, []string{"query"})

	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	require.Equal(t, "object", schema["type"])
	require.Equal(t, []any{"query"}, schema["required"])
}
