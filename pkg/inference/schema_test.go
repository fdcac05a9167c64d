package inference

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

func TestToGenaiTools(t *testing.T) {
	decls := []Declaration{{
		Name:        "get_current_weather",
		Description: "Weather now.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"location": {Type: "string", Description: "City"},
				"units":    {Types: []string{"null", "string"}, Enum: []any{"metric", "imperial"}},
				"days":     {Type: "integer"},
				"tags":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			},
			Required: []string{"location"},
		},
	}}

	tools := toGenaiTools(decls)
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v", tools)
	}
	fn := tools[0].FunctionDeclarations[0]
	if fn.Name != "get_current_weather" {
		t.Errorf("Name = %q", fn.Name)
	}
	p := fn.Parameters
	if p.Type != genai.TypeObject {
		t.Errorf("Type = %v, want object", p.Type)
	}
	if p.Properties["location"].Type != genai.TypeString || p.Properties["location"].Description != "City" {
		t.Errorf("location = %+v", p.Properties["location"])
	}
	units := p.Properties["units"]
	if units.Type != genai.TypeString || len(units.Enum) != 2 || units.Enum[1] != "imperial" {
		t.Errorf("units = %+v", units)
	}
	if p.Properties["days"].Type != genai.TypeInteger {
		t.Errorf("days type = %v", p.Properties["days"].Type)
	}
	if p.Properties["tags"].Items.Type != genai.TypeString {
		t.Errorf("tags items = %+v", p.Properties["tags"].Items)
	}
	if len(p.Required) != 1 || p.Required[0] != "location" {
		t.Errorf("Required = %v", p.Required)
	}

	if toGenaiTools(nil) != nil {
		t.Error("toGenaiTools(nil) should be nil")
	}
}

func TestFragmentOf(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Sir, "},
				{FunctionCall: &genai.FunctionCall{Name: "get_stock_price", Args: map[string]any{"symbol": "AAPL"}}},
			}},
		}},
	}
	frag, ok := fragmentOf(resp)
	if !ok {
		t.Fatal("fragmentOf returned !ok")
	}
	if frag.Text != "Sir, " {
		t.Errorf("Text = %q, thought parts must be skipped", frag.Text)
	}
	if len(frag.ToolCalls) != 1 || frag.ToolCalls[0].Arguments["symbol"] != "AAPL" {
		t.Errorf("ToolCalls = %+v", frag.ToolCalls)
	}

	if _, ok := fragmentOf(&genai.GenerateContentResponse{}); ok {
		t.Error("empty response reported ok")
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGemini(t.Context()); err == nil {
		t.Error("expected error without API key")
	}
}
