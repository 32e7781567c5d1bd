// Package agent routes customer turns to the AI provider and executes the
// tool calls it requests against tenant-scoped state.
package agent

import "context"

// Provider is the interface an AI completion backend must implement.
type Provider interface {
	// Chat sends the conversation and returns text and/or tool calls.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// AnalyzeImage matches a customer photo against the catalog.
	AnalyzeImage(ctx context.Context, req ImageRequest) (*ImageAnalysis, error)
}

// Role of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolDefinition
	MaxOutputTokens int
	Temperature     float32
}

// Message is one conversation message.
// Tool results use RoleTool with ToolCallID/ToolName set and Result holding the payload.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	Result     map[string]any
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ChatResponse is the result of a Chat call.
type ChatResponse struct {
	Content     string
	ToolCalls   []ToolCall
	TotalTokens int
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Schema is a provider-neutral JSON schema subset.
type Schema struct {
	Type        string // "object", "string", "integer", "number", "boolean", "array"
	Description string
	Properties  map[string]*Schema
	Required    []string
	Enum        []string
	Items       *Schema
}

// CatalogEntry is the product information the vision model sees.
type CatalogEntry struct {
	ID          int64
	Name        string
	Description string
	Category    string
}

// ImageRequest asks the vision model to recognise a product photo.
type ImageRequest struct {
	Model    string
	Image    []byte
	MimeType string
	Caption  string
	Catalog  []CatalogEntry
}

// ImageAnalysis lists matched catalog ids, best match first, and a
// free-text description of what the photo shows.
type ImageAnalysis struct {
	MatchedProductIDs []int64
	Description       string
}
