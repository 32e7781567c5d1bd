package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"storefront-chat/internal/core/agent"
)

// ErrNoCandidates is returned when the model produced no usable output
var ErrNoCandidates = errors.New("gemini returned no candidates")

// GeminiClient implements agent.Provider on top of the Gemini API
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini provider
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Chat sends the conversation with tool declarations
func (g *GeminiClient) Chat(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, toGenaiContents(req.Messages), cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	out := &agent.ChatResponse{Content: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: fc.Args})
	}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// AnalyzeImage asks the vision model which catalog products the photo shows
func (g *GeminiClient) AnalyzeImage(ctx context.Context, req agent.ImageRequest) (*agent.ImageAnalysis, error) {
	var prompt strings.Builder
	prompt.WriteString("A customer sent this photo to an online shop. Describe briefly (in Mongolian) what product it shows.\n")
	if len(req.Catalog) > 0 {
		prompt.WriteString("Return the ids of catalog products that match the photo, best match first. Return an empty list when nothing matches.\nCatalog:\n")
		for _, c := range req.Catalog {
			fmt.Fprintf(&prompt, "- [%d] %s", c.ID, c.Name)
			if c.Category != "" {
				fmt.Fprintf(&prompt, " (%s)", c.Category)
			}
			if c.Description != "" {
				fmt.Fprintf(&prompt, ": %s", c.Description)
			}
			prompt.WriteString("\n")
		}
	}
	if req.Caption != "" {
		fmt.Fprintf(&prompt, "Customer message: %s\n", req.Caption)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, mimeType),
			genai.NewPartFromText(prompt.String()),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"matched_product_ids": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}},
				"description":         {Type: genai.TypeString},
			},
			Required: []string{"matched_product_ids", "description"},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI vision failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	var parsed struct {
		MatchedProductIDs []int64 `json:"matched_product_ids"`
		Description       string  `json:"description"`
	}
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse vision response: %w", err)
	}
	return &agent.ImageAnalysis{MatchedProductIDs: parsed.MatchedProductIDs, Description: parsed.Description}, nil
}

// toGenaiContents maps provider-neutral messages to Gemini contents.
// Consecutive tool results are grouped into one user turn.
func toGenaiContents(msgs []agent.Message) []*genai.Content {
	var contents []*genai.Content
	var pendingResults []*genai.Part

	flush := func() {
		if len(pendingResults) > 0 {
			contents = append(contents, genai.NewContentFromParts(pendingResults, genai.RoleUser))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case agent.RoleTool:
			part := genai.NewPartFromFunctionResponse(m.ToolName, m.Result)
			part.FunctionResponse.ID = m.ToolCallID
			pendingResults = append(pendingResults, part)
		case agent.RoleAssistant:
			flush()
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				part := genai.NewPartFromFunctionCall(tc.Name, tc.Arguments)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		default:
			flush()
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	flush()
	return contents
}

func toGenaiSchema(s *agent.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	}
	return genai.TypeString
}
