// Package google provides a model.ChatClient adapter for Google's Gemini
// API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/agentflow/agentflow-go/workflow"
	"github.com/agentflow/agentflow-go/workflow/model"
)

// defaultModel is used when no model id is configured or requested.
const defaultModel = "gemini-1.5-pro"

// ChatClient implements model.ChatClient for Gemini.
//
// Gemini takes generation settings on the model handle rather than per
// request; the adapter maps temperature, top_p, max tokens, and stop
// sequences onto the generation config. Penalty options are ignored.
//
//	client := google.NewChatClient(os.Getenv("GOOGLE_API_KEY"), "")
//	resp, err := client.GetResponse(ctx, messages, nil)
type ChatClient struct {
	modelName string
	api       apiClient
}

// apiClient is the seam between option mapping and the SDK, mockable in
// tests.
type apiClient interface {
	generateContent(ctx context.Context, modelName string, cfg genai.GenerationConfig, tools []*genai.Tool, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

// NewChatClient creates a Gemini-backed chat client. An empty modelName uses
// the package default.
func NewChatClient(apiKey, modelName string) *ChatClient {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatClient{
		modelName: modelName,
		api:       &defaultClient{apiKey: apiKey},
	}
}

// GetResponse implements model.ChatClient.
func (c *ChatClient) GetResponse(ctx context.Context, messages []workflow.ChatMessage, opts *model.ChatOptions) (*model.ChatResponse, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	modelName := c.modelName
	var cfg genai.GenerationConfig
	var tools []*genai.Tool
	if opts != nil {
		if opts.ModelID != "" {
			modelName = opts.ModelID
		}
		if opts.Temperature != nil {
			t := float32(*opts.Temperature)
			cfg.Temperature = &t
		}
		if opts.TopP != nil {
			p := float32(*opts.TopP)
			cfg.TopP = &p
		}
		if opts.MaxTokens != nil {
			n := int32(*opts.MaxTokens)
			cfg.MaxOutputTokens = &n
		}
		if len(opts.Stop) > 0 {
			cfg.StopSequences = opts.Stop
		}
		if len(opts.Tools) > 0 {
			tools = convertTools(opts.Tools)
		}
	}

	resp, err := c.api.generateContent(ctx, modelName, cfg, tools, convertMessages(messages))
	if err != nil {
		return nil, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp, modelName), nil
}

// GetStreamingResponse implements model.ChatClient. The adapter calls the
// non-streaming endpoint and delivers one update per reply message, then an
// update carrying only the finish reason.
func (c *ChatClient) GetStreamingResponse(ctx context.Context, messages []workflow.ChatMessage, opts *model.ChatOptions, onUpdate func(*model.ChatResponseUpdate) error) (*model.ChatResponse, error) {
	resp, err := c.GetResponse(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if onUpdate != nil {
		for _, msg := range resp.Messages {
			if err := onUpdate(&model.ChatResponseUpdate{Contents: msg.Contents, ResponseID: resp.ResponseID}); err != nil {
				return nil, err
			}
		}
		if err := onUpdate(&model.ChatResponseUpdate{ResponseID: resp.ResponseID, FinishReason: "stop"}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// convertMessages flattens the conversation into ordered text parts, Gemini's
// single-turn content form.
func convertMessages(messages []workflow.ChatMessage) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		parts = append(parts, genai.Text(text))
	}
	return parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema maps a JSON Schema object onto genai.Schema, one property
// level deep.
func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop := &genai.Schema{Type: genai.TypeString}
			if pm, ok := raw.(map[string]any); ok {
				if typeStr, ok := pm["type"].(string); ok {
					prop.Type = convertTypeString(typeStr)
				}
				if desc, ok := pm["description"].(string); ok {
					prop.Description = desc
				}
			}
			properties[name] = prop
		}
		result.Properties = properties
	}
	switch req := schema["required"].(type) {
	case []string:
		result.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse, modelID string) *model.ChatResponse {
	var contents []workflow.Content
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				contents = append(contents, workflow.TextContent{Text: string(p)})
			case genai.FunctionCall:
				contents = append(contents, workflow.FunctionCallContent{
					CallID:    uuid.NewString(),
					Name:      p.Name,
					Arguments: p.Args,
				})
			}
		}
	}
	return &model.ChatResponse{
		Messages:   []workflow.ChatMessage{{Role: workflow.RoleAssistant, Contents: contents}},
		ResponseID: uuid.NewString(),
		ModelID:    modelID,
	}
}

// defaultClient wraps the official Gemini SDK.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, modelName string, cfg genai.GenerationConfig, tools []*genai.Tool, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("create google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(modelName)
	genModel.GenerationConfig = cfg
	if len(tools) > 0 {
		genModel.Tools = tools
	}
	return genModel.GenerateContent(ctx, parts...)
}
