// Package anthropic provides a model.ChatClient adapter for Anthropic's
// Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/agentflow/agentflow-go/workflow"
	"github.com/agentflow/agentflow-go/workflow/model"
)

// defaultModel is used when no model id is configured or requested.
const defaultModel = "claude-sonnet-4-5-20250929"

// ChatClient implements model.ChatClient for Anthropic's Claude API.
//
// Anthropic expects the system prompt as a separate parameter, so system
// messages are extracted from the conversation before the call. Options the
// API does not expose (frequency/presence penalty, response format) are
// ignored.
//
//	client := anthropic.NewChatClient(os.Getenv("ANTHROPIC_API_KEY"), "")
//	resp, err := client.GetResponse(ctx, messages, nil)
type ChatClient struct {
	modelName string
	api       apiClient
}

// apiClient is the seam between option mapping and the SDK, mockable in
// tests.
type apiClient interface {
	createMessage(ctx context.Context, params anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error)
}

// NewChatClient creates a Claude-backed chat client. An empty modelName uses
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

	params := c.buildParams(messages, opts)
	resp, err := c.api.createMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	return convertResponse(resp, string(params.Model)), nil
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

func (c *ChatClient) buildParams(messages []workflow.ChatMessage, opts *model.ChatOptions) anthropicsdk.MessageNewParams {
	systemPrompt, conversation := extractSystemPrompt(messages)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(conversation),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if opts == nil {
		return params
	}

	if opts.ModelID != "" {
		params.Model = anthropicsdk.Model(opts.ModelID)
	}
	if opts.MaxTokens != nil {
		params.MaxTokens = int64(*opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropicsdk.Float(*opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}
	if len(opts.Tools) > 0 {
		params.Tools = convertTools(opts.Tools)
	}
	return params
}

// extractSystemPrompt separates system messages from the conversation;
// multiple system messages concatenate.
func extractSystemPrompt(messages []workflow.ChatMessage) (string, []workflow.ChatMessage) {
	var systemPrompt string
	var conversation []workflow.ChatMessage
	for _, msg := range messages {
		if msg.Role == workflow.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Text()
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

func convertMessages(messages []workflow.ChatMessage) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case workflow.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Text()))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Text()))
		}
	}
	return result
}

func convertTools(tools []model.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			properties = tool.Schema["properties"]
			switch req := tool.Schema["required"].(type) {
			case []string:
				required = req
			case []any:
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message, modelID string) *model.ChatResponse {
	var contents []workflow.Content
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			contents = append(contents, workflow.TextContent{Text: b.Text})
		case anthropicsdk.ToolUseBlock:
			contents = append(contents, workflow.FunctionCallContent{
				CallID:    b.ID,
				Name:      b.Name,
				Arguments: toolInputMap(b.Input),
			})
		}
	}

	responseID := resp.ID
	if responseID == "" {
		responseID = uuid.NewString()
	}
	return &model.ChatResponse{
		Messages:   []workflow.ChatMessage{{Role: workflow.RoleAssistant, Contents: contents}},
		ResponseID: responseID,
		ModelID:    modelID,
	}
}

func toolInputMap(input any) map[string]any {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	return map[string]any{"_raw": input}
}

// defaultClient wraps the official Anthropic SDK.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) createMessage(ctx context.Context, params anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error) {
	if c.apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))
	return client.Messages.New(ctx, params)
}
