// Package openai provides a model.ChatClient adapter for the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentflow/agentflow-go/workflow"
	"github.com/agentflow/agentflow-go/workflow/model"
)

// defaultModel is used when no model id is configured or requested.
const defaultModel = "gpt-4o"

// ChatClient implements model.ChatClient for OpenAI chat completions.
//
// The adapter maps temperature, top_p, max tokens, penalties, and tools onto
// the completions API; stop sequences and response-format requests are
// currently ignored.
//
//	client := openai.NewChatClient(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//	resp, err := client.GetResponse(ctx, messages, nil)
type ChatClient struct {
	modelName string
	api       apiClient
}

// apiClient is the seam between option mapping and the SDK, mockable in
// tests.
type apiClient interface {
	createChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error)
}

// NewChatClient creates an OpenAI-backed chat client. An empty modelName
// uses the package default.
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
	resp, err := c.api.createChatCompletion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
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

func (c *ChatClient) buildParams(messages []workflow.ChatMessage, opts *model.ChatOptions) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	}
	if opts == nil {
		return params
	}

	if opts.ModelID != "" {
		params.Model = openaisdk.ChatModel(opts.ModelID)
	}
	if opts.Temperature != nil {
		params.Temperature = openaisdk.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = openaisdk.Float(*opts.TopP)
	}
	if opts.MaxTokens != nil {
		params.MaxCompletionTokens = openaisdk.Int(int64(*opts.MaxTokens))
	}
	if opts.FrequencyPenalty != nil {
		params.FrequencyPenalty = openaisdk.Float(*opts.FrequencyPenalty)
	}
	if opts.PresencePenalty != nil {
		params.PresencePenalty = openaisdk.Float(*opts.PresencePenalty)
	}
	if len(opts.Tools) > 0 {
		params.Tools = convertTools(opts.Tools)
	}
	return params
}

func convertMessages(messages []workflow.ChatMessage) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case workflow.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Text())
		case workflow.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Text())
		default:
			result[i] = openaisdk.UserMessage(msg.Text())
		}
	}
	return result
}

func convertTools(tools []model.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion, modelID string) *model.ChatResponse {
	var contents []workflow.Content
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if msg.Content != "" {
			contents = append(contents, workflow.TextContent{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			contents = append(contents, workflow.FunctionCallContent{
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: parseArguments(tc.Function.Arguments),
			})
		}
	}
	return &model.ChatResponse{
		Messages:   []workflow.ChatMessage{{Role: workflow.RoleAssistant, Contents: contents}},
		ResponseID: resp.ID,
		ModelID:    modelID,
	}
}

func parseArguments(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	out := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"_raw": raw}
	}
	return out
}

// defaultClient wraps the official OpenAI SDK.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error) {
	if c.apiKey == "" {
		return nil, errors.New("openai API key is required")
	}
	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))
	return client.Chat.Completions.New(ctx, params)
}
