package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RequestInfoFunctionName is the synthesized function-call name under which a
// workflow-as-agent surfaces pending requests to its caller. The caller
// answers by sending a function-result content with the matching call id.
const RequestInfoFunctionName = "request_info"

// WorkflowAgent adapts a Workflow to the Agent interface for compositional
// use: a workflow can participate wherever an agent is expected.
//
// Run feeds the conversation into the workflow, collects until terminal, and
// returns the aggregated assistant output. Pending requests surface as
// request-info function calls on the response; a follow-up Run whose
// messages carry matching function results resumes the workflow with those
// responses.
type WorkflowAgent struct {
	workflow *Workflow
	name     string
}

// AsAgent wraps the workflow as an agent. An empty name defaults to the
// workflow name.
func (w *Workflow) AsAgent(name string) *WorkflowAgent {
	if name == "" {
		name = w.name
	}
	return &WorkflowAgent{workflow: w, name: name}
}

// Name implements Agent.
func (a *WorkflowAgent) Name() string { return a.name }

// NewSession implements Agent.
func (a *WorkflowAgent) NewSession() *AgentSession { return NewAgentSession() }

// Run implements Agent.
func (a *WorkflowAgent) Run(ctx context.Context, messages []ChatMessage, session *AgentSession) (*AgentRunResponse, error) {
	return a.RunStream(ctx, messages, session, nil)
}

// RunStream implements Agent. Workflow outputs stream as updates as the run
// progresses.
func (a *WorkflowAgent) RunStream(ctx context.Context, messages []ChatMessage, session *AgentSession, onUpdate func(*AgentRunUpdate) error) (*AgentRunResponse, error) {
	if session != nil {
		messages = append(append([]ChatMessage(nil), session.Messages...), messages...)
	}

	responses := pendingResponsesFromMessages(messages)

	var result *RunResult
	var err error
	if len(responses) > 0 {
		result, err = a.workflow.SendResponses(ctx, responses)
	} else {
		result, err = a.workflow.Run(ctx, a.workflowInput(messages))
	}
	if err != nil {
		return nil, err
	}

	responseID := uuid.NewString()
	reply := a.synthesizeReply(result, responseID)
	if onUpdate != nil {
		for _, msg := range reply.Messages {
			update := &AgentRunUpdate{Contents: msg.Contents, ResponseID: responseID, AuthorName: a.name}
			if err := onUpdate(update); err != nil {
				return nil, err
			}
		}
	}
	if session != nil {
		session.Append(messages...)
		session.Append(reply.Messages...)
	}
	return reply, nil
}

// synthesizeReply folds the run's outputs into one assistant message and
// surfaces pending requests as request-info function calls.
func (a *WorkflowAgent) synthesizeReply(result *RunResult, responseID string) *AgentRunResponse {
	var contents []Content
	for _, out := range result.Outputs() {
		switch v := out.(type) {
		case string:
			contents = append(contents, TextContent{Text: v})
		case ChatMessage:
			contents = append(contents, v.Contents...)
		case []ChatMessage:
			for _, m := range v {
				contents = append(contents, m.Contents...)
			}
		case *AgentExecutorResponse:
			for _, m := range v.FullConversation {
				if m.Role == RoleAssistant {
					contents = append(contents, m.Contents...)
				}
			}
		default:
			contents = append(contents, TextContent{Text: stringify(v)})
		}
	}
	for _, req := range result.PendingRequests {
		contents = append(contents, FunctionCallContent{
			CallID: req.RequestID,
			Name:   RequestInfoFunctionName,
			Arguments: map[string]any{
				"request_id":        req.RequestID,
				"source_executor":   req.SourceExecutorID,
				"request_payload":   req.Data,
				"response_type":     req.ResponseType.String(),
				"request_type_name": req.RequestType.String(),
			},
		})
	}

	return &AgentRunResponse{
		ResponseID: responseID,
		Messages: []ChatMessage{{
			Role:       RoleAssistant,
			AuthorName: a.name,
			Contents:   contents,
		}},
	}
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}

// workflowInput shapes the conversation to what the start executor accepts:
// the message list when it takes one, otherwise the concatenated text for
// string-input workflows.
func (a *WorkflowAgent) workflowInput(messages []ChatMessage) any {
	start := a.workflow.executors[a.workflow.startID]
	listType := TypeOf[[]ChatMessage]()
	stringType := TypeOf[string]()

	acceptsString := false
	for _, t := range start.InputTypes() {
		if t == listType {
			return messages
		}
		if t == stringType {
			acceptsString = true
		}
	}
	if acceptsString {
		var b strings.Builder
		for _, m := range messages {
			b.WriteString(m.Text())
		}
		return b.String()
	}
	return messages
}

// pendingResponsesFromMessages extracts request-info answers: any
// function-result content whose call id matches an outstanding request.
func pendingResponsesFromMessages(messages []ChatMessage) map[string]any {
	responses := make(map[string]any)
	for _, msg := range messages {
		for _, c := range msg.Contents {
			if fr, ok := c.(FunctionResultContent); ok && fr.CallID != "" {
				responses[fr.CallID] = fr.Result
			}
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return responses
}
