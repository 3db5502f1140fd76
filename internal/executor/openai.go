package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"agent-backend/internal/providers"
)

const (
	toolWriteResume = "write_resume"

	systemPrompt = "You are a resume rewriting assistant. Tailor the candidate's resume " +
		"to the provided job description. When you have a rewritten resume ready, call the " +
		"write_resume tool with the full markdown body. Keep all factual claims from the original."

	maxToolRounds = 8
)

// OpenAIExecutor drives a tool-calling chat loop against an
// OpenAI-compatible endpoint. Retries and model fallback follow the
// provider policy; the runtime core never retries on its own.
type OpenAIExecutor struct {
	client *openai.Client
	policy providers.Policy
	model  string
}

// NewOpenAIExecutor constructs an executor for the given endpoint.
func NewOpenAIExecutor(baseURL, apiKey, model string, policy providers.Policy) *OpenAIExecutor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = policy.DefaultModel
	}
	return &OpenAIExecutor{
		client: openai.NewClientWithConfig(cfg),
		policy: policy,
		model:  model,
	}
}

func writeResumeTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolWriteResume,
			Description: "Replace the candidate's resume with a rewritten markdown version.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "Full rewritten resume in markdown."}
				},
				"required": ["content"]
			}`),
		},
	}
}

// Execute runs the chat loop until the model stops calling tools or the
// run is cancelled.
func (e *OpenAIExecutor) Execute(ctx context.Context, rc RunContext) error {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: e.userPrompt(rc)},
	}

	for round := 0; round < maxToolRounds; round++ {
		if rc.IsCancelled() {
			return ErrInterrupted
		}

		resp, model, err := e.completeWithPolicy(ctx, rc, messages)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("provider returned no choices")
		}
		choice := resp.Choices[0]
		e.recordUsage(rc, model, resp.Usage, messages, choice.Message.Content)

		if choice.Message.Content != "" {
			rc.Delta(choice.Message.Content)
		}
		if len(choice.Message.ToolCalls) == 0 {
			return nil
		}

		messages = append(messages, choice.Message)
		for _, call := range choice.Message.ToolCalls {
			result, err := e.handleToolCall(rc, call)
			if err != nil {
				return err
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

func (e *OpenAIExecutor) userPrompt(rc RunContext) string {
	var sb strings.Builder
	sb.WriteString(rc.Message())
	if resume := rc.ResumeText(); resume != "" {
		sb.WriteString("\n\n--- RESUME ---\n")
		sb.WriteString(resume)
	}
	if jd := rc.JobDescription(); jd != "" {
		sb.WriteString("\n\n--- JOB DESCRIPTION ---\n")
		sb.WriteString(jd)
	}
	return sb.String()
}

// completeWithPolicy applies the provider policy: bounded retries with
// backoff on the primary model, then the fallback model.
func (e *OpenAIExecutor) completeWithPolicy(ctx context.Context, rc RunContext, messages []openai.ChatCompletionMessage) (openai.ChatCompletionResponse, string, error) {
	models := []string{e.model}
	if e.policy.FallbackModel != "" && e.policy.FallbackModel != e.model {
		models = append(models, e.policy.FallbackModel)
	}
	backoff := time.Duration(e.policy.RetryBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}

	var lastErr error
	for _, model := range models {
		for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return openai.ChatCompletionResponse{}, "", ctx.Err()
				case <-rc.Cancelled():
					return openai.ChatCompletionResponse{}, "", ErrInterrupted
				case <-time.After(backoff * time.Duration(1<<(attempt-1))):
				}
			}
			resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:    model,
				Messages: messages,
				Tools:    []openai.Tool{writeResumeTool()},
			})
			if err == nil {
				return resp, model, nil
			}
			lastErr = err
		}
	}
	return openai.ChatCompletionResponse{}, "", fmt.Errorf("chat completion: %w", lastErr)
}

func (e *OpenAIExecutor) recordUsage(rc RunContext, model string, usage openai.Usage, messages []openai.ChatCompletionMessage, output string) {
	in := int64(usage.PromptTokens)
	out := int64(usage.CompletionTokens)
	if in == 0 && out == 0 {
		var prompt strings.Builder
		for _, m := range messages {
			prompt.WriteString(m.Content)
		}
		in = CountTokens(model, prompt.String())
		out = CountTokens(model, output)
	}
	rc.AddUsage(model, in, out)
}

// handleToolCall gates and executes one tool call. A rejected call feeds a
// refusal back to the model without a tool_result event.
func (e *OpenAIExecutor) handleToolCall(rc RunContext, call openai.ToolCall) (string, error) {
	if call.Function.Name != toolWriteResume {
		return "unknown tool", nil
	}

	var args struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "invalid tool arguments", nil
	}

	target := rc.ResumePath()
	if target == "" {
		return "no resume uploaded; nothing to write", nil
	}

	approved, err := rc.ProposeTool(toolWriteResume, map[string]any{"path": target})
	if err != nil {
		return "", err
	}
	if !approved {
		return "the user rejected this write", nil
	}

	if err := rc.WriteWorkspaceFile(target, []byte(args.Content)); err != nil {
		return "", err
	}
	rc.ToolResult(toolWriteResume, map[string]any{
		"path":  target,
		"bytes": len(args.Content),
	})
	return "resume written to " + target, nil
}
