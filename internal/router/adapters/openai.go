package adapters

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

// OpenAIBackend speaks the chat-completions protocol. One instance is built per
// named provider (openrouter, cerebras, groq, ...); they differ only in label,
// endpoint and credential.
type OpenAIBackend struct {
	label   string
	baseURL string
	apiKey  string
	headers map[string]string
	clients *clientPool[*http.Client]
}

func NewOpenAIBackend(label string, cfg config.ProviderConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api_key is required", label)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base_url is required", label)
	}
	return &OpenAIBackend{
		label:   label,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		clients: newClientPool(func(context.Context, poolKey) (*http.Client, error) {
			return newHTTPClient(cfg), nil
		}),
	}, nil
}

func (b *OpenAIBackend) CheckVariant(v config.Variant) error {
	if v.Model == "" {
		return errVariantModel
	}
	return nil
}

func (b *OpenAIBackend) TranslateRequest(req *types.UnifiedRequest, v config.Variant) ([]byte, error) {
	body := chatRequestBody{
		Model:     v.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if req.Stream {
		body.StreamOptions = &chatStreamOptions{IncludeUsage: true}
	}
	if !omitsTemperature(v.Model) {
		body.Temperature = req.Temperature
	}

	if len(req.System) > 0 {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System.Joined()})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content.JoinedText()})
	}

	for _, tool := range req.Tools {
		if tool.Name == "" {
			continue
		}
		body.Tools = append(body.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  repairSchema(tool.InputSchema),
			},
		})
	}
	if len(body.Tools) > 0 && len(req.ToolChoice) > 0 {
		body.ToolChoice = mapToolChoice(req.ToolChoice)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return data, nil
}

func (b *OpenAIBackend) Execute(ctx context.Context, payload []byte, v config.Variant, stream bool) (*RawResult, error) {
	base := cmp.Or(v.Endpoint, b.baseURL)
	client, err := b.clients.get(ctx, poolKey{provider: b.label, endpoint: base})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(base, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	for k, val := range b.headers {
		if val != "" {
			httpReq.Header.Set(k, val)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", b.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(b.label, resp)
	}

	if stream && isEventStream(resp) {
		events, err := readSSE(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.label, err)
		}
		if err := firstChatStreamError(b.label, events); err != nil {
			return nil, err
		}
		return &RawResult{Events: events}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", b.label, err)
	}
	return &RawResult{Body: body}, nil
}

func (b *OpenAIBackend) TranslateResponse(raw *RawResult, req *types.UnifiedRequest, _ config.Variant) *types.UnifiedResponse {
	var body chatResponseBody
	if raw.Streamed() {
		body = foldChatStream(raw.Events)
	} else if err := json.Unmarshal(raw.Body, &body); err != nil {
		return types.ProcessingErrorResponse(req.Model, fmt.Errorf("decode %s response: %w", b.label, err))
	}
	if len(body.Choices) == 0 {
		return types.ProcessingErrorResponse(req.Model, fmt.Errorf("%s response has no choices", b.label))
	}

	choice := body.Choices[0]
	var blocks []types.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, types.TextBlock(choice.Message.Content))
	}
	for _, call := range choice.Message.ToolCalls {
		blocks = append(blocks, types.ToolUseBlock(call.ID, call.Function.Name, parseToolArguments(call.Function.Arguments)))
	}

	usage := types.Usage{
		InputTokens:  body.Usage.PromptTokens,
		OutputTokens: body.Usage.CompletionTokens,
	}
	return types.NewResponse(body.ID, req.Model, blocks, mapFinishReason(choice.FinishReason), usage)
}

func (b *OpenAIBackend) Classify(err error) types.FailureClass {
	return classifyHTTPError(err)
}

// omitsTemperature reports whether the model family rejects a temperature
// parameter. Only the final path segment of the id is considered.
func omitsTemperature(model string) bool {
	id := strings.ToLower(model[strings.LastIndex(model, "/")+1:])
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// repairSchema returns a copy of an input schema with a default object type
// and a string item schema injected into every array that lacks one. The
// caller's schema is never modified.
func repairSchema(schema map[string]any) map[string]any {
	out := repairNode(schema)
	if out == nil {
		out = map[string]any{"properties": map[string]any{}}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func repairNode(node map[string]any) map[string]any {
	if node == nil {
		return nil
	}
	out := make(map[string]any, len(node)+1)
	for k, v := range node {
		out[k] = v
	}

	if isArrayType(out["type"]) {
		if _, ok := out["items"]; !ok {
			out["items"] = map[string]any{"type": "string"}
		}
	}

	for _, key := range []string{"items", "additionalProperties"} {
		if child, ok := out[key].(map[string]any); ok {
			out[key] = repairNode(child)
		}
	}
	for _, key := range []string{"properties", "$defs", "definitions"} {
		if props, ok := out[key].(map[string]any); ok {
			repaired := make(map[string]any, len(props))
			for name, p := range props {
				if child, ok := p.(map[string]any); ok {
					repaired[name] = repairNode(child)
				} else {
					repaired[name] = p
				}
			}
			out[key] = repaired
		}
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if list, ok := out[key].([]any); ok {
			repaired := make([]any, len(list))
			for i, item := range list {
				if child, ok := item.(map[string]any); ok {
					repaired[i] = repairNode(child)
				} else {
					repaired[i] = item
				}
			}
			out[key] = repaired
		}
	}
	return out
}

func isArrayType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "array"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "array" {
				return true
			}
		}
	}
	return false
}

// mapToolChoice converts a native tool_choice directive to the chat form.
// Anything unrecognized, including non-object values, becomes "auto".
func mapToolChoice(raw json.RawMessage) any {
	var choice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil {
		return "auto"
	}
	switch choice.Type {
	case "any":
		return "required"
	case "tool":
		if choice.Name != "" {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": choice.Name},
			}
		}
	}
	return "auto"
}

// parseToolArguments decodes a tool-call argument string. Text that is not
// valid JSON is wrapped as {"raw": text}; it never fails.
func parseToolArguments(args string) any {
	var parsed any
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return map[string]any{"raw": args}
	}
	return parsed
}

func mapFinishReason(reason string) string {
	switch reason {
	case "", "stop":
		return types.StopEndTurn
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return reason
	}
}

type chatRequestBody struct {
	Model         string             `json:"model"`
	Messages      []chatMessage      `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *chatStreamOptions `json:"stream_options,omitempty"`
	Tools         []chatTool         `json:"tools,omitempty"`
	ToolChoice    any                `json:"tool_choice,omitempty"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponseBody struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      chatReply `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type chatReply struct {
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
