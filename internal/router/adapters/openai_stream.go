package adapters

import (
	"encoding/json"
	"strings"
)

type chatStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type foldedCall struct {
	id   string
	name string
	args strings.Builder
}

// foldChatStream merges chat-completion stream chunks into the body a
// non-streaming call would have returned. Only the first choice is kept;
// tool-call fragments are merged by their index.
func foldChatStream(events [][]byte) chatResponseBody {
	var (
		out     chatResponseBody
		text    strings.Builder
		finish  string
		seen    bool
		calls   []*foldedCall
		byIndex = make(map[int]*foldedCall)
	)

	for _, raw := range events {
		var chunk chatStreamChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			continue
		}
		if out.ID == "" {
			out.ID = chunk.ID
		}
		if out.Model == "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.Usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			seen = true
			text.WriteString(choice.Delta.Content)
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := byIndex[tc.Index]
				if !ok {
					call = &foldedCall{}
					byIndex[tc.Index] = call
					calls = append(calls, call)
				}
				if tc.ID != "" {
					call.id = tc.ID
				}
				if tc.Function.Name != "" {
					call.name = tc.Function.Name
				}
				call.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finish = *choice.FinishReason
			}
		}
	}

	if !seen {
		return out
	}
	reply := chatReply{Content: text.String()}
	for _, c := range calls {
		reply.ToolCalls = append(reply.ToolCalls, chatToolCall{
			ID:       c.id,
			Type:     "function",
			Function: chatFunctionCall{Name: c.name, Arguments: c.args.String()},
		})
	}
	out.Choices = []chatChoice{{Message: reply, FinishReason: finish}}
	return out
}

type chatStreamErrorEvent struct {
	Error *struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// firstChatStreamError returns the first error object in a chat-completion
// event stream. A numeric code is reported as the equivalent HTTP status.
func firstChatStreamError(provider string, events [][]byte) error {
	for _, raw := range events {
		var ev chatStreamErrorEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Error == nil {
			continue
		}
		var status int
		if err := json.Unmarshal(ev.Error.Code, &status); err == nil && status > 0 {
			return &StatusError{Provider: provider, StatusCode: status, Body: ev.Error.Message}
		}
		kind := ev.Error.Type
		if kind == "" {
			var code string
			json.Unmarshal(ev.Error.Code, &code)
			kind = code
		}
		return &streamError{Type: kind, Message: ev.Error.Message}
	}
	return nil
}
