package adapters

import (
	"encoding/json"
	"strings"

	"github.com/af-corp/relay-gateway/internal/types"
)

// nativeStreamEvent covers every event type of the native streaming protocol.
// Fields irrelevant to a given type are left zero.
type nativeStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		ID    string      `json:"id"`
		Usage types.Usage `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Metrics *struct {
		InputTokenCount  int `json:"inputTokenCount"`
		OutputTokenCount int `json:"outputTokenCount"`
	} `json:"amazon-bedrock-invocationMetrics"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type foldedBlock struct {
	kind  string
	id    string
	name  string
	text  strings.Builder
	input strings.Builder
}

func (b *foldedBlock) block() types.ContentBlock {
	if b.kind == types.BlockToolUse {
		input := any(map[string]any{})
		if b.input.Len() > 0 {
			input = parseToolArguments(b.input.String())
		}
		return types.ToolUseBlock(b.id, b.name, input)
	}
	return types.TextBlock(b.text.String())
}

// foldNativeStream reassembles an ordered native event sequence into the body
// a non-streaming call would have returned. Unparseable events are skipped.
func foldNativeStream(events [][]byte) nativeResponseBody {
	var (
		out     nativeResponseBody
		order   []*foldedBlock
		byIndex = make(map[int]*foldedBlock)
	)
	blockAt := func(index int, kind string) *foldedBlock {
		if b, ok := byIndex[index]; ok {
			return b
		}
		if kind == "" {
			kind = types.BlockText
		}
		b := &foldedBlock{kind: kind}
		byIndex[index] = b
		order = append(order, b)
		return b
	}

	for _, raw := range events {
		var ev nativeStreamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			out.ID = ev.Message.ID
			out.Usage = ev.Message.Usage
		case "content_block_start":
			b := blockAt(ev.Index, ev.ContentBlock.Type)
			b.id = ev.ContentBlock.ID
			b.name = ev.ContentBlock.Name
			b.text.WriteString(ev.ContentBlock.Text)
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				blockAt(ev.Index, types.BlockText).text.WriteString(ev.Delta.Text)
			case "input_json_delta":
				blockAt(ev.Index, types.BlockToolUse).input.WriteString(ev.Delta.PartialJSON)
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				out.StopReason = ev.Delta.StopReason
			}
			if ev.Usage.OutputTokens > 0 {
				out.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			if m := ev.Metrics; m != nil {
				out.Usage = types.Usage{InputTokens: m.InputTokenCount, OutputTokens: m.OutputTokenCount}
			}
		}
	}

	for _, b := range order {
		out.Content = append(out.Content, b.block())
	}
	return out
}

// firstStreamError returns the first error event in a native event sequence.
func firstStreamError(events [][]byte) error {
	for _, raw := range events {
		var ev nativeStreamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.Type == "error" {
			return &streamError{Type: ev.Error.Type, Message: ev.Error.Message}
		}
	}
	return nil
}
