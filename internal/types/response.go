package types

import "encoding/json"

const (
	BlockText    = "text"
	BlockToolUse = "tool_use"

	StopEndTurn = "end_turn"
	StopError   = "error"
)

// UnifiedResponse is the canonical response returned to callers, plus routing
// metadata describing which provider and variant served it.
type UnifiedResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`

	Provider     string `json:"final_provider,omitempty"`
	RouteKey     string `json:"final_model,omitempty"`
	ServedModel  string `json:"actual_model,omitempty"`
	ServedRegion string `json:"actual_region,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// NewResponse builds an assistant message response with the given content. An
// empty content list is replaced by a single empty text block, and an empty
// stop reason defaults to end_turn.
func NewResponse(id, model string, content []ContentBlock, stopReason string, usage Usage) *UnifiedResponse {
	if len(content) == 0 {
		content = []ContentBlock{TextBlock("")}
	}
	if stopReason == "" {
		stopReason = StopEndTurn
	}
	return &UnifiedResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: stopReason,
		Usage:      usage,
	}
}

// ProcessingErrorResponse is returned when a backend payload cannot be
// translated. It is a successful response carrying an error text block.
func ProcessingErrorResponse(model string, err error) *UnifiedResponse {
	return NewResponse("error_response", model,
		[]ContentBlock{TextBlock("Response processing error: " + err.Error())},
		StopError, Usage{})
}

// ContentBlock is either a text block or a tool-use block.
type ContentBlock struct {
	Type  string
	Text  string
	ID    string
	Name  string
	Input any
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if b.Type == BlockToolUse {
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string `json:"type"`
			ID    string `json:"id"`
			Name  string `json:"name"`
			Input any    `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{b.Type, b.Text})
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = ContentBlock{Type: raw.Type, Text: raw.Text, ID: raw.ID, Name: raw.Name}
	if len(raw.Input) > 0 {
		var input any
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		b.Input = input
	}
	return nil
}
