package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UnifiedRequest is the canonical inbound request in the Messages wire format.
// It is treated as immutable once decoded.
type UnifiedRequest struct {
	Model       string          `json:"model" validate:"required"`
	Messages    []Message       `json:"messages" validate:"required,min=1,dive"`
	MaxTokens   int             `json:"max_tokens" validate:"required,gt=0"`
	Temperature *float64        `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	System      SystemPrompt    `json:"system,omitempty" validate:"omitempty,dive"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

type Message struct {
	Role    string  `json:"role" validate:"required,oneof=user assistant"`
	Content Content `json:"content"`
}

// Tool is a tool definition with a JSON-schema-shaped input.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolNames returns the names of all declared tools in order.
func (r *UnifiedRequest) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.Name)
	}
	return names
}

// SystemSegment is one entry of the system prompt list.
type SystemSegment struct {
	Type         string          `json:"type" validate:"omitempty,eq=text"`
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

// SystemPrompt accepts either a bare string or a list of text segments.
type SystemPrompt []SystemSegment

func (p *SystemPrompt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = nil
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode system prompt: %w", err)
		}
		*p = SystemPrompt{{Type: "text", Text: s}}
		return nil
	}
	var segments []SystemSegment
	if err := json.Unmarshal(trimmed, &segments); err != nil {
		return fmt.Errorf("decode system prompt: %w", err)
	}
	*p = segments
	return nil
}

// Joined concatenates the segment texts in order with a blank line between them.
func (p SystemPrompt) Joined() string {
	parts := make([]string, 0, len(p))
	for _, seg := range p {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, "\n\n")
}

var errContentMissing = errors.New("content must be a string or a list of content blocks")

// Content is a message body: either plain text or an ordered list of typed
// items. List items are kept verbatim so they can be forwarded unchanged.
type Content struct {
	text    string
	items   []json.RawMessage
	list    bool
	present bool
}

// TextContent builds plain-text content.
func TextContent(s string) Content {
	return Content{text: s, present: true}
}

// ItemsContent builds list content from raw JSON items.
func ItemsContent(items ...json.RawMessage) Content {
	return Content{items: items, list: true, present: true}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errContentMissing
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode content: %w", err)
		}
		*c = TextContent(s)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode content: %w", err)
		}
		*c = ItemsContent(items...)
	default:
		return errContentMissing
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if !c.list {
		return json.Marshal(c.text)
	}
	if c.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.items)
}

// IsList reports whether the content was supplied as a list of items.
func (c Content) IsList() bool { return c.list }

// Blocks normalizes the content into text blocks. Plain text yields exactly one
// block. List content keeps only text items with non-empty text, in order;
// every other item type is dropped.
func (c Content) Blocks() []ContentBlock {
	if !c.list {
		return []ContentBlock{TextBlock(c.text)}
	}
	var blocks []ContentBlock
	for _, raw := range c.items {
		var item struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if item.Type == "text" && item.Text != "" {
			blocks = append(blocks, TextBlock(item.Text))
		}
	}
	return blocks
}

// JoinedText joins the normalized text blocks with a newline.
func (c Content) JoinedText() string {
	blocks := c.Blocks()
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}
