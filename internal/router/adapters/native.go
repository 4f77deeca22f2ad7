package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

// bedrockVersionTag is the protocol version the bedrock runtime expects in the body.
const bedrockVersionTag = "bedrock-2023-05-31"

var errVariantModel = errors.New("variant has no model id")

// nativeTransport moves a native Messages payload to one kind of backend.
type nativeTransport interface {
	send(ctx context.Context, payload []byte, v config.Variant, stream bool) (*RawResult, error)
	classify(err error) types.FailureClass
}

// NativeBackend speaks the native Messages protocol. The same translation
// serves the region-addressed bedrock runtime and the direct HTTP API; only
// the transport and the placement of the model id and version differ.
type NativeBackend struct {
	versionTag  string
	modelInBody bool
	transport   nativeTransport
}

func (b *NativeBackend) CheckVariant(v config.Variant) error {
	if v.Model == "" {
		return errVariantModel
	}
	return nil
}

func (b *NativeBackend) TranslateRequest(req *types.UnifiedRequest, v config.Variant) ([]byte, error) {
	body := nativeRequestBody{
		AnthropicVersion: b.versionTag,
		MaxTokens:        req.MaxTokens,
		Messages:         req.Messages,
		System:           req.System.Joined(),
		Temperature:      req.Temperature,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
	}
	if b.modelInBody {
		body.Model = v.Model
		body.Stream = req.Stream
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal native request: %w", err)
	}
	return data, nil
}

func (b *NativeBackend) Execute(ctx context.Context, payload []byte, v config.Variant, stream bool) (*RawResult, error) {
	return b.transport.send(ctx, payload, v, stream)
}

func (b *NativeBackend) TranslateResponse(raw *RawResult, req *types.UnifiedRequest, _ config.Variant) *types.UnifiedResponse {
	var body nativeResponseBody
	if raw.Streamed() {
		body = foldNativeStream(raw.Events)
	} else if err := json.Unmarshal(raw.Body, &body); err != nil {
		return types.ProcessingErrorResponse(req.Model, fmt.Errorf("decode native response: %w", err))
	}

	var blocks []types.ContentBlock
	for _, block := range body.Content {
		switch block.Type {
		case types.BlockText, types.BlockToolUse:
			blocks = append(blocks, block)
		}
	}
	return types.NewResponse(body.ID, req.Model, blocks, body.StopReason, body.Usage)
}

func (b *NativeBackend) Classify(err error) types.FailureClass {
	return b.transport.classify(err)
}

type nativeRequestBody struct {
	AnthropicVersion string          `json:"anthropic_version,omitempty"`
	Model            string          `json:"model,omitempty"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []types.Message `json:"messages"`
	System           string          `json:"system,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	Tools            []types.Tool    `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
}

type nativeResponseBody struct {
	ID         string               `json:"id"`
	Content    []types.ContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      types.Usage          `json:"usage"`
}
