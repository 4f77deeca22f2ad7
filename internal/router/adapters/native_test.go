package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

// fakeBedrock records InvokeModel calls and replies with a fixed body.
type fakeBedrock struct {
	mu     sync.Mutex
	models []string
	bodies [][]byte
	reply  []byte
	err    error
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, *in.ModelId)
	f.bodies = append(f.bodies, in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.reply}, nil
}

func (f *fakeBedrock) InvokeModelWithResponseStream(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("streaming not faked")
}

func TestBedrockTranslateRequest(t *testing.T) {
	temp := 0.2
	req := testRequest()
	req.Temperature = &temp
	req.Stream = true
	req.System = types.SystemPrompt{{Type: "text", Text: "be brief"}}
	req.Tools = []types.Tool{{Name: "lookup", InputSchema: map[string]any{"type": "object"}}}
	req.ToolChoice = json.RawMessage(`{"type":"auto"}`)

	b := newBedrockBackend(config.ProviderConfig{Region: "us-east-1"}, nil)
	data, err := b.TranslateRequest(req, config.Variant{Model: "anthropic.claude-v2", Region: "us-west-2"})
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}

	if body["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %v", body["anthropic_version"])
	}
	if _, ok := body["model"]; ok {
		t.Error("bedrock body must not carry the model id")
	}
	if _, ok := body["stream"]; ok {
		t.Error("bedrock body must not carry the stream flag")
	}
	if body["system"] != "be brief" || body["max_tokens"] != 16.0 || body["temperature"] != 0.2 {
		t.Errorf("body = %v", body)
	}
	msgs := body["messages"].([]any)
	if !reflect.DeepEqual(msgs[0], map[string]any{"role": "user", "content": "hi"}) {
		t.Errorf("messages[0] = %v", msgs[0])
	}
	if !reflect.DeepEqual(body["tool_choice"], map[string]any{"type": "auto"}) {
		t.Errorf("tool_choice = %v", body["tool_choice"])
	}
}

func TestBedrockSendAndMemoize(t *testing.T) {
	fake := &fakeBedrock{reply: []byte(`{
		"id":"msg_1","type":"message","role":"assistant",
		"content":[{"type":"text","text":"Hi"},{"type":"thinking","thinking":"..."},{"type":"tool_use","id":"tu_1","name":"lookup","input":{"k":"v"}}],
		"stop_reason":"tool_use","usage":{"input_tokens":9,"output_tokens":4}
	}`)}
	var (
		mu     sync.Mutex
		builds []poolKey
	)
	b := newBedrockBackend(config.ProviderConfig{Region: "us-east-1"}, func(_ context.Context, key poolKey) (bedrockAPI, error) {
		mu.Lock()
		builds = append(builds, key)
		mu.Unlock()
		return fake, nil
	})

	req := testRequest()
	for _, v := range []config.Variant{
		{Model: "m1", Region: "eu-west-1"},
		{Model: "m2", Region: "eu-west-1"},
		{Model: "m3"},
	} {
		payload, _ := b.TranslateRequest(req, v)
		raw, err := b.Execute(context.Background(), payload, v, false)
		if err != nil {
			t.Fatalf("%s: %v", v.Model, err)
		}
		resp := b.TranslateResponse(raw, req, v)
		if resp.ID != "msg_1" || resp.Model != "claude-test" || resp.StopReason != "tool_use" {
			t.Errorf("resp = %+v", resp)
		}
		if len(resp.Content) != 2 {
			t.Errorf("non text/tool_use blocks should be dropped, got %+v", resp.Content)
		}
	}

	if !reflect.DeepEqual(fake.models, []string{"m1", "m2", "m3"}) {
		t.Errorf("models = %v", fake.models)
	}
	want := []poolKey{
		{provider: "bedrock", region: "eu-west-1"},
		{provider: "bedrock", region: "us-east-1"},
	}
	if !reflect.DeepEqual(builds, want) {
		t.Errorf("builds = %v, want %v", builds, want)
	}
}

func TestBedrockSendError(t *testing.T) {
	fake := &fakeBedrock{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	b := newBedrockBackend(config.ProviderConfig{Region: "us-east-1"}, func(context.Context, poolKey) (bedrockAPI, error) {
		return fake, nil
	})
	_, err := b.Execute(context.Background(), []byte(`{}`), config.Variant{Model: "m"}, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := b.Classify(err); got != types.FailureRateLimited {
		t.Errorf("class = %s", got)
	}
}

func TestBedrockClientBuildFailure(t *testing.T) {
	calls := 0
	b := newBedrockBackend(config.ProviderConfig{Region: "us-east-1"}, func(context.Context, poolKey) (bedrockAPI, error) {
		calls++
		return nil, errors.New("no credentials")
	})
	for range 2 {
		_, err := b.Execute(context.Background(), []byte(`{}`), config.Variant{Model: "m"}, false)
		if err == nil {
			t.Fatal("expected error")
		}
		if got := b.Classify(err); got != types.FailureOther {
			t.Errorf("class = %s", got)
		}
	}
	if calls != 2 {
		t.Errorf("failed builds should not be cached, calls = %d", calls)
	}
}

func TestClassifyBedrockError(t *testing.T) {
	tests := []struct {
		code string
		want types.FailureClass
	}{
		{"ThrottlingException", types.FailureRateLimited},
		{"ServiceQuotaExceededException", types.FailureRateLimited},
		{"AccessDeniedException", types.FailureAuth},
		{"UnrecognizedClientException", types.FailureAuth},
		{"ExpiredTokenException", types.FailureAuth},
		{"ValidationException", types.FailureBadRequest},
		{"ModelTimeoutException", types.FailureOther},
		{"InternalServerException", types.FailureOther},
	}
	for _, tt := range tests {
		err := fmt.Errorf("invoke: %w", &smithy.GenericAPIError{Code: tt.code})
		if got := classifyBedrockError(err); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.code, got, tt.want)
		}
	}
	if got := classifyBedrockError(context.DeadlineExceeded); got != types.FailureOther {
		t.Errorf("deadline: got %s", got)
	}
}

func TestFoldNativeStream(t *testing.T) {
	events := [][]byte{
		[]byte(`{"type":"message_start","message":{"id":"msg_s","usage":{"input_tokens":3,"output_tokens":1}}}`),
		[]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		[]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`),
		[]byte(`{"type":"ping"}`),
		[]byte(`not json`),
		[]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`),
		[]byte(`{"type":"content_block_stop","index":0}`),
		[]byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_2","name":"calc"}}`),
		[]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":"}}`),
		[]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"2}"}}`),
		[]byte(`{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"tu_3","name":"noop"}}`),
		[]byte(`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":12}}`),
		[]byte(`{"type":"message_stop"}`),
	}

	body := foldNativeStream(events)
	if body.ID != "msg_s" || body.StopReason != "tool_use" {
		t.Errorf("id=%q stop=%q", body.ID, body.StopReason)
	}
	if body.Usage != (types.Usage{InputTokens: 3, OutputTokens: 12}) {
		t.Errorf("usage = %+v", body.Usage)
	}
	if len(body.Content) != 3 {
		t.Fatalf("content = %+v", body.Content)
	}
	if body.Content[0].Text != "Hello" {
		t.Errorf("text = %q", body.Content[0].Text)
	}
	if body.Content[1].ID != "tu_2" || !reflect.DeepEqual(body.Content[1].Input, map[string]any{"x": 2.0}) {
		t.Errorf("tool = %+v", body.Content[1])
	}
	if !reflect.DeepEqual(body.Content[2].Input, map[string]any{}) {
		t.Errorf("empty tool input = %v", body.Content[2].Input)
	}
}

func TestFoldNativeStream_BedrockMetrics(t *testing.T) {
	events := [][]byte{
		[]byte(`{"type":"message_start","message":{"id":"msg_b","usage":{"input_tokens":1}}}`),
		[]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`),
		[]byte(`{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":40,"outputTokenCount":8}}`),
	}
	body := foldNativeStream(events)
	if body.Usage != (types.Usage{InputTokens: 40, OutputTokens: 8}) {
		t.Errorf("usage = %+v", body.Usage)
	}
	if len(body.Content) != 1 || body.Content[0].Text != "ok" {
		t.Errorf("content = %+v", body.Content)
	}
}

func TestNativeTranslateResponse_Malformed(t *testing.T) {
	b := newBedrockBackend(config.ProviderConfig{}, nil)
	resp := b.TranslateResponse(&RawResult{Body: []byte(`{"content":`)}, testRequest(), config.Variant{})
	if resp.ID != "error_response" || resp.StopReason != types.StopError {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnthropicBackend(t *testing.T) {
	var gotKey, gotVersion, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_a","content":[{"type":"text","text":"direct"}],"stop_reason":"end_turn","usage":{"input_tokens":2,"output_tokens":1}}`)
	}))
	defer server.Close()

	b, err := NewAnthropicBackend("anthropic", config.ProviderConfig{BaseURL: server.URL + "/v1", APIKey: "sk-ant"})
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest()
	v := config.Variant{Model: "claude-3-5-haiku"}
	payload, _ := b.TranslateRequest(req, v)
	raw, err := b.Execute(context.Background(), payload, v, false)
	if err != nil {
		t.Fatal(err)
	}
	resp := b.TranslateResponse(raw, req, v)

	if gotKey != "sk-ant" || gotVersion != anthropicAPIVersion || gotModel != "claude-3-5-haiku" {
		t.Errorf("key=%q version=%q model=%q", gotKey, gotVersion, gotModel)
	}
	if resp.Content[0].Text != "direct" || resp.Usage.Total() != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m\"}}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")
	}))
	defer server.Close()

	b, _ := NewAnthropicBackend("anthropic", config.ProviderConfig{BaseURL: server.URL, APIKey: "k"})
	_, err := b.Execute(context.Background(), []byte(`{}`), config.Variant{Model: "m"}, true)
	if err == nil {
		t.Fatal("expected stream error")
	}
	if got := b.Classify(err); got != types.FailureRateLimited {
		t.Errorf("class = %s", got)
	}
}

func TestAnthropicOverloadedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusOverloaded)
	}))
	defer server.Close()

	b, _ := NewAnthropicBackend("anthropic", config.ProviderConfig{BaseURL: server.URL, APIKey: "k"})
	_, err := b.Execute(context.Background(), []byte(`{}`), config.Variant{Model: "m"}, false)
	if got := b.Classify(err); got != types.FailureRateLimited {
		t.Errorf("class = %s", got)
	}
}
