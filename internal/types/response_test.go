package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewResponseSynthesizesEmptyText(t *testing.T) {
	resp := NewResponse("msg_1", "m1", nil, "", Usage{})
	if len(resp.Content) != 1 || resp.Content[0].Type != BlockText || resp.Content[0].Text != "" {
		t.Fatalf("content = %+v, want one empty text block", resp.Content)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("stop_reason = %q, want end_turn", resp.StopReason)
	}
	if resp.Role != "assistant" || resp.Type != "message" {
		t.Errorf("role/type = %q/%q", resp.Role, resp.Type)
	}
}

func TestContentBlockJSON(t *testing.T) {
	blocks := []ContentBlock{
		TextBlock(""),
		ToolUseBlock("toolu_1", "lookup", map[string]any{"q": "x"}),
		ToolUseBlock("toolu_2", "noop", nil),
	}
	out, err := json.Marshal(blocks)
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"type":"text","text":""},{"type":"tool_use","id":"toolu_1","name":"lookup","input":{"q":"x"}},{"type":"tool_use","id":"toolu_2","name":"noop","input":{}}]`
	if string(out) != want {
		t.Errorf("marshal =\n%s\nwant\n%s", out, want)
	}

	var back []ContentBlock
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back[1].Name != "lookup" || back[1].Input.(map[string]any)["q"] != "x" {
		t.Errorf("unmarshal tool block = %+v", back[1])
	}
}

func TestProcessingErrorResponse(t *testing.T) {
	resp := ProcessingErrorResponse("m1", errors.New("unexpected EOF"))
	if resp.ID != "error_response" || resp.StopReason != StopError {
		t.Errorf("id/stop = %q/%q", resp.ID, resp.StopReason)
	}
	if resp.Content[0].Text != "Response processing error: unexpected EOF" {
		t.Errorf("text = %q", resp.Content[0].Text)
	}
}
