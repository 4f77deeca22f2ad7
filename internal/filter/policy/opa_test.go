package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/filter"
	"github.com/af-corp/relay-gateway/internal/types"
)

func testCfg() func() config.PolicyConfig {
	return func() config.PolicyConfig {
		return config.PolicyConfig{
			Enabled:           true,
			EvaluationTimeout: 100 * time.Millisecond,
		}
	}
}

const limitsPolicy = `
package relay.policy

import rego.v1

default allow := true
default reason := ""

deny contains msg if {
	input.request.max_tokens > 8192
	msg := "max_tokens above 8192"
}

deny contains msg if {
	some name in input.request.tool_names
	name == "shell"
	msg := "tool shell is not allowed"
}

allow := false if {
	count(deny) > 0
}

reason := concat("; ", sort(deny)) if {
	count(deny) > 0
}
`

func loadTestEvaluator(t *testing.T, policy string) *Evaluator {
	t.Helper()
	e := NewEvaluator(testCfg())
	if err := e.LoadFromModules(map[string]string{"test.rego": policy}); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	return e
}

func TestEvaluator_Evaluate(t *testing.T) {
	e := loadTestEvaluator(t, limitsPolicy)

	tests := []struct {
		name    string
		req     PolicyReq
		allowed bool
		reason  string
	}{
		{"within limits", PolicyReq{Model: "claude-sonnet", MaxTokens: 1024, ToolNames: []string{"search"}}, true, ""},
		{"too many tokens", PolicyReq{Model: "claude-sonnet", MaxTokens: 10000}, false, "max_tokens above 8192"},
		{"banned tool", PolicyReq{Model: "claude-sonnet", MaxTokens: 10, ToolNames: []string{"search", "shell"}}, false, "tool shell is not allowed"},
		{
			"both",
			PolicyReq{Model: "claude-sonnet", MaxTokens: 9000, ToolNames: []string{"shell"}},
			false,
			"max_tokens above 8192; tool shell is not allowed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason, err := e.Evaluate(context.Background(), PolicyInput{Request: tt.req})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if allowed != tt.allowed || reason != tt.reason {
				t.Errorf("got (%v, %q), want (%v, %q)", allowed, reason, tt.allowed, tt.reason)
			}
		})
	}
}

func TestEvaluator_NoPoliciesFailsClosed(t *testing.T) {
	e := NewEvaluator(testCfg())
	allowed, reason, err := e.Evaluate(context.Background(), PolicyInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected deny with no policies loaded")
	}
	if reason != "no policies loaded" {
		t.Errorf("reason = %q", reason)
	}
}

func TestEvaluator_InvalidPolicy(t *testing.T) {
	e := NewEvaluator(testCfg())
	if err := e.LoadFromModules(map[string]string{"bad.rego": "package relay.policy\n\nallow := "}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEvaluator_ScanRequest(t *testing.T) {
	e := loadTestEvaluator(t, limitsPolicy)
	if !e.Enabled() || e.Name() != "policy" {
		t.Fatalf("Enabled=%v Name=%q", e.Enabled(), e.Name())
	}

	ok := &types.UnifiedRequest{
		Model:     "claude-sonnet",
		MaxTokens: 100,
		Messages:  []types.Message{{Role: "user", Content: types.TextContent("hi")}},
	}
	if r := e.ScanRequest(context.Background(), ok); r.Action != filter.ActionPass {
		t.Errorf("action = %s, want pass", r.Action)
	}

	denied := *ok
	denied.Tools = []types.Tool{{Name: "shell"}}
	r := e.ScanRequest(context.Background(), &denied)
	if r.Action != filter.ActionBlock {
		t.Fatalf("action = %s, want block", r.Action)
	}
	if !strings.Contains(r.Message, "tool shell is not allowed") {
		t.Errorf("message = %q", r.Message)
	}
}

func TestInputFor(t *testing.T) {
	req := &types.UnifiedRequest{
		Model:     "m",
		Stream:    true,
		MaxTokens: 5,
		Messages: []types.Message{
			{Role: "user", Content: types.TextContent("a")},
			{Role: "assistant", Content: types.TextContent("b")},
		},
		Tools: []types.Tool{{Name: "x"}, {Name: "y"}},
	}
	in := InputFor(req, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	if in.Request.MessageCount != 2 || !in.Request.Stream || len(in.Request.ToolNames) != 2 {
		t.Errorf("request = %+v", in.Request)
	}
	if in.Time.Hour != 14 || in.Time.Day != "Monday" {
		t.Errorf("time = %+v", in.Time)
	}
}

func TestLoad_FromBundleDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "limits.rego"), []byte(limitsPolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEvaluator(func() config.PolicyConfig {
		return config.PolicyConfig{Enabled: true, BundlePath: dir}
	})
	if err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	allowed, _, err := e.Evaluate(context.Background(), PolicyInput{Request: PolicyReq{MaxTokens: 1}})
	if err != nil || !allowed {
		t.Errorf("allowed=%v err=%v", allowed, err)
	}
}

func TestLoad_MissingDir(t *testing.T) {
	e := NewEvaluator(func() config.PolicyConfig {
		return config.PolicyConfig{BundlePath: filepath.Join(t.TempDir(), "missing")}
	})
	if err := e.Load(); err == nil {
		t.Error("expected error for missing bundle dir")
	}
}
