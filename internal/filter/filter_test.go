package filter

import (
	"context"
	"testing"

	"github.com/af-corp/relay-gateway/internal/types"
)

type stubFilter struct {
	name    string
	enabled bool
	action  Action
	calls   int
}

func (s *stubFilter) Name() string  { return s.name }
func (s *stubFilter) Enabled() bool { return s.enabled }

func (s *stubFilter) ScanRequest(context.Context, *types.UnifiedRequest) Result {
	s.calls++
	return Result{Action: s.action, FilterName: s.name}
}

func TestChain_StopsOnBlock(t *testing.T) {
	first := &stubFilter{name: "first", enabled: true, action: ActionPass}
	disabled := &stubFilter{name: "disabled", enabled: false, action: ActionBlock}
	blocker := &stubFilter{name: "blocker", enabled: true, action: ActionBlock}
	after := &stubFilter{name: "after", enabled: true, action: ActionPass}

	results, blocked := NewChain(first, disabled, blocker, after).Run(context.Background(), &types.UnifiedRequest{})
	if blocked == nil || blocked.FilterName != "blocker" {
		t.Fatalf("blocked = %+v", blocked)
	}
	if len(results) != 2 {
		t.Errorf("results = %+v", results)
	}
	if disabled.calls != 0 || after.calls != 0 {
		t.Errorf("disabled=%d after=%d calls", disabled.calls, after.calls)
	}
}

func TestChain_AllPass(t *testing.T) {
	results, blocked := NewChain(&stubFilter{name: "a", enabled: true, action: ActionPass}).Run(context.Background(), &types.UnifiedRequest{})
	if blocked != nil || len(results) != 1 {
		t.Errorf("results=%v blocked=%v", results, blocked)
	}

	var nilChain *Chain
	if results, blocked := nilChain.Run(context.Background(), &types.UnifiedRequest{}); results != nil || blocked != nil {
		t.Error("nil chain should pass everything")
	}
}
