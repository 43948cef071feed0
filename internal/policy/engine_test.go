package policy

import (
	"context"
	"testing"

	"github.com/actiongate/actiongate/internal/tools"
)

type tierTool struct {
	name string
	tier int
}

func (t *tierTool) Name() string               { return t.name }
func (t *tierTool) Description() string        { return "" }
func (t *tierTool) Parameters() map[string]any { return nil }
func (t *tierTool) Tier() int                  { return t.tier }
func (t *tierTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return "", nil
}

func TestTier0NeverNeedsConfirmation(t *testing.T) {
	eng := NewDefaultEngine()
	d := eng.Evaluate(Context{Tool: "list_emails", Tier: tools.TierReadOnly})
	if !d.Allow || d.RequiresConfirmation {
		t.Fatalf("tier 0 should run directly, got: %+v", d)
	}
}

func TestSideEffectsAlwaysNeedConfirmation(t *testing.T) {
	eng := NewDefaultEngine()
	for _, tier := range []int{tools.TierWrite, tools.TierHighRisk} {
		d := eng.Evaluate(Context{Tool: "x", Tier: tier})
		if !d.Allow || !d.RequiresConfirmation {
			t.Fatalf("tier %d should need confirmation, got: %+v", tier, d)
		}
	}
}

func TestSenderDeniedWhenNotInAllowlist(t *testing.T) {
	eng := NewDefaultEngine("alice")
	d := eng.Evaluate(Context{Tool: "send_email", Tier: tools.TierHighRisk, Sender: "bob"})
	if d.Allow {
		t.Fatal("bob should be denied when not in allowlist")
	}
	d = eng.Evaluate(Context{Tool: "list_emails", Tier: tools.TierReadOnly, Sender: "bob"})
	if !d.Allow {
		t.Fatal("read-only lookups are not gated by the allowlist")
	}
}

func TestEvaluateOperations(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&tierTool{name: "read", tier: tools.TierReadOnly})
	reg.Register(&tierTool{name: "write", tier: tools.TierWrite})
	eng := NewDefaultEngine()

	_, needs := EvaluateOperations(eng, reg, Context{}, []tools.Operation{{Tool: "read"}})
	if needs {
		t.Fatal("read-only batch should not need confirmation")
	}
	_, needs = EvaluateOperations(eng, reg, Context{}, []tools.Operation{{Tool: "read"}, {Tool: "write"}})
	if !needs {
		t.Fatal("mixed batch should need confirmation")
	}
	_, needs = EvaluateOperations(eng, reg, Context{}, []tools.Operation{{Tool: "unknown"}})
	if !needs {
		t.Fatal("unknown tools are treated as high risk")
	}
}
