package dispatch

import (
	"context"
	"errors"
	"testing"
)

// instructedTool is a stubTool that also carries an instructions block.
type instructedTool struct {
	*stubTool
	instructions string
}

func (t *instructedTool) Instructions() string { return t.instructions }

// cleanupTool is a stubTool with a lifecycle hook.
type cleanupTool struct {
	*stubTool
	cleanups int
	err      error
}

func (t *cleanupTool) Cleanup(ctx context.Context) error {
	t.cleanups++
	return t.err
}

func TestRegistry_InstructionsSortedByToolName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&instructedTool{stubTool: okTool("zeta"), instructions: "zeta rules"}, false)
	reg.Register(okTool("middle"), false)
	reg.Register(&instructedTool{stubTool: okTool("alpha"), instructions: "alpha rules"}, false)

	got := reg.Instructions()
	if len(got) != 2 {
		t.Fatalf("len(Instructions()) = %d, want 2 (tools without a block are skipped)", len(got))
	}
	if got[0] != "alpha rules" || got[1] != "zeta rules" {
		t.Fatalf("Instructions() = %v, want alphabetical by tool name", got)
	}
}

func TestRegistry_InstructionsSkipsBlankBlocks(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&instructedTool{stubTool: okTool("blank"), instructions: "   "}, false)

	if got := reg.Instructions(); len(got) != 0 {
		t.Fatalf("Instructions() = %v, want empty for a whitespace-only block", got)
	}
}

func TestRegistry_CleanupInvokesEveryCleaner(t *testing.T) {
	reg := NewRegistry()
	a := &cleanupTool{stubTool: okTool("a")}
	b := &cleanupTool{stubTool: okTool("b")}
	reg.Register(a, false)
	reg.Register(b, false)
	reg.Register(okTool("plain"), false)

	if err := reg.Cleanup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.cleanups != 1 || b.cleanups != 1 {
		t.Fatalf("cleanups = %d/%d, want 1/1", a.cleanups, b.cleanups)
	}
}

func TestRegistry_CleanupTriesAllAndReturnsFirstError(t *testing.T) {
	reg := NewRegistry()
	bad := &cleanupTool{stubTool: okTool("bad"), err: errors.New("session leak")}
	good := &cleanupTool{stubTool: okTool("good")}
	reg.Register(bad, false)
	reg.Register(good, false)

	err := reg.Cleanup(context.Background())
	if err == nil {
		t.Fatal("expected the failing tool's error to surface")
	}
	if good.cleanups != 1 {
		t.Fatal("a failing cleanup must not prevent the others from running")
	}
}
