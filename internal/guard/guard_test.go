package guard

import (
	"errors"
	"testing"
)

func TestTryClaimRejectsSecondJob(t *testing.T) {
	g := New()
	if err := g.TryClaim("twitch:alice", 1); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	err := g.TryClaim("twitch:alice", 2)
	var dup *ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if dup.JobID != 1 || dup.TargetID != "twitch:alice" {
		t.Fatalf("duplicate error carries wrong claim: %+v", dup)
	}
}

func TestTryClaimIsIdempotentForHolder(t *testing.T) {
	g := New()
	if err := g.TryClaim("twitch:alice", 1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := g.TryClaim("twitch:alice", 1); err != nil {
		t.Fatalf("re-claim by holder should succeed: %v", err)
	}
}

func TestReleaseFreesTarget(t *testing.T) {
	g := New()
	if err := g.TryClaim("twitch:alice", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Release("twitch:alice", 1)
	if err := g.TryClaim("twitch:alice", 2); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestReleaseByNonHolderIsNoOp(t *testing.T) {
	g := New()
	if err := g.TryClaim("twitch:alice", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	g.Release("twitch:alice", 99)
	holder, ok := g.Holder("twitch:alice")
	if !ok || holder != 1 {
		t.Fatalf("claim lost to stale release: holder=%d ok=%v", holder, ok)
	}
}

func TestActiveSnapshot(t *testing.T) {
	g := New()
	g.TryClaim("a", 1)
	g.TryClaim("b", 2)
	snap := g.Active()
	if len(snap) != 2 || snap["a"] != 1 || snap["b"] != 2 {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
	snap["a"] = 42
	if holder, _ := g.Holder("a"); holder != 1 {
		t.Fatal("snapshot mutation leaked into guard")
	}
}
