package patch

import (
	"context"
	"strings"
	"testing"

	"github.com/weldcode/weld/pkg/failure"
)

// fakeChecker fails until its error queue is drained.
type fakeChecker struct {
	queue  [][]CompileError
	checks int
}

func (c *fakeChecker) Check(_ context.Context, _ map[string]string) ([]CompileError, error) {
	c.checks++
	if len(c.queue) == 0 {
		return nil, nil
	}
	errs := c.queue[0]
	c.queue = c.queue[1:]
	return errs, nil
}

type fakeProposer struct {
	fixes [][]*FileDiff
	calls int
}

func (p *fakeProposer) ProposeFixes(_ context.Context, _ []CompileError, _ map[string]string) ([]*FileDiff, error) {
	p.calls++
	if len(p.fixes) == 0 {
		return nil, nil
	}
	batch := p.fixes[0]
	p.fixes = p.fixes[1:]
	return batch, nil
}

func loopFiles() map[string]string {
	return map[string]string{
		"app/page.tsx": "line one\nline two\nline three",
	}
}

func loopDiff(newContent string) []*FileDiff {
	return []*FileDiff{{
		Path:  "app/page.tsx",
		Hunks: []Hunk{{Op: OpReplace, StartLine: 2, EndLine: 2, NewContent: newContent}},
	}}
}

func TestLoopPassesFirstTry(t *testing.T) {
	checker := &fakeChecker{}
	result, err := ValidateAndApply(context.Background(), loopFiles(), loopDiff("patched"),
		checker, nil, LoopOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	if checker.checks != 1 {
		t.Errorf("checks = %d, want 1", checker.checks)
	}
	if !strings.Contains(result.Files["app/page.tsx"], "patched") {
		t.Errorf("content = %q", result.Files["app/page.tsx"])
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d", result.Iterations)
	}
}

func TestLoopRetriesWithProposedFixes(t *testing.T) {
	checker := &fakeChecker{queue: [][]CompileError{
		{{Path: "app/page.tsx", Line: 2, Message: "unexpected token"}},
	}}
	proposer := &fakeProposer{fixes: [][]*FileDiff{loopDiff("fixed line")}}

	result, err := ValidateAndApply(context.Background(), loopFiles(), loopDiff("broken line"),
		checker, proposer, LoopOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("loop: %v", err)
	}
	if proposer.calls != 1 {
		t.Errorf("proposer calls = %d", proposer.calls)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if !strings.Contains(result.Files["app/page.tsx"], "fixed line") {
		t.Errorf("content = %q", result.Files["app/page.tsx"])
	}
}

func TestLoopStopsWhenProposerGivesUp(t *testing.T) {
	checker := &fakeChecker{queue: [][]CompileError{
		{{Path: "app/page.tsx", Line: 2, Message: "unexpected token"}},
	}}
	proposer := &fakeProposer{} // returns nothing

	_, err := ValidateAndApply(context.Background(), loopFiles(), loopDiff("broken"),
		checker, proposer, LoopOptions{MaxRetries: 3})
	if err == nil {
		t.Fatal("expected failure when proposer has nothing")
	}
	if failure.KindOf(err) != failure.KindSyntax {
		t.Errorf("kind = %s", failure.KindOf(err))
	}
	if !strings.Contains(err.Error(), "unexpected token") {
		t.Errorf("diagnostics not surfaced: %v", err)
	}
}

func TestLoopExhaustsRetries(t *testing.T) {
	// Checker that never passes.
	checker := &fakeChecker{queue: [][]CompileError{
		{{Path: "app/page.tsx", Line: 1, Message: "e1"}},
		{{Path: "app/page.tsx", Line: 1, Message: "e2"}},
		{{Path: "app/page.tsx", Line: 1, Message: "e3"}},
	}}
	proposer := &fakeProposer{fixes: [][]*FileDiff{
		loopDiff("try 1"), loopDiff("try 2"), loopDiff("try 3"),
	}}

	_, err := ValidateAndApply(context.Background(), loopFiles(), loopDiff("initial"),
		checker, proposer, LoopOptions{MaxRetries: 2})
	if err == nil {
		t.Fatal("expected exhaustion")
	}
	if checker.checks != 3 {
		t.Errorf("checks = %d, want 3 (initial + 2 retries)", checker.checks)
	}
}

func TestLoopBatchIsAllOrNothing(t *testing.T) {
	files := map[string]string{
		"a.ts": "a1\na2",
		"b.ts": "b1\nb2",
	}
	diffs := []*FileDiff{
		{Path: "a.ts", Hunks: []Hunk{{Op: OpReplace, StartLine: 1, EndLine: 1, NewContent: "A1"}}},
		{Path: "b.ts", Hunks: []Hunk{{Op: OpReplace, StartLine: 5, EndLine: 9, NewContent: "boom"}}},
	}

	_, err := ValidateAndApply(context.Background(), files, diffs, &fakeChecker{}, nil, LoopOptions{})
	if err == nil {
		t.Fatal("batch with invalid diff succeeded")
	}
	// Source map untouched: nothing half-applied.
	if files["a.ts"] != "a1\na2" {
		t.Errorf("a.ts mutated: %q", files["a.ts"])
	}
}

func TestLoopMissingFile(t *testing.T) {
	diffs := []*FileDiff{{
		Path:  "ghost.ts",
		Hunks: []Hunk{{Op: OpDelete, StartLine: 1, EndLine: 1}},
	}}
	_, err := ValidateAndApply(context.Background(), loopFiles(), diffs, &fakeChecker{}, nil, LoopOptions{})
	if err == nil {
		t.Fatal("diff against missing file succeeded")
	}
	if failure.KindOf(err) != failure.KindFileOperationFailed {
		t.Errorf("kind = %s", failure.KindOf(err))
	}
}
