package patch

import (
	"context"
	"fmt"
	"strings"

	"github.com/weldcode/weld/pkg/failure"
)

// CompileError is one structured diagnostic from the external checker.
type CompileError struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CompileChecker runs an external compile check over a set of files.
type CompileChecker interface {
	Check(ctx context.Context, files map[string]string) ([]CompileError, error)
}

// FixProposer turns compile diagnostics and current file contents into
// replacement diffs.
type FixProposer interface {
	ProposeFixes(ctx context.Context, errs []CompileError, files map[string]string) ([]*FileDiff, error)
}

// LoopOptions controls the validation loop.
type LoopOptions struct {
	// MaxRetries is how many fix rounds to attempt after the initial
	// application. Zero means no fix rounds.
	MaxRetries int

	// Apply is passed through to each diff application.
	Apply Options
}

// LoopResult is the outcome of a successful validation loop.
type LoopResult struct {
	// Files holds the final content of every touched file.
	Files map[string]string

	// Iterations is the number of compile-check rounds run.
	Iterations int

	// Warnings collects non-fatal rewrite warnings from applied diffs.
	Warnings []string
}

// ValidateAndApply applies a batch of diffs, compile-checks the result,
// and loops through the fix proposer until the check passes or retries
// run out. The batch is all-or-nothing per round: one bad diff fails the
// round without applying the rest.
func ValidateAndApply(ctx context.Context, files map[string]string, diffs []*FileDiff, checker CompileChecker, proposer FixProposer, opts LoopOptions) (*LoopResult, error) {
	current := make(map[string]string, len(files))
	for path, content := range files {
		current[path] = content
	}

	result := &LoopResult{}

	applyBatch := func(batch []*FileDiff) error {
		// Validate the whole batch against a scratch copy first so a
		// failure in the middle leaves nothing half-applied.
		scratch := make(map[string]string, len(current))
		for path, content := range current {
			scratch[path] = content
		}
		var warnings []string
		for _, diff := range batch {
			content, ok := scratch[diff.Path]
			if !ok {
				return failure.New(failure.KindFileOperationFailed,
					fmt.Sprintf("cannot patch %s: file does not exist", diff.Path), nil)
			}
			applied, err := Apply(content, diff, opts.Apply)
			if err != nil {
				return err
			}
			scratch[diff.Path] = applied.Content
			if applied.RewriteWarning != "" {
				warnings = append(warnings, applied.RewriteWarning)
			}
		}
		current = scratch
		result.Warnings = append(result.Warnings, warnings...)
		return nil
	}

	if err := applyBatch(diffs); err != nil {
		return nil, err
	}

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.Iterations++
		errs, err := checker.Check(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("compile check failed to run: %w", err)
		}
		if len(errs) == 0 {
			result.Files = current
			return result, nil
		}

		if round >= opts.MaxRetries || proposer == nil {
			return nil, failure.New(failure.KindSyntax, summarizeErrors(errs), nil)
		}

		fixes, err := proposer.ProposeFixes(ctx, errs, current)
		if err != nil {
			return nil, fmt.Errorf("fix proposer failed: %w", err)
		}
		if len(fixes) == 0 {
			// Nothing usable to try; surface the diagnostics as they are.
			return nil, failure.New(failure.KindSyntax, summarizeErrors(errs), nil)
		}

		if err := applyBatch(fixes); err != nil {
			return nil, err
		}
	}
}

func summarizeErrors(errs []CompileError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "compile check failed with %d error(s):", len(errs))
	for _, e := range errs {
		fmt.Fprintf(&b, "\n  %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return b.String()
}
