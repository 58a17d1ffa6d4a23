// Package patch applies structured line-based diffs to file contents,
// with scope, bounds, and content verification, plus a compile-check
// validation loop around batch application.
package patch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weldcode/weld/pkg/failure"
)

// Op is the hunk operation.
type Op string

const (
	// OpReplace replaces the lines in [StartLine, EndLine] with NewContent.
	OpReplace Op = "replace"
	// OpInsert inserts NewContent before StartLine.
	OpInsert Op = "insert"
	// OpDelete removes the lines in [StartLine, EndLine].
	OpDelete Op = "delete"
)

// Hunk is one edit within a file. Lines are 1-based.
type Hunk struct {
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Op         Op     `json:"op"`
	OldContent string `json:"old_content,omitempty"`
	NewContent string `json:"new_content,omitempty"`
}

// FileDiff is a set of hunks against one file.
type FileDiff struct {
	Path  string `json:"path"`
	Hunks []Hunk `json:"hunks"`
}

// Options controls application of a diff.
type Options struct {
	// Editable restricts which paths may be patched. Empty allows all.
	Editable []string

	// Verify enables content verification of replace/delete hunks
	// against OldContent.
	Verify bool

	// Fuzzy relaxes verification to whitespace-normalized comparison.
	Fuzzy bool

	// RewriteWarnFraction is the share of original lines replaced or
	// deleted above which a warning is reported. Zero means 0.5.
	RewriteWarnFraction float64
}

// Result is the outcome of applying one diff.
type Result struct {
	// Content is the patched file content.
	Content string

	// LinesChanged is the number of original lines replaced or deleted.
	LinesChanged int

	// RewriteWarning is set when the diff rewrites a large share of the
	// file. Non-fatal.
	RewriteWarning string
}

// Apply applies a diff to content. It is all-or-nothing: any invalid hunk
// fails the whole diff and content is returned unmodified by the caller's
// reading of the error.
func Apply(content string, diff *FileDiff, opts Options) (*Result, error) {
	if err := checkScope(diff.Path, opts.Editable); err != nil {
		return nil, err
	}
	if len(diff.Hunks) == 0 {
		return nil, failure.New(failure.KindSyntax,
			fmt.Sprintf("diff for %s has no hunks", diff.Path), nil)
	}

	lines := splitLines(content)

	if err := checkBounds(diff, len(lines)); err != nil {
		return nil, err
	}
	if err := checkOverlap(diff); err != nil {
		return nil, err
	}
	if opts.Verify {
		if err := verifyContent(diff, lines, opts.Fuzzy); err != nil {
			return nil, err
		}
	}

	// Apply highest-line-first so earlier hunks see their original line
	// numbers regardless of how later edits shift the file.
	ordered := make([]Hunk, len(diff.Hunks))
	copy(ordered, diff.Hunks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartLine > ordered[j].StartLine
	})

	changed := 0
	for _, h := range ordered {
		switch h.Op {
		case OpReplace:
			replacement := splitLines(h.NewContent)
			changed += h.EndLine - h.StartLine + 1
			lines = append(lines[:h.StartLine-1], append(replacement, lines[h.EndLine:]...)...)
		case OpInsert:
			insertion := splitLines(h.NewContent)
			at := h.StartLine - 1
			lines = append(lines[:at], append(insertion, lines[at:]...)...)
		case OpDelete:
			changed += h.EndLine - h.StartLine + 1
			lines = append(lines[:h.StartLine-1], lines[h.EndLine:]...)
		}
	}

	result := &Result{
		Content:      strings.Join(lines, "\n"),
		LinesChanged: changed,
	}

	warnAt := opts.RewriteWarnFraction
	if warnAt <= 0 {
		warnAt = 0.5
	}
	originalLines := len(splitLines(content))
	if originalLines > 0 && float64(changed)/float64(originalLines) > warnAt {
		result.RewriteWarning = fmt.Sprintf(
			"diff rewrites %d of %d lines in %s; a full file write may be more reliable",
			changed, originalLines, diff.Path)
	}

	return result, nil
}

// QuickValidate checks scope, existence, and bounds without touching
// content. exists reports whether the target file is known; lineCount is
// its current length.
func QuickValidate(diff *FileDiff, editable []string, exists bool, lineCount int) error {
	if err := checkScope(diff.Path, editable); err != nil {
		return err
	}
	if !exists {
		return failure.New(failure.KindFileOperationFailed,
			fmt.Sprintf("cannot patch %s: file does not exist", diff.Path), nil)
	}
	if err := checkBounds(diff, lineCount); err != nil {
		return err
	}
	return checkOverlap(diff)
}

func checkScope(path string, editable []string) error {
	if len(editable) == 0 {
		return nil
	}
	for _, prefix := range editable {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return nil
		}
	}
	return failure.New(failure.KindFileOperationFailed,
		fmt.Sprintf("path %s is outside the editable scope", path), nil)
}

func checkBounds(diff *FileDiff, lineCount int) error {
	for i, h := range diff.Hunks {
		switch h.Op {
		case OpReplace, OpDelete:
			if h.StartLine < 1 || h.EndLine < h.StartLine {
				return failure.New(failure.KindSyntax,
					fmt.Sprintf("%s hunk %d: invalid range %d-%d", diff.Path, i, h.StartLine, h.EndLine), nil)
			}
			if h.EndLine > lineCount {
				return failure.New(failure.KindSyntax,
					fmt.Sprintf("%s hunk %d: range %d-%d exceeds file length %d",
						diff.Path, i, h.StartLine, h.EndLine, lineCount), nil)
			}
		case OpInsert:
			// Inserting after the last line is valid: StartLine may be
			// lineCount+1.
			if h.StartLine < 1 || h.StartLine > lineCount+1 {
				return failure.New(failure.KindSyntax,
					fmt.Sprintf("%s hunk %d: insert position %d outside file length %d",
						diff.Path, i, h.StartLine, lineCount), nil)
			}
		default:
			return failure.New(failure.KindSyntax,
				fmt.Sprintf("%s hunk %d: unknown op %q", diff.Path, i, h.Op), nil)
		}
	}
	return nil
}

func checkOverlap(diff *FileDiff) error {
	for i := 0; i < len(diff.Hunks); i++ {
		for j := i + 1; j < len(diff.Hunks); j++ {
			if hunksOverlap(diff.Hunks[i], diff.Hunks[j]) {
				return failure.New(failure.KindSyntax,
					fmt.Sprintf("%s: hunks %d and %d overlap", diff.Path, i, j), nil)
			}
		}
	}
	return nil
}

func hunksOverlap(a, b Hunk) bool {
	if a.Op == OpInsert && b.Op == OpInsert {
		return a.StartLine == b.StartLine
	}
	// An insert only occupies the boundary before its line; it conflicts
	// with a range hunk that covers that line.
	aStart, aEnd := hunkRange(a)
	bStart, bEnd := hunkRange(b)
	return aStart <= bEnd && bStart <= aEnd
}

func hunkRange(h Hunk) (int, int) {
	if h.Op == OpInsert {
		return h.StartLine, h.StartLine
	}
	return h.StartLine, h.EndLine
}

// verifyContent checks that replace/delete hunks still match what they
// claim to be editing. A mismatch means the diff was produced against
// stale content.
func verifyContent(diff *FileDiff, lines []string, fuzzy bool) error {
	for i, h := range diff.Hunks {
		if h.Op == OpInsert || h.OldContent == "" {
			continue
		}
		actual := strings.Join(lines[h.StartLine-1:h.EndLine], "\n")
		if actual == h.OldContent {
			continue
		}
		if fuzzy && normalizeWhitespace(actual) == normalizeWhitespace(h.OldContent) {
			continue
		}
		return failure.New(failure.KindSyntax,
			fmt.Sprintf("%s hunk %d: content mismatch at lines %d-%d\nexpected:\n%s\nactual:\n%s",
				diff.Path, i, h.StartLine, h.EndLine, h.OldContent, actual), nil)
	}
	return nil
}

// normalizeWhitespace collapses runs of whitespace inside each line and
// trims the edges, so formatting drift does not fail verification.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
