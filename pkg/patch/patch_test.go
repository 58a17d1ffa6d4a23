package patch

import (
	"strings"
	"testing"

	"github.com/weldcode/weld/pkg/failure"
)

const sample = `import React from "react";

export default function Page() {
  return <div>hello</div>;
}`

func TestApplyReplace(t *testing.T) {
	diff := &FileDiff{
		Path: "app/page.tsx",
		Hunks: []Hunk{
			{Op: OpReplace, StartLine: 4, EndLine: 4,
				OldContent: `  return <div>hello</div>;`,
				NewContent: `  return <div>goodbye</div>;`},
		},
	}

	result, err := Apply(sample, diff, Options{Verify: true})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.Contains(result.Content, "goodbye") || strings.Contains(result.Content, "hello") {
		t.Errorf("content:\n%s", result.Content)
	}
	if result.LinesChanged != 1 {
		t.Errorf("lines changed = %d", result.LinesChanged)
	}
}

func TestApplyHighestLineFirst(t *testing.T) {
	// Two hunks given in ascending order: the insert at line 1 must not
	// shift the replace at line 4.
	diff := &FileDiff{
		Path: "app/page.tsx",
		Hunks: []Hunk{
			{Op: OpInsert, StartLine: 1, NewContent: `"use client";`},
			{Op: OpReplace, StartLine: 4, EndLine: 4,
				NewContent: `  return <div>patched</div>;`},
		},
	}

	result, err := Apply(sample, diff, Options{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	lines := strings.Split(result.Content, "\n")
	if lines[0] != `"use client";` {
		t.Errorf("line 1 = %q", lines[0])
	}
	if lines[4] != `  return <div>patched</div>;` {
		t.Errorf("line 5 = %q", lines[4])
	}
	if len(lines) != 6 {
		t.Errorf("line count = %d:\n%s", len(lines), result.Content)
	}
}

func TestApplyDelete(t *testing.T) {
	diff := &FileDiff{
		Path:  "app/page.tsx",
		Hunks: []Hunk{{Op: OpDelete, StartLine: 1, EndLine: 2}},
	}
	result, err := Apply(sample, diff, Options{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if strings.Contains(result.Content, "import React") {
		t.Errorf("deleted lines survived:\n%s", result.Content)
	}
}

func TestContentVerificationRejectsStaleDiff(t *testing.T) {
	diff := &FileDiff{
		Path: "app/page.tsx",
		Hunks: []Hunk{
			{Op: OpReplace, StartLine: 4, EndLine: 4,
				OldContent: `  return <div>something else</div>;`,
				NewContent: `  return null;`},
		},
	}

	_, err := Apply(sample, diff, Options{Verify: true})
	if err == nil {
		t.Fatal("stale diff applied")
	}
	// The diagnostic names both sides so the proposer can re-anchor.
	if !strings.Contains(err.Error(), "expected") || !strings.Contains(err.Error(), "actual") {
		t.Errorf("diagnostic missing expected/actual: %v", err)
	}
	if failure.KindOf(err) != failure.KindSyntax {
		t.Errorf("kind = %s", failure.KindOf(err))
	}
}

func TestFuzzyVerificationToleratesWhitespace(t *testing.T) {
	diff := &FileDiff{
		Path: "app/page.tsx",
		Hunks: []Hunk{
			{Op: OpReplace, StartLine: 4, EndLine: 4,
				OldContent: `return   <div>hello</div>;`,
				NewContent: `  return null;`},
		},
	}

	if _, err := Apply(sample, diff, Options{Verify: true}); err == nil {
		t.Fatal("exact verification should reject reformatted old content")
	}
	if _, err := Apply(sample, diff, Options{Verify: true, Fuzzy: true}); err != nil {
		t.Errorf("fuzzy verification rejected whitespace drift: %v", err)
	}
}

func TestBoundsChecks(t *testing.T) {
	tests := []struct {
		name string
		hunk Hunk
	}{
		{"end beyond file", Hunk{Op: OpReplace, StartLine: 4, EndLine: 10}},
		{"inverted range", Hunk{Op: OpDelete, StartLine: 3, EndLine: 2}},
		{"zero start", Hunk{Op: OpReplace, StartLine: 0, EndLine: 1}},
		{"insert beyond end+1", Hunk{Op: OpInsert, StartLine: 8}},
		{"unknown op", Hunk{Op: "merge", StartLine: 1, EndLine: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := &FileDiff{Path: "a.ts", Hunks: []Hunk{tt.hunk}}
			if _, err := Apply(sample, diff, Options{}); err == nil {
				t.Error("expected bounds error")
			}
		})
	}

	// Inserting right after the last line is legal.
	diff := &FileDiff{Path: "a.ts", Hunks: []Hunk{{Op: OpInsert, StartLine: 6, NewContent: "// end"}}}
	if _, err := Apply(sample, diff, Options{}); err != nil {
		t.Errorf("append insert rejected: %v", err)
	}
}

func TestOverlapDetection(t *testing.T) {
	tests := []struct {
		name    string
		hunks   []Hunk
		wantErr bool
	}{
		{
			"overlapping replaces",
			[]Hunk{
				{Op: OpReplace, StartLine: 1, EndLine: 3},
				{Op: OpReplace, StartLine: 3, EndLine: 4},
			},
			true,
		},
		{
			"two inserts at same line",
			[]Hunk{
				{Op: OpInsert, StartLine: 2},
				{Op: OpInsert, StartLine: 2},
			},
			true,
		},
		{
			"disjoint hunks",
			[]Hunk{
				{Op: OpReplace, StartLine: 1, EndLine: 1},
				{Op: OpDelete, StartLine: 4, EndLine: 4},
			},
			false,
		},
		{
			"inserts at different lines",
			[]Hunk{
				{Op: OpInsert, StartLine: 1},
				{Op: OpInsert, StartLine: 3},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := &FileDiff{Path: "a.ts", Hunks: tt.hunks}
			_, err := Apply(sample, diff, Options{})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEditableScope(t *testing.T) {
	diff := &FileDiff{
		Path:  "lib/secrets.ts",
		Hunks: []Hunk{{Op: OpDelete, StartLine: 1, EndLine: 1}},
	}
	opts := Options{Editable: []string{"app/", "components/"}}

	if _, err := Apply(sample, diff, opts); err == nil {
		t.Error("out-of-scope path applied")
	}

	diff.Path = "app/page.tsx"
	if _, err := Apply(sample, diff, opts); err != nil {
		t.Errorf("in-scope path rejected: %v", err)
	}
}

func TestRewriteWarning(t *testing.T) {
	diff := &FileDiff{
		Path: "app/page.tsx",
		Hunks: []Hunk{
			{Op: OpReplace, StartLine: 1, EndLine: 4, NewContent: "export default null;"},
		},
	}
	result, err := Apply(sample, diff, Options{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.RewriteWarning == "" {
		t.Error("rewriting 4 of 5 lines should warn")
	}

	small := &FileDiff{
		Path:  "app/page.tsx",
		Hunks: []Hunk{{Op: OpReplace, StartLine: 1, EndLine: 1, NewContent: "import React from 'react';"}},
	}
	result, err = Apply(sample, small, Options{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.RewriteWarning != "" {
		t.Errorf("small edit warned: %s", result.RewriteWarning)
	}
}

func TestQuickValidate(t *testing.T) {
	diff := &FileDiff{
		Path:  "app/page.tsx",
		Hunks: []Hunk{{Op: OpReplace, StartLine: 2, EndLine: 3}},
	}

	if err := QuickValidate(diff, nil, true, 5); err != nil {
		t.Errorf("valid diff rejected: %v", err)
	}
	if err := QuickValidate(diff, nil, false, 5); err == nil {
		t.Error("missing file accepted")
	}
	if err := QuickValidate(diff, nil, true, 2); err == nil {
		t.Error("out-of-bounds diff accepted")
	}
	if err := QuickValidate(diff, []string{"lib/"}, true, 5); err == nil {
		t.Error("out-of-scope diff accepted")
	}
}
