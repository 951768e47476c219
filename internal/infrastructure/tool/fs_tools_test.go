package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestReadTool_WindowsFile(t *testing.T) {
	root := t.TempDir()
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		sb.WriteString("line")
		sb.WriteString(strings.Repeat("x", i))
		sb.WriteString("\n")
	}
	writeTestFile(t, root, "notes.txt", sb.String())

	res, err := NewReadTool(root).Execute(context.Background(), map[string]any{
		"file_path": "notes.txt",
		"offset":    float64(3),
		"limit":     float64(2),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if !strings.Contains(res.Output, "     3\tlinexxx\n") {
		t.Errorf("missing numbered line 3:\n%s", res.Output)
	}
	if strings.Contains(res.Output, "linexxxxx\n") && strings.Contains(res.Output, "     5\t") {
		t.Errorf("line past the window leaked:\n%s", res.Output)
	}
	if !strings.Contains(res.Output, "more lines") {
		t.Errorf("missing continuation marker:\n%s", res.Output)
	}
}

func TestReadTool_MissingFile(t *testing.T) {
	res, err := NewReadTool(t.TempDir()).Execute(context.Background(), map[string]any{
		"file_path": "missing.txt",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "file not found") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestWriteTool_CreatesParentDirectories(t *testing.T) {
	root := t.TempDir()

	res, err := NewWriteTool(root).Execute(context.Background(), map[string]any{
		"file_path": "a/b/config.yaml",
		"content":   "key: value\n",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(root, "a/b/config.yaml"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "key: value\n" {
		t.Errorf("content = %q", data)
	}
}

func TestEditTool_ReplacesUniqueString(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	res, err := NewEditTool(root).Execute(context.Background(), map[string]any{
		"file_path":  "main.go",
		"old_string": "func main() {}",
		"new_string": "func main() { run() }",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}

	data, _ := os.ReadFile(filepath.Join(root, "main.go"))
	if !strings.Contains(string(data), "{ run() }") {
		t.Errorf("edit not applied: %q", data)
	}
}

func TestEditTool_AmbiguousMatchNeedsReplaceAll(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "dup.txt", "same\nsame\n")

	edit := NewEditTool(root)

	res, err := edit.Execute(context.Background(), map[string]any{
		"file_path":  "dup.txt",
		"old_string": "same",
		"new_string": "different",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("ambiguous edit should fail")
	}
	if !strings.Contains(res.Error, "matches 2 times") {
		t.Errorf("error = %q", res.Error)
	}

	res, err = edit.Execute(context.Background(), map[string]any{
		"file_path":   "dup.txt",
		"old_string":  "same",
		"new_string":  "different",
		"replace_all": true,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("replace_all failed: %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(root, "dup.txt"))
	if string(data) != "different\ndifferent\n" {
		t.Errorf("content = %q", data)
	}
}

func TestEditTool_OldStringMissing(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "hello\n")

	res, err := NewEditTool(root).Execute(context.Background(), map[string]any{
		"file_path":  "f.txt",
		"old_string": "goodbye",
		"new_string": "farewell",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "not found") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestWorkspaceConfinement(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "inside.txt", "ok\n")

	read := NewReadTool(root)

	res, err := read.Execute(context.Background(), map[string]any{
		"file_path": "../../../etc/passwd",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("escape should fail")
	}
	if !strings.Contains(res.Error, "outside the workspace") {
		t.Errorf("error = %q", res.Error)
	}

	// Absolute paths are fine as long as they stay inside.
	res, err = read.Execute(context.Background(), map[string]any{
		"file_path": filepath.Join(root, "inside.txt"),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("absolute in-root path rejected: %+v", res)
	}
}

func TestLsTool_DirectoriesFirst(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "zz.txt", "")
	writeTestFile(t, root, "aa.txt", "")
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res, err := NewLsTool(root).Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	lines := strings.Split(strings.TrimSpace(res.Output), "\n")
	want := []string{"sub/", "aa.txt", "zz.txt"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v", lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestGlobTool_DoubleStar(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "root.go", "package main\n")
	writeTestFile(t, root, "a/x.go", "package a\n")
	writeTestFile(t, root, "a/b/c.go", "package b\n")
	writeTestFile(t, root, "a/readme.txt", "hi\n")

	res, err := NewGlobTool(root).Execute(context.Background(), map[string]any{
		"pattern": "**/*.go",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	got := strings.Fields(res.Output)
	want := []string{"a/b/c.go", "a/x.go", "root.go"}
	if len(got) != len(want) {
		t.Fatalf("matches = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("match %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGlobTool_BareNameMatchesAnyDepth(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "top.txt", "")
	writeTestFile(t, root, "sub/deep.txt", "")
	writeTestFile(t, root, "sub/deep.go", "")

	res, err := NewGlobTool(root).Execute(context.Background(), map[string]any{
		"pattern": "*.txt",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	got := strings.Fields(res.Output)
	if len(got) != 2 || got[0] != "sub/deep.txt" || got[1] != "top.txt" {
		t.Errorf("matches = %v", got)
	}
}

func TestGlobTool_NoMatches(t *testing.T) {
	res, err := NewGlobTool(t.TempDir()).Execute(context.Background(), map[string]any{
		"pattern": "*.rs",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("no matches is not an error: %+v", res)
	}
	if !strings.Contains(res.Output, "No files match") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestGrepTool_FindsMatchesWithLineNumbers(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n\nvar Alpha = 1\n")
	writeTestFile(t, root, "b.txt", "alpha prose\n")

	res, err := NewGrepTool(root).Execute(context.Background(), map[string]any{
		"pattern": "Alpha",
		"include": "*.go",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if !strings.Contains(res.Output, "a.go:3:var Alpha = 1") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "b.txt") {
		t.Errorf("include filter ignored: %q", res.Output)
	}
}

func TestGrepTool_CaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "ALPHA\n")

	res, err := NewGrepTool(root).Execute(context.Background(), map[string]any{
		"pattern":          "alpha",
		"case_insensitive": true,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Output, "f.txt:1:ALPHA") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestGrepTool_NoMatches(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "nothing here\n")

	res, err := NewGrepTool(root).Execute(context.Background(), map[string]any{
		"pattern": "absent",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("no matches is not an error: %+v", res)
	}
	if res.Output != "No matches found" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestGrepTool_InvalidPattern(t *testing.T) {
	res, err := NewGrepTool(t.TempDir()).Execute(context.Background(), map[string]any{
		"pattern": "([unclosed",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "invalid pattern") {
		t.Errorf("error = %q", res.Error)
	}
}
