package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

const (
	defaultReadLimit = 2000 // lines per Read call
	maxGlobMatches   = 200
	maxGrepMatches   = 100
	maxGrepLineLen   = 250
	maxGrepFileSize  = 1 << 20 // skip files larger than 1 MiB
	maxLsEntries     = 500
)

// workspace confines the file tools to a root directory. Relative paths
// resolve against it; absolute paths must already be inside it.
type workspace struct {
	root string
}

func newWorkspace(root string) workspace {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return workspace{root: filepath.Clean(abs)}
}

func (w workspace) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	return abs, nil
}

func (w workspace) relative(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// Argument coercion helpers. Providers deliver numbers as float64 and may
// stringify anything; handlers stay tolerant.

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := args[key].(type) {
		case nil:
			continue
		case string:
			return v
		default:
			// A re-parsed JSON leaf; serialise it back to text.
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(b)
		}
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	}
	return false
}

func failure(format string, a ...any) (*domaintool.Result, error) {
	return &domaintool.Result{Success: false, Error: fmt.Sprintf(format, a...)}, nil
}

// ReadTool returns file contents with line numbers, windowed by offset
// and limit.
type ReadTool struct {
	ws workspace
}

func NewReadTool(root string) *ReadTool {
	return &ReadTool{ws: newWorkspace(root)}
}

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Returns numbered lines. Use offset and limit for large files."
}

func (t *ReadTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the file, relative to the workspace"},
			"offset":    map[string]any{"type": "number", "description": "1-based line to start from"},
			"limit":     map[string]any{"type": "number", "description": "Maximum lines to return (default 2000)"},
		},
		"required": []any{"file_path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	abs, err := t.ws.resolve(stringArg(args, "file_path", "path"))
	if err != nil {
		return failure("%v", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return failure("file not found: %s", t.ws.relative(abs))
		}
		return failure("read %s: %v", t.ws.relative(abs), err)
	}

	lines := strings.Split(string(data), "\n")
	// A trailing newline is a line terminator, not an extra empty line.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	if total == 0 {
		return &domaintool.Result{
			Success:  true,
			Output:   "(empty file)",
			Metadata: map[string]any{"path": t.ws.relative(abs), "totalLines": 0},
		}, nil
	}

	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", defaultReadLimit)
	if limit <= 0 {
		limit = defaultReadLimit
	}

	if offset > total {
		return failure("offset %d is past the end of %s (%d lines)", offset, t.ws.relative(abs), total)
	}
	end := offset - 1 + limit
	if end > total {
		end = total
	}

	var sb strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	if end < total {
		fmt.Fprintf(&sb, "... (%d more lines)\n", total-end)
	}

	return &domaintool.Result{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"path":       t.ws.relative(abs),
			"totalLines": total,
		},
	}, nil
}

// WriteTool creates or overwrites a file, creating parent directories.
type WriteTool struct {
	ws workspace
}

func NewWriteTool(root string) *WriteTool {
	return &WriteTool{ws: newWorkspace(root)}
}

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Kind() domaintool.Kind { return domaintool.KindEdit }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace, overwriting it if it exists."
}

func (t *WriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the file, relative to the workspace"},
			"content":   map[string]any{"type": "string", "description": "Full file content"},
		},
		"required": []any{"file_path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	abs, err := t.ws.resolve(stringArg(args, "file_path", "path"))
	if err != nil {
		return failure("%v", err)
	}
	content := stringArg(args, "content")

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failure("create parent directory: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return failure("write %s: %v", t.ws.relative(abs), err)
	}

	return &domaintool.Result{
		Success: true,
		Output:  fmt.Sprintf("Wrote %d bytes to %s", len(content), t.ws.relative(abs)),
		Metadata: map[string]any{
			"path":  t.ws.relative(abs),
			"bytes": len(content),
		},
	}, nil
}

// EditTool replaces an exact string in a file. The target must be unique
// unless replace_all is set.
type EditTool struct {
	ws workspace
}

func NewEditTool(root string) *EditTool {
	return &EditTool{ws: newWorkspace(root)}
}

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Kind() domaintool.Kind { return domaintool.KindEdit }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. old_string must match exactly once unless replace_all is true."
}

func (t *EditTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":   map[string]any{"type": "string", "description": "Path to the file, relative to the workspace"},
			"old_string":  map[string]any{"type": "string", "description": "Exact text to replace"},
			"new_string":  map[string]any{"type": "string", "description": "Replacement text"},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence"},
		},
		"required": []any{"file_path", "old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	abs, err := t.ws.resolve(stringArg(args, "file_path", "path"))
	if err != nil {
		return failure("%v", err)
	}
	oldStr := stringArg(args, "old_string")
	newStr := stringArg(args, "new_string")
	if oldStr == "" {
		return failure("old_string is required")
	}
	if oldStr == newStr {
		return failure("old_string and new_string are identical")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return failure("file not found: %s", t.ws.relative(abs))
		}
		return failure("read %s: %v", t.ws.relative(abs), err)
	}
	content := string(data)

	count := strings.Count(content, oldStr)
	if count == 0 {
		return failure("old_string not found in %s", t.ws.relative(abs))
	}
	if count > 1 && !boolArg(args, "replace_all") {
		return failure("old_string matches %d times in %s; provide more context or set replace_all", count, t.ws.relative(abs))
	}

	replaced := count
	if boolArg(args, "replace_all") {
		content = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		content = strings.Replace(content, oldStr, newStr, 1)
		replaced = 1
	}

	info, statErr := os.Stat(abs)
	mode := fs.FileMode(0o644)
	if statErr == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(abs, []byte(content), mode); err != nil {
		return failure("write %s: %v", t.ws.relative(abs), err)
	}

	return &domaintool.Result{
		Success: true,
		Output:  fmt.Sprintf("Edited %s (%d replacement(s))", t.ws.relative(abs), replaced),
		Metadata: map[string]any{
			"path":         t.ws.relative(abs),
			"replacements": replaced,
		},
	}, nil
}

// LsTool lists a directory, directories first with a trailing slash.
type LsTool struct {
	ws workspace
}

func NewLsTool(root string) *LsTool {
	return &LsTool{ws: newWorkspace(root)}
}

func (t *LsTool) Name() string { return "Ls" }

func (t *LsTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *LsTool) Description() string {
	return "List the entries of a workspace directory."
}

func (t *LsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to list, relative to the workspace (default: workspace root)"},
		},
	}
}

func (t *LsTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	target := stringArg(args, "path", "file_path")
	if strings.TrimSpace(target) == "" {
		target = "."
	}
	abs, err := t.ws.resolve(target)
	if err != nil {
		return failure("%v", err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return failure("directory not found: %s", t.ws.relative(abs))
		}
		return failure("list %s: %v", t.ws.relative(abs), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := strings.HasSuffix(names[i], "/"), strings.HasSuffix(names[j], "/")
		if di != dj {
			return di
		}
		return names[i] < names[j]
	})

	truncated := false
	if len(names) > maxLsEntries {
		names = names[:maxLsEntries]
		truncated = true
	}

	var sb strings.Builder
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	if truncated {
		fmt.Fprintf(&sb, "... (%d entries total)\n", len(entries))
	}
	if len(entries) == 0 {
		sb.WriteString("(empty directory)\n")
	}

	return &domaintool.Result{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"path":    t.ws.relative(abs),
			"entries": len(entries),
		},
	}, nil
}

// GlobTool matches files against a pattern with ** support, like
// `internal/**/*.go`.
type GlobTool struct {
	ws workspace
}

func NewGlobTool(root string) *GlobTool {
	return &GlobTool{ws: newWorkspace(root)}
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern. ** matches any number of directories."
}

func (t *GlobTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
			"path":    map[string]any{"type": "string", "description": "Directory to search from (default: workspace root)"},
		},
		"required": []any{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	pattern := strings.TrimSpace(stringArg(args, "pattern"))
	if pattern == "" {
		return failure("pattern is required")
	}

	base := stringArg(args, "path")
	if strings.TrimSpace(base) == "" {
		base = "."
	}
	abs, err := t.ws.resolve(base)
	if err != nil {
		return failure("%v", err)
	}

	var matches []string
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return nil
		}
		if matchGlob(pattern, filepath.ToSlash(rel)) {
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return failure("glob walk: %v", walkErr)
	}

	sort.Strings(matches)
	total := len(matches)
	truncated := false
	if total > maxGlobMatches {
		matches = matches[:maxGlobMatches]
		truncated = true
	}

	if total == 0 {
		return &domaintool.Result{Success: true, Output: "No files match " + pattern}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(m)
		sb.WriteByte('\n')
	}
	if truncated {
		fmt.Fprintf(&sb, "... (%d matches total)\n", total)
	}

	return &domaintool.Result{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"matches": total,
		},
	}, nil
}

// matchGlob matches a slash-separated relative path against a pattern
// where ** spans directory levels and other segments use path.Match
// syntax. A pattern without a slash matches against the base name at any
// depth.
func matchGlob(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, path.Base(rel))
		return err == nil && ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], parts) {
			return true
		}
		return len(parts) > 0 && matchSegments(pat, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	ws workspace
}

func NewGrepTool(root string) *GrepTool {
	return &GrepTool{ws: newWorkspace(root)}
}

func (t *GrepTool) Name() string { return "Grep" }

func (t *GrepTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression. Returns path:line:text matches."
}

func (t *GrepTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern":          map[string]any{"type": "string", "description": "Regular expression to search for"},
			"path":             map[string]any{"type": "string", "description": "Directory or file to search (default: workspace root)"},
			"include":          map[string]any{"type": "string", "description": "Only search files whose name matches this glob, e.g. *.go"},
			"case_insensitive": map[string]any{"type": "boolean", "description": "Ignore case"},
		},
		"required": []any{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	patternText := stringArg(args, "pattern")
	if strings.TrimSpace(patternText) == "" {
		return failure("pattern is required")
	}
	if boolArg(args, "case_insensitive") {
		patternText = "(?i)" + patternText
	}
	re, err := regexp.Compile(patternText)
	if err != nil {
		return failure("invalid pattern: %v", err)
	}

	target := stringArg(args, "path")
	if strings.TrimSpace(target) == "" {
		target = "."
	}
	abs, err := t.ws.resolve(target)
	if err != nil {
		return failure("%v", err)
	}

	include := strings.TrimSpace(stringArg(args, "include"))

	var (
		sb      strings.Builder
		total   int
		scanned int
	)
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if include != "" {
			if ok, matchErr := path.Match(include, d.Name()); matchErr != nil || !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxGrepFileSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		scanned++
		rel := t.ws.relative(p)
		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			total++
			if total > maxGrepMatches {
				continue
			}
			if len(line) > maxGrepLineLen {
				line = line[:maxGrepLineLen] + "..."
			}
			fmt.Fprintf(&sb, "%s:%d:%s\n", rel, i+1, line)
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return failure("grep walk: %v", walkErr)
	}

	if total == 0 {
		return &domaintool.Result{Success: true, Output: "No matches found"}, nil
	}
	if total > maxGrepMatches {
		fmt.Fprintf(&sb, "... (%d matches total)\n", total)
	}

	return &domaintool.Result{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]any{
			"matches":      total,
			"filesScanned": scanned,
		},
	}, nil
}
