package memory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

// MarkdownLoader seeds the memory store from markdown files. Each list
// item becomes one entry, prefixed with its nearest heading so retrieval
// keeps the topic.
type MarkdownLoader struct {
	manager *Manager
	logger  *zap.Logger
}

func NewMarkdownLoader(manager *Manager, logger *zap.Logger) *MarkdownLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkdownLoader{manager: manager, logger: logger.Named("memory.markdown")}
}

// LoadDir walks dir for .md files and remembers every parsed entry.
// Returns the number of entries stored.
func (l *MarkdownLoader) LoadDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		n, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Warn("skipping memory file", zap.String("path", path), zap.Error(err))
			return nil
		}
		total += n
		return nil
	})
	return total, err
}

// LoadFile parses one markdown file into memory entries.
func (l *MarkdownLoader) LoadFile(ctx context.Context, path string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	entries := ParseMarkdownEntries(src)
	stored := 0
	for _, content := range entries {
		if _, err := l.manager.Remember(ctx, content, map[string]any{
			"source": path,
			"kind":   "markdown",
		}); err != nil {
			l.logger.Warn("failed to store markdown memory", zap.Error(err))
			continue
		}
		stored++
	}
	l.logger.Info("loaded memory file", zap.String("path", path), zap.Int("entries", stored))
	return stored, nil
}

// ParseMarkdownEntries walks the goldmark AST collecting list items under
// their headings. "## Preferences" + "- dark mode" yields
// "Preferences: dark mode".
func ParseMarkdownEntries(src []byte) []string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var entries []string
	heading := ""

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			heading = strings.TrimSpace(nodeText(n, src))
		case *ast.List:
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				content := strings.TrimSpace(nodeText(item, src))
				if content == "" {
					continue
				}
				if heading != "" {
					content = heading + ": " + content
				}
				entries = append(entries, content)
			}
		}
	}
	return entries
}

// nodeText flattens a node's inline text content.
func nodeText(node ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			if t, ok := child.(*ast.Text); ok {
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteString(" ")
				}
				continue
			}
			walk(child)
		}
	}
	walk(node)
	return buf.String()
}
