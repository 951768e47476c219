package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// === Vector Store Tests ===

func TestInMemoryVectorStore(t *testing.T) {
	store := NewInMemoryVectorStore()
	ctx := context.Background()

	t.Run("Insert and Search", func(t *testing.T) {
		entry := &Entry{
			ID:        "m1",
			Content:   "gateway listens on 8082",
			Embedding: []float32{1.0, 0.0, 0.0},
			SessionID: "s1",
			CreatedAt: time.Now(),
		}
		if err := store.Insert(ctx, entry); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		results, err := store.Search(ctx, []float32{0.9, 0.1, 0.0}, 10, nil)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
		if results[0].ID != "m1" {
			t.Errorf("Expected ID m1, got %s", results[0].ID)
		}
		if results[0].Score <= 0 {
			t.Error("Score should be positive")
		}
	})

	t.Run("Filter by session", func(t *testing.T) {
		store.Insert(ctx, &Entry{
			ID: "sess-a", Content: "a", Embedding: []float32{1, 0, 0}, SessionID: "a",
		})
		store.Insert(ctx, &Entry{
			ID: "sess-b", Content: "b", Embedding: []float32{1, 0, 0}, SessionID: "b",
		})

		results, _ := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{SessionID: "b"})
		for _, r := range results {
			if r.SessionID != "b" {
				t.Errorf("Got entry from wrong session: %s", r.SessionID)
			}
		}
	})

	t.Run("MinScore filter drops weak matches", func(t *testing.T) {
		store.Insert(ctx, &Entry{
			ID: "weak", Content: "weak", Embedding: []float32{0, 0, 1},
		})
		results, _ := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{MinScore: 0.5})
		for _, r := range results {
			if r.ID == "weak" {
				t.Error("Orthogonal entry survived MinScore filter")
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store.Insert(ctx, &Entry{
			ID: "gone", Content: "gone", Embedding: []float32{0, 1, 0},
		})
		if err := store.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		results, _ := store.Search(ctx, []float32{0, 1, 0}, 10, nil)
		for _, r := range results {
			if r.ID == "gone" {
				t.Error("Deleted entry should not appear in search")
			}
		}
	})

	t.Run("BySession", func(t *testing.T) {
		store.Insert(ctx, &Entry{
			ID: "sm", Content: "session memory", Embedding: []float32{0.5, 0.5, 0}, SessionID: "sx",
		})
		results, err := store.BySession(ctx, "sx")
		if err != nil {
			t.Fatalf("BySession failed: %v", err)
		}
		found := false
		for _, r := range results {
			if r.ID == "sm" {
				found = true
			}
		}
		if !found {
			t.Error("Should find session entry")
		}
	})
}

// === Embedder Tests ===

func TestHashEmbedder(t *testing.T) {
	embedder := NewHashEmbedder(128)
	ctx := context.Background()

	t.Run("Dimension", func(t *testing.T) {
		if embedder.Dimension() != 128 {
			t.Errorf("Dimension = %d, want 128", embedder.Dimension())
		}
	})

	t.Run("Normalised and deterministic", func(t *testing.T) {
		first, err := embedder.Embed(ctx, "hello world")
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(first) != 128 {
			t.Fatalf("Embedding length = %d, want 128", len(first))
		}
		var norm float32
		for _, v := range first {
			norm += v * v
		}
		if norm < 0.99 || norm > 1.01 {
			t.Errorf("Embedding norm = %f, want ~1.0", norm)
		}

		second, _ := embedder.Embed(ctx, "hello world")
		for i := range first {
			if first[i] != second[i] {
				t.Fatal("Embedding not deterministic")
			}
		}
	})

	t.Run("Similar texts score closer", func(t *testing.T) {
		a, _ := embedder.Embed(ctx, "hello world")
		b, _ := embedder.Embed(ctx, "hello there")
		c, _ := embedder.Embed(ctx, "goodbye universe")

		if CosineSimilarity(a, b) <= CosineSimilarity(a, c) {
			t.Error("Expected overlapping words to score higher")
		}
	})
}

// === Manager Tests ===

func TestManagerRememberRecall(t *testing.T) {
	manager := NewManager(NewInMemoryVectorStore(), NewHashEmbedder(64))
	ctx := context.Background()

	entry, err := manager.Remember(ctx, "the user prefers dark mode", map[string]any{
		"session_id": "s1",
	})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("Entry should have an ID")
	}
	if entry.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", entry.SessionID)
	}

	results, err := manager.Recall(ctx, "which mode does the user prefer", 5, nil)
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Should recall at least one memory")
	}

	texts, err := manager.Retrieve(ctx, "dark mode", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(texts) == 0 || texts[0] != "the user prefers dark mode" {
		t.Fatalf("Retrieve texts = %v", texts)
	}
}

func TestManagerRejectsEmptyContent(t *testing.T) {
	manager := NewManager(NewInMemoryVectorStore(), NewHashEmbedder(16))
	if _, err := manager.Remember(context.Background(), "   ", nil); err == nil {
		t.Fatal("empty memory should be rejected")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float32
	}{
		{"Identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"Orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"Opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"Mismatched dims", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if got < tt.want-0.01 || got > tt.want+0.01 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

// === Markdown Loader Tests ===

func TestParseMarkdownEntries(t *testing.T) {
	src := []byte(`# Project Notes

## Preferences
- dark mode
- tabs over spaces

## Infrastructure
- database is sqlite at data/gateway.db

Some prose that is not a list item.

- orphan item
`)

	entries := ParseMarkdownEntries(src)
	want := []string{
		"Preferences: dark mode",
		"Preferences: tabs over spaces",
		"Infrastructure: database is sqlite at data/gateway.db",
		"Infrastructure: orphan item",
	}
	if len(entries) != len(want) {
		t.Fatalf("parsed %d entries, want %d: %v", len(entries), len(want), entries)
	}
	for i, w := range want {
		if entries[i] != w {
			t.Errorf("entry %d = %q, want %q", i, entries[i], w)
		}
	}
}

func TestMarkdownLoaderStoresEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	content := "## Facts\n- the gateway speaks the messages api\n- sessions cap at 100 turns\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	manager := NewManager(NewInMemoryVectorStore(), NewHashEmbedder(32))
	loader := NewMarkdownLoader(manager, nil)

	n, err := loader.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("stored %d entries, want 2", n)
	}

	texts, err := manager.Retrieve(context.Background(), "how many turns do sessions keep", 2)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(texts) == 0 {
		t.Fatal("loaded memories not retrievable")
	}
}
