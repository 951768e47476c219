package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/domain/entity"
	domaintool "github.com/modelgate/modelgate/internal/domain/tool"
)

func readCall(id, path string) entity.ToolCall {
	return entity.ToolCall{
		ID:        id,
		Name:      "Read",
		Arguments: map[string]any{"file_path": path},
	}
}

// === Hit and miss ===

func TestToolResultCache_HitAndMiss(t *testing.T) {
	cache := NewToolResultCache(time.Minute, 10)

	call := readCall("call_1", "a.txt")
	if _, ok := cache.Get(call); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Put(call, entity.ToolResult{ID: call.ID, Name: "Read", OK: true, Content: "XYZ"})

	res, ok := cache.Get(call)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if res.Content != "XYZ" {
		t.Errorf("Content: got %q, want %q", res.Content, "XYZ")
	}

	// Different arguments are a different entry.
	if _, ok := cache.Get(readCall("call_2", "b.txt")); ok {
		t.Error("different arguments should miss")
	}
}

// === Replay restamps the call id ===

func TestToolResultCache_RestampsID(t *testing.T) {
	cache := NewToolResultCache(time.Minute, 10)

	first := readCall("call_1", "a.txt")
	cache.Put(first, entity.ToolResult{ID: first.ID, Name: "Read", OK: true, Content: "XYZ"})

	replay := readCall("call_9", "a.txt")
	res, ok := cache.Get(replay)
	if !ok {
		t.Fatal("identical arguments should hit regardless of call id")
	}
	if res.ID != "call_9" {
		t.Errorf("replayed result must carry the new call id, got %q", res.ID)
	}
}

// === Expiry ===

func TestToolResultCache_Expiry(t *testing.T) {
	cache := NewToolResultCache(10*time.Millisecond, 10)

	call := readCall("call_1", "a.txt")
	cache.Put(call, entity.ToolResult{ID: call.ID, OK: true, Content: "XYZ"})

	time.Sleep(20 * time.Millisecond)

	if _, ok := cache.Get(call); ok {
		t.Error("expected miss after TTL")
	}
	if cache.Size() != 0 {
		t.Errorf("expired entry should be removed, size=%d", cache.Size())
	}
}

// === Eviction ===

func TestToolResultCache_EvictsOldest(t *testing.T) {
	cache := NewToolResultCache(time.Minute, 3)

	for i := 0; i < 3; i++ {
		call := readCall("c", fmt.Sprintf("%d.txt", i))
		cache.Put(call, entity.ToolResult{OK: true, Content: fmt.Sprintf("%d", i)})
		time.Sleep(2 * time.Millisecond)
	}
	if cache.Size() != 3 {
		t.Fatalf("size: got %d, want 3", cache.Size())
	}

	cache.Put(readCall("c", "3.txt"), entity.ToolResult{OK: true, Content: "3"})

	if cache.Size() != 3 {
		t.Errorf("size after eviction: got %d, want 3", cache.Size())
	}
	if _, ok := cache.Get(readCall("c", "0.txt")); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := cache.Get(readCall("c", "3.txt")); !ok {
		t.Error("newest entry should be present")
	}
}

// === Cacheable kinds ===

func TestToolResultCache_Cacheable(t *testing.T) {
	cache := NewToolResultCache(time.Minute, 10)

	tests := []struct {
		kind      domaintool.Kind
		cacheable bool
	}{
		{domaintool.KindRead, true},
		{domaintool.KindSearch, true},
		{domaintool.KindFetch, true},
		{domaintool.KindEdit, false},
		{domaintool.KindExecute, false},
		{domaintool.KindDelete, false},
		{domaintool.KindThink, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cache.Cacheable(tt.kind); got != tt.cacheable {
			t.Errorf("Cacheable(%q): got %v, want %v", tt.kind, got, tt.cacheable)
		}
	}
}

// === Defaults and Clear ===

func TestToolResultCache_DefaultsAndClear(t *testing.T) {
	cache := NewToolResultCache(0, 0)

	call := readCall("call_1", "a.txt")
	cache.Put(call, entity.ToolResult{OK: true, Content: "XYZ"})
	if _, ok := cache.Get(call); !ok {
		t.Fatal("zero-value construction should still cache")
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("size after Clear: got %d, want 0", cache.Size())
	}
	if _, ok := cache.Get(call); ok {
		t.Error("expected miss after Clear")
	}
}
