package chatclient

import (
	"reflect"
	"testing"
	"time"
)

func msg(id, text string, user bool, kind Kind) ChatMessage {
	return ChatMessage{
		ID:            id,
		Text:          text,
		IsUserMessage: user,
		CreatedAt:     time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC),
		Kind:          kind,
	}
}

func TestPatchFirstPage_BootstrapsEmptyPageSet(t *testing.T) {
	cache := NewPageCache()

	cache.PatchFirstPage(func(p Page) Page {
		p.Messages = append([]ChatMessage{msg("opt-1", "hi", true, KindOptimistic)}, p.Messages...)
		return p
	})

	pages := cache.Pages()
	if len(pages) != 1 || len(pages[0].Messages) != 1 {
		t.Fatalf("expected bootstrapped single page with one message, got %+v", pages)
	}
	if pages[0].Messages[0].ID != "opt-1" {
		t.Fatalf("unexpected message: %+v", pages[0].Messages[0])
	}
}

func TestSnapshotAndReplaceFirstPage_RestoresByteForByte(t *testing.T) {
	cache := NewPageCache()
	cache.ReplaceAll([]Page{{
		Messages:   []ChatMessage{msg("m2", "two", false, KindPersisted), msg("m1", "one", true, KindPersisted)},
		NextCursor: "m0",
	}})

	snapshot := cache.SnapshotFirstPage()
	before := cache.Pages()[0]

	cache.PatchFirstPage(func(p Page) Page {
		p.Messages = append([]ChatMessage{msg("opt", "oops", true, KindOptimistic)}, p.Messages...)
		return p
	})
	if len(cache.Pages()[0].Messages) != 3 {
		t.Fatalf("optimistic insert did not apply")
	}

	cache.ReplaceFirstPage(snapshot)
	after := cache.Pages()[0]
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rollback not byte-for-byte:\nbefore: %+v\nafter:  %+v", before, after)
	}
}

func TestSnapshot_IsIsolatedFromLaterMutations(t *testing.T) {
	cache := NewPageCache()
	cache.ReplaceAll([]Page{{Messages: []ChatMessage{msg("m1", "one", true, KindPersisted)}}})

	snapshot := cache.SnapshotFirstPage()
	cache.PatchFirstPage(func(p Page) Page {
		p.Messages[0].Text = "mutated"
		return p
	})

	if snapshot.Messages[0].Text != "one" {
		t.Fatalf("snapshot was mutated through the cache: %q", snapshot.Messages[0].Text)
	}
}

func TestAppendPageAfter_RejectsStaleCursor(t *testing.T) {
	cache := NewPageCache()
	cache.ReplaceAll([]Page{{
		Messages:   []ChatMessage{msg("m5", "five", true, KindPersisted)},
		NextCursor: "m4",
	}})

	if !cache.AppendPageAfter("m4", Page{Messages: []ChatMessage{msg("m4", "four", false, KindPersisted)}}) {
		t.Fatalf("append with matching cursor should succeed")
	}
	// 末页游标已变，用旧游标重复追加被拒绝
	if cache.AppendPageAfter("m4", Page{Messages: []ChatMessage{msg("m4", "dup", false, KindPersisted)}}) {
		t.Fatalf("stale append should be rejected")
	}
	if len(cache.Pages()) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(cache.Pages()))
	}
}

func TestAppendPageAfter_RejectedAfterInvalidate(t *testing.T) {
	cache := NewPageCache()
	cache.ReplaceAll([]Page{{
		Messages:   []ChatMessage{msg("m5", "five", true, KindPersisted)},
		NextCursor: "m4",
	}})

	cache.Invalidate()
	if cache.AppendPageAfter("m4", Page{Messages: []ChatMessage{msg("m4", "four", false, KindPersisted)}}) {
		t.Fatalf("append into invalidated cache should be rejected")
	}
	if cache.Primed() {
		t.Fatalf("cache should stay unprimed until authoritative refill")
	}
}

func TestInvalidate_KeepsPagesUntilAuthoritativeRefill(t *testing.T) {
	cache := NewPageCache()
	cache.ReplaceAll([]Page{{
		Messages: []ChatMessage{msg("m6", "six", true, KindPersisted)},
	}})

	cache.Invalidate()
	// 失效只是打标记，回源到达前读取方仍看到原有内容
	pages := cache.Pages()
	if len(pages) != 1 || len(pages[0].Messages) != 1 || pages[0].Messages[0].ID != "m6" {
		t.Fatalf("invalidate discarded pages: %+v", pages)
	}

	cache.ReplaceAll([]Page{{
		Messages: []ChatMessage{msg("m7", "seven", false, KindPersisted)},
	}})
	pages = cache.Pages()
	if len(pages) != 1 || pages[0].Messages[0].ID != "m7" {
		t.Fatalf("authoritative refill did not replace pages: %+v", pages)
	}
	if !cache.Primed() {
		t.Fatalf("cache should be primed after refill")
	}
}

func TestVersion_IncrementsOnEveryWrite(t *testing.T) {
	cache := NewPageCache()
	v0 := cache.Version()

	cache.PatchFirstPage(func(p Page) Page { return p })
	v1 := cache.Version()
	if v1 <= v0 {
		t.Fatalf("version did not advance on patch")
	}

	cache.Invalidate()
	if cache.Version() <= v1 {
		t.Fatalf("version did not advance on invalidate")
	}
}
