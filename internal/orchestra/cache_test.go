package orchestra

import (
	"testing"
	"time"

	"github.com/antonk9218/fl-bidder/internal/ai"

	"go.uber.org/zap"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(t.TempDir(), time.Hour, zap.NewNop())

	key := Key(`{"id":1}`, "prompt")
	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache returned a hit")
	}

	want := &ai.ScoreResult{Score: 7.5, Reason: "solid", SuggestedBid: 250}
	c.Set(key, want)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if got.Score != want.Score || got.Reason != want.Reason || got.SuggestedBid != want.SuggestedBid {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(t.TempDir(), time.Hour, zap.NewNop())

	key := Key(`{"id":2}`, "prompt")
	c.Set(key, &ai.ScoreResult{Score: 5})

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok := c.Get(key); ok {
		t.Fatal("expired entry returned a hit")
	}
}

func TestCachePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	first := NewCache(dir, time.Hour, zap.NewNop())
	key := Key(`{"id":3}`, "prompt")
	first.Set(key, &ai.ScoreResult{Score: 9.1, Reason: "keeper"})

	second := NewCache(dir, time.Hour, zap.NewNop())
	got, ok := second.Get(key)
	if !ok {
		t.Fatal("reloaded cache lost the entry")
	}
	if got.Score != 9.1 {
		t.Fatalf("score = %v, want 9.1", got.Score)
	}
}

func TestKeyChangesWithPrompt(t *testing.T) {
	payload := `{"id":4}`
	if Key(payload, "prompt v1") == Key(payload, "prompt v2") {
		t.Fatal("prompt change did not invalidate the key")
	}
	if Key(payload, "prompt v1") != Key(payload, "prompt v1") {
		t.Fatal("key is not deterministic")
	}
}
