package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/penshort/shortlinker/internal/model"
)

func testConfig() Config {
	return Config{
		DefaultTTL:        time.Minute,
		NegativeTTL:       time.Minute,
		BloomCapacity:     1000,
		BloomFalsePosRate: 0.001,
	}
}

func newLink(code string) *model.ShortLink {
	return &model.ShortLink{ID: "id-" + code, Code: code, Target: "https://example.com/" + code, CreatedAt: time.Now()}
}

func TestCache_GetUnknownBeforeAnyInsert(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The bloom filter has never been primed by a Load, so it cannot rule
	// anything out yet: the caller must ask storage.
	if got := c.Get("never-seen"); got != Unknown {
		t.Errorf("expected Unknown before the bloom is primed, got %v", got)
	}
}

func TestCache_LoadKeepsExpiredCodesInBloom(t *testing.T) {
	c, _ := New(testConfig())
	past := time.Now().Add(-time.Hour)
	expired := newLink("old")
	expired.ExpiresAt = &past

	c.Load(map[string]*model.ShortLink{
		"old":  expired,
		"live": newLink("live"),
	})

	// the expired code is still registered: no object entry, but the
	// bloom filter must not rule it out.
	if got := c.Get("old"); got != Unknown {
		t.Errorf("expected Unknown for expired-but-registered code, got %v", got)
	}
	if _, ok := c.Peek("old"); ok {
		t.Error("expected no object-cache entry for the expired link")
	}
	if got := c.Get("live"); got != Found {
		t.Errorf("expected Found for live code, got %v", got)
	}
}

func TestCache_BloomShortCircuitsAfterLoad(t *testing.T) {
	c, _ := New(testConfig())
	c.Load(map[string]*model.ShortLink{"abc": newLink("abc")})

	if got := c.Get("abc"); got != Found {
		t.Fatalf("expected Found for loaded code, got %v", got)
	}
	if got := c.Get("never-seen"); got != KnownAbsent {
		t.Errorf("expected KnownAbsent via bloom after load, got %v", got)
	}
}

func TestCache_InsertThenGetFound(t *testing.T) {
	c, _ := New(testConfig())
	link := newLink("abc")
	c.Insert(link)

	if got := c.Get("abc"); got != Found {
		t.Fatalf("expected Found, got %v", got)
	}
	peeked, ok := c.Peek("abc")
	if !ok {
		t.Fatal("expected Peek to find the inserted link")
	}
	if peeked.Target != link.Target {
		t.Errorf("expected target %q, got %q", link.Target, peeked.Target)
	}
}

func TestCache_MarkAbsentReclaimsExpiredEntriesAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.NegativeTTL = 10 * time.Millisecond
	cfg.NegativeCapacity = 3
	c, _ := New(cfg)

	for _, code := range []string{"a", "b", "c"} {
		c.MarkAbsent(code)
	}
	// all three expire without ever being read again.
	time.Sleep(20 * time.Millisecond)

	c.MarkAbsent("fresh")
	if got := c.Get("fresh"); got != KnownAbsent {
		t.Fatalf("expected expired entries to be reclaimed at capacity, got %v", got)
	}
}

func TestCache_MarkAbsentThenGetKnownAbsent(t *testing.T) {
	c, _ := New(testConfig())
	c.MarkAbsent("missing")
	if got := c.Get("missing"); got != KnownAbsent {
		t.Fatalf("expected KnownAbsent, got %v", got)
	}
}

func TestCache_InsertClearsNegativeEntry(t *testing.T) {
	c, _ := New(testConfig())
	c.MarkAbsent("abc")
	if got := c.Get("abc"); got != KnownAbsent {
		t.Fatalf("expected KnownAbsent before insert, got %v", got)
	}

	c.Insert(newLink("abc"))
	if got := c.Get("abc"); got != Found {
		t.Fatalf("expected Found after insert clears negative entry, got %v", got)
	}
}

func TestCache_InsertWithPastExpiryIsTreatedAsDelete(t *testing.T) {
	c, _ := New(testConfig())
	past := time.Now().Add(-time.Hour)
	link := newLink("abc")
	link.ExpiresAt = &past

	c.Insert(link)
	if _, ok := c.Peek("abc"); ok {
		t.Fatal("expected insert with past expiry to be treated as a delete")
	}
}

func TestCache_InsertWithFutureExpiryClampsTTL(t *testing.T) {
	c, _ := New(testConfig())
	soon := time.Now().Add(10 * time.Millisecond)
	link := newLink("abc")
	link.ExpiresAt = &soon

	c.Insert(link)
	if got := c.Get("abc"); got != Found {
		t.Fatalf("expected Found immediately after insert, got %v", got)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Peek("abc"); ok {
		t.Fatal("expected entry to expire at link.ExpiresAt, not DefaultTTL")
	}
}

func TestCache_InvalidateRemovesObjectEntry(t *testing.T) {
	c, _ := New(testConfig())
	c.Insert(newLink("abc"))
	c.Invalidate("abc")

	if _, ok := c.Peek("abc"); ok {
		t.Fatal("expected object entry removed after invalidate")
	}
}

func TestCache_ReconfigureRejectsInvalidParams(t *testing.T) {
	c, _ := New(testConfig())
	if err := c.Reconfigure(0, 0.01); err == nil {
		t.Error("expected error for zero capacity")
	}
	if err := c.Reconfigure(100, 0); err == nil {
		t.Error("expected error for zero false positive rate")
	}
	if err := c.Reconfigure(100, 1); err == nil {
		t.Error("expected error for false positive rate of 1")
	}
}

func TestCache_ReconfigureThenLoadRepopulates(t *testing.T) {
	c, _ := New(testConfig())
	c.Insert(newLink("stale"))

	if err := c.Reconfigure(2000, 0.001); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	// Bloom was rebuilt empty; the stale object entry is untouched by
	// Reconfigure (only Load clears object/negative state).
	if got := c.Get("stale"); got != Found {
		t.Fatalf("expected stale object entry to survive Reconfigure, got %v", got)
	}

	links := map[string]*model.ShortLink{
		"fresh": newLink("fresh"),
	}
	c.Load(links)

	if _, ok := c.Peek("stale"); ok {
		t.Fatal("expected Load to clear prior object cache state")
	}
	if got := c.Get("fresh"); got != Found {
		t.Fatalf("expected fresh link to be Found after Load, got %v", got)
	}
}

func TestCache_LoadClearsNegativeCache(t *testing.T) {
	c, _ := New(testConfig())
	c.MarkAbsent("now-exists")

	c.Load(map[string]*model.ShortLink{"now-exists": newLink("now-exists")})

	if got := c.Get("now-exists"); got != Found {
		t.Fatalf("expected Found after load overrides stale negative entry, got %v", got)
	}
}

func TestCache_ConcurrentInsertAndGet(t *testing.T) {
	c, _ := New(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		code := fmt.Sprintf("code-%d", i)
		wg.Add(2)
		go func(code string) {
			defer wg.Done()
			c.Insert(newLink(code))
		}(code)
		go func(code string) {
			defer wg.Done()
			_ = c.Get(code)
		}(code)
	}
	wg.Wait()
}
