package prepared

import (
	"testing"

	"github.com/sqlstream/tds-go/pkg/tds"
)

func TestStoreLookupRoundTrip(t *testing.T) {
	c := NewCache(2, nil, nil)
	key := Key{Fingerprint: Fingerprint("SELECT * FROM t WHERE id = @p1"), ParameterSignature: "int"}

	if _, ok := c.Lookup(key); ok {
		t.Fatalf("expected miss before Store")
	}

	c.Store(key, 42)

	handle, ok := c.Lookup(key)
	if !ok || handle != 42 {
		t.Fatalf("Lookup = (%v, %v), want (42, true)", handle, ok)
	}
}

func TestCacheEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	var unprepared []int32
	c := NewCache(2, nil, func(h tds.PrepareHandle) error {
		unprepared = append(unprepared, int32(h))
		return nil
	})

	k1 := Key{Fingerprint: 1, ParameterSignature: ""}
	k2 := Key{Fingerprint: 2, ParameterSignature: ""}
	k3 := Key{Fingerprint: 3, ParameterSignature: ""}

	c.Store(k1, 1)
	c.Store(k2, 2)

	// Touch k1 so k2 becomes the LRU victim.
	c.Lookup(k1)
	c.Store(k3, 3)

	if _, ok := c.Lookup(k2); ok {
		t.Fatalf("expected k2 evicted")
	}
	if len(unprepared) != 1 || unprepared[0] != 2 {
		t.Fatalf("expected sp_unprepare called for evicted handle 2, got %v", unprepared)
	}
	if c.Len() > 2 {
		t.Fatalf("cache len %d exceeds capacity 2", c.Len())
	}
}

func TestResetClearsWithoutUnprepare(t *testing.T) {
	called := false
	c := NewCache(2, nil, func(h tds.PrepareHandle) error {
		called = true
		return nil
	})
	c.Store(Key{Fingerprint: 1}, 1)
	c.Reset()

	if called {
		t.Fatalf("Reset must not invoke sp_unprepare")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", c.Len())
	}
}
