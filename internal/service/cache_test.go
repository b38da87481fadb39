package service

import "testing"

func TestListCache_GetPut(t *testing.T) {
	t.Parallel()

	c := newListCache(4)
	key := subjectCacheKey("agent-7", "", "10.0.0.1")

	if _, ok := c.Get(key); ok {
		t.Fatal("Get() on empty cache reported a hit")
	}

	want := listOutcome{matchedPattern: "agent-*", matchedRule: 2}
	c.Put(key, want)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get() after Put reported a miss")
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestListCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := newListCache(2)
	a := subjectCacheKey("a", "", "")
	b := subjectCacheKey("b", "", "")
	d := subjectCacheKey("d", "", "")

	c.Put(a, listOutcome{matchedRule: 1})
	c.Put(b, listOutcome{matchedRule: 2})

	// Touch a so b becomes the LRU entry.
	c.Get(a)
	c.Put(d, listOutcome{matchedRule: 3})

	if _, ok := c.Get(b); ok {
		t.Error("LRU entry survived eviction")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("recently used entry was evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestListCache_Clear(t *testing.T) {
	t.Parallel()

	c := newListCache(4)
	key := subjectCacheKey("agent-7", "", "")
	c.Put(key, listOutcome{matchedRule: 0})

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", c.Size())
	}
	if _, ok := c.Get(key); ok {
		t.Error("entry survived Clear")
	}
}

func TestSubjectCacheKey_SeparatesFields(t *testing.T) {
	t.Parallel()

	// The tuple ("ab", "c") must not collide with ("a", "bc").
	if subjectCacheKey("ab", "c", "") == subjectCacheKey("a", "bc", "") {
		t.Error("cache key does not separate adjacent attributes")
	}
	if subjectCacheKey("x", "", "") == subjectCacheKey("", "x", "") {
		t.Error("cache key does not distinguish attribute positions")
	}
}
