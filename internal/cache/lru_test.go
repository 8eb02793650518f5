package cache

import (
	"fmt"
	"testing"
	"time"
)

// TestLRUCacheEviction tests size-based eviction
func TestLRUCacheEviction(t *testing.T) {
	cache := NewLRUCache[string](3, time.Hour) // 3 items max

	// Fill beyond capacity
	cache.Set("key1", "value1")
	cache.Set("key2", "value2")
	cache.Set("key3", "value3")
	cache.Set("key4", "value4") // Should evict key1

	// key1 should be evicted (LRU)
	if _, found := cache.Get("key1"); found {
		t.Error("key1 should have been evicted")
	}

	// Others should still exist
	if _, found := cache.Get("key2"); !found {
		t.Error("key2 should still exist")
	}
	if _, found := cache.Get("key3"); !found {
		t.Error("key3 should still exist")
	}
	if _, found := cache.Get("key4"); !found {
		t.Error("key4 should still exist")
	}
}

// TestLRUCacheRecencyOrder verifies Get refreshes an entry's position
func TestLRUCacheRecencyOrder(t *testing.T) {
	cache := NewLRUCache[string](3, time.Hour)

	cache.Set("key1", "value1")
	cache.Set("key2", "value2")
	cache.Set("key3", "value3")

	// Touch key1 so key2 becomes the oldest
	if _, found := cache.Get("key1"); !found {
		t.Fatal("key1 should exist")
	}

	cache.Set("key4", "value4") // Should evict key2

	if _, found := cache.Get("key2"); found {
		t.Error("key2 should have been evicted")
	}
	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should still exist after being touched")
	}
}

// TestLRUCacheTTLExpiration tests time-based expiration
func TestLRUCacheTTLExpiration(t *testing.T) {
	cache := NewLRUCache[string](100, 50*time.Millisecond) // 50ms TTL

	cache.Set("key1", "value1")

	// Should exist immediately
	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should exist immediately")
	}

	// Wait for expiration
	time.Sleep(60 * time.Millisecond)

	// Should be expired
	if _, found := cache.Get("key1"); found {
		t.Error("key1 should have expired")
	}
}

// TestLRUCacheCleanExpired tests the cleanup mechanism
func TestLRUCacheCleanExpired(t *testing.T) {
	cache := NewLRUCache[string](100, 50*time.Millisecond)

	cache.Set("key1", "value1")
	cache.Set("key2", "value2")
	cache.Set("key3", "value3")

	// Wait for expiration
	time.Sleep(60 * time.Millisecond)

	removed := cache.CleanExpired()

	if removed != 3 {
		t.Errorf("Expected 3 items cleaned, got %d", removed)
	}
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache after cleanup, got %d items", cache.Size())
	}
}

// TestLRUCacheDelete tests explicit invalidation
func TestLRUCacheDelete(t *testing.T) {
	cache := NewLRUCache[string](100, time.Hour)

	cache.Set("key1", "value1")
	cache.Delete("key1")

	if _, found := cache.Get("key1"); found {
		t.Error("key1 should have been deleted")
	}

	// Deleting a missing key is a no-op
	cache.Delete("missing")
}

// TestManagerCleanup verifies the manager sweeps registered caches
func TestManagerCleanup(t *testing.T) {
	c := NewLRUCache[string](100, 10*time.Millisecond)
	c.Set("key1", "value1")

	manager := NewManager()
	manager.Register(c)
	manager.StartCleanup(20 * time.Millisecond)
	defer manager.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Size() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected manager to clean expired entries, %d remain", c.Size())
}

// BenchmarkLRUCache benchmarks cache performance
func BenchmarkLRUCache(b *testing.B) {
	cache := NewLRUCache[string](1000, time.Hour)

	b.ResetTimer()

	// Test mixed read/write workload
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("bench-key-%d", i%100)
		if i%10 == 0 {
			// 10% writes
			cache.Set(key, "value")
		} else {
			// 90% reads
			cache.Get(key)
		}
	}
}
