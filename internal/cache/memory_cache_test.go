package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFlagCache_SetGetDelete(t *testing.T) {
	c := NewMemoryFlagCache()
	ctx := context.Background()

	if _, found, _ := c.Get(ctx, "missing"); found {
		t.Error("Expected miss for unknown key")
	}

	if err := c.Set(ctx, "k", true, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, found, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || !value {
		t.Errorf("Expected hit with value=true, got found=%v value=%v", found, value)
	}

	if err := c.Set(ctx, "k", false, 0); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	if value, _, _ := c.Get(ctx, "k"); value {
		t.Error("Expected value=false after overwrite")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Error("Expected miss after delete")
	}
}

func TestMemoryFlagCache_TTLExpiry(t *testing.T) {
	c := NewMemoryFlagCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", true, 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Fatal("Expected hit before TTL expiry")
	}

	time.Sleep(25 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Error("Expected miss after TTL expiry")
	}
}
