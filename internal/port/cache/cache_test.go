package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/deskgate/internal/adapter/ristretto"
	"github.com/Strob0t/deskgate/internal/port/cache"
)

// RunComplianceTests runs the standard compliance suite against any Cache.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "turn.t1", []byte(`{"id":"t1"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "turn.t1")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != `{"id":"t1"}` {
			t.Fatalf("unexpected get %q, %v", val, found)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "turn.none")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "turn.del", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "turn.del"); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, "turn.del"); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "turn.never"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "turn.ow", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "turn.ow", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "turn.ow")
		if err != nil || !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q, %v, %v", val, found, err)
		}
	})
}

func TestRistrettoCompliance(t *testing.T) {
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	RunComplianceTests(t, c)
}
