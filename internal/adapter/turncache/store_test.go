package turncache

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/deskgate/internal/adapter/ristretto"
	"github.com/Strob0t/deskgate/internal/domain/timeline"
	"github.com/Strob0t/deskgate/internal/domain/turn"
)

func newCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestHistoryRoundTrip(t *testing.T) {
	h := NewHistory(newCache(t))
	ctx := context.Background()

	in := &turn.Turn{
		ID:       "t1",
		Status:   turn.StatusCompleted,
		Answer:   "done",
		Timeline: []timeline.Record{{Tool: "read_file", Status: timeline.StatusSuccess}},
	}
	if err := h.Put(ctx, in, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok, err := h.Get(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Answer != "done" || len(got.Timeline) != 1 || got.Timeline[0].Tool != "read_file" {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	if err := h.Delete(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.Get(ctx, "t1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestIdempotencyKeysDoNotCollideWithTurns(t *testing.T) {
	c := newCache(t)
	h := NewHistory(c)
	idem := NewIdempotency(c, time.Minute)
	ctx := context.Background()

	if err := idem.Save(ctx, "t1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.Get(ctx, "t1"); ok {
		t.Fatal("idempotency entry must not be read as a turn")
	}
	if v, ok, _ := idem.Load(ctx, "t1"); !ok || string(v) != `{}` {
		t.Fatalf("Load = %q, %v", v, ok)
	}
}
