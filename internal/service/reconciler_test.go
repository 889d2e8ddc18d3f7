package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/port/messagequeue"
)

func TestReconcilerResolvesExpired(t *testing.T) {
	t.Parallel()

	led := newFakeLedger()
	g := newTestGate(led)
	ch, recID := openPending(t, g, "r1")
	rec := NewReconciler(led, g.Registry(), g.Links(), "org-1", time.Second)

	if n, err := rec.Sync(context.Background()); err != nil || n != 0 {
		t.Fatalf("pending record should not resolve, got %d, %v", n, err)
	}

	led.setStatus(recID, approval.StatusExpired)
	if n, err := rec.Sync(context.Background()); err != nil || n != 1 {
		t.Fatalf("Sync = %d, %v", n, err)
	}
	out := <-ch
	if out.Approved || !out.Recorded || out.Source != approval.SourceLedger {
		t.Fatalf("expired record should deny, got %+v", out)
	}
}

func TestReconcilerHandleNotice(t *testing.T) {
	t.Parallel()

	led := newFakeLedger()
	g := newTestGate(led)
	ch, recID := openPending(t, g, "r1")
	rec := NewReconciler(led, g.Registry(), g.Links(), "org-1", time.Second)

	data, _ := json.Marshal(approval.Notice{RecordID: recID, Status: approval.StatusApproved, DecidedBy: "bob"})
	if err := rec.HandleNotice(context.Background(), messagequeue.SubjectApprovalDecided, data); err != nil {
		t.Fatal(err)
	}
	if out := <-ch; !out.Approved {
		t.Fatal("notice should approve the request")
	}

	// A duplicate notice is absorbed.
	if err := rec.HandleNotice(context.Background(), messagequeue.SubjectApprovalDecided, data); err != nil {
		t.Fatal(err)
	}
}

func TestReconcilerRejectsInvalidNotice(t *testing.T) {
	t.Parallel()

	rec := NewReconciler(newFakeLedger(), NewRegistry(), NewLinks(), "org-1", time.Second)
	if err := rec.HandleNotice(context.Background(), messagequeue.SubjectApprovalDecided, []byte(`{"status":"approved"}`)); err == nil {
		t.Fatal("notice without record id should fail validation")
	}
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	rec := NewReconciler(newFakeLedger(), NewRegistry(), NewLinks(), "org-1", 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
