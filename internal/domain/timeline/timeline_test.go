package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/deskgate/internal/domain"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestGatedLifecycle(t *testing.T) {
	tl := NewWithClock(fixedClock())

	tl.Start("run_command", map[string]any{"command": "ls"})
	idx := tl.Attach("run_command", map[string]any{"command": "ls"}, "req-1")
	if idx != 0 {
		t.Fatalf("expected attach to reuse record 0, got %d", idx)
	}
	if err := tl.Suspend("req-1"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if err := tl.Approve("req-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := tl.Complete("req-1", true, "ok", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	r, ok := tl.Find("req-1")
	if !ok {
		t.Fatal("record not found")
	}
	if r.Status != StatusSuccess || r.Kind != KindDesktop || r.Message != "ok" {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Duration() <= 0 {
		t.Fatalf("expected positive duration, got %v", r.Duration())
	}
	if r.DurationMs <= 0 || r.DurationMs != r.Duration().Milliseconds() {
		t.Fatalf("duration_ms = %d, want %d", r.DurationMs, r.Duration().Milliseconds())
	}
	if tl.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", tl.Len())
	}
}

func TestAttachAppendsWhenNoRunningRecord(t *testing.T) {
	tl := New()
	tl.Start("read_file", nil)
	idx := tl.Attach("run_command", nil, "req-1")
	if idx != 1 {
		t.Fatalf("expected new record at 1, got %d", idx)
	}
}

func TestAttachMatchesMostRecent(t *testing.T) {
	tl := New()
	tl.Start("write_file", map[string]any{"path": "a"})
	tl.Start("write_file", map[string]any{"path": "b"})
	idx := tl.Attach("write_file", nil, "req-b")
	if idx != 1 {
		t.Fatalf("expected most recent record (1), got %d", idx)
	}
	recs := tl.Records()
	if recs[0].RequestID != "" {
		t.Fatalf("older record should be untouched: %+v", recs[0])
	}
}

func TestIllegalTransitions(t *testing.T) {
	tl := New()
	tl.Attach("run_command", nil, "req-1")

	if err := tl.Approve("req-1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("approve from running should conflict, got %v", err)
	}
	if err := tl.Deny("req-1", "no"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if err := tl.Complete("req-1", true, "", nil); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("complete after deny should conflict, got %v", err)
	}
	if err := tl.Suspend("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCloseLatestSkipsPendingAndTerminal(t *testing.T) {
	tl := New()
	tl.Attach("run_command", nil, "req-1")
	if err := tl.Suspend("req-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := tl.CloseLatest("run_command", true, "done", nil); ok {
		t.Fatal("pending record must not be closed by tool_result")
	}

	tl.Start("read_file", nil)
	if _, ok := tl.CloseLatest("read_file", false, "boom", nil); !ok {
		t.Fatal("expected running read_file to close")
	}
	if _, ok := tl.CloseLatest("read_file", true, "", nil); ok {
		t.Fatal("terminal record must not be closed twice")
	}
	recs := tl.Records()
	if recs[1].Status != StatusError || recs[1].Message != "boom" {
		t.Fatalf("unexpected record %+v", recs[1])
	}
}

func TestOrderPreserved(t *testing.T) {
	tl := New()

	tl.Start("run_command", nil)
	tl.Attach("run_command", nil, "a")
	if err := tl.Complete("a", true, "", nil); err != nil {
		t.Fatal(err)
	}
	_, _ = tl.CloseLatest("run_command", true, "", nil)
	tl.Start("read_file", nil)
	_, _ = tl.CloseLatest("read_file", true, "", nil)

	recs := tl.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Tool != "run_command" || recs[1].Tool != "read_file" {
		t.Fatalf("order not preserved: %s, %s", recs[0].Tool, recs[1].Tool)
	}
	if recs[0].EndedAt.After(recs[1].StartedAt) {
		t.Fatal("first record should close before the second starts")
	}
}

func TestInformationalRecords(t *testing.T) {
	tl := New()
	tl.OpenInfo(ToolWebSearch, map[string]any{"query": "go"})
	tl.Start(ToolWebSearch, nil)

	if _, ok := tl.CloseLatest(ToolWebSearch, true, "", nil); !ok {
		t.Fatal("expected the non-informational record to close")
	}
	if _, ok := tl.CloseInfo(ToolWebSearch, true, "3 results", nil); !ok {
		t.Fatal("expected informational record to close")
	}
	n := tl.Note(ToolSkillLoad, "loaded: pdf", nil)
	recs := tl.Records()
	if !recs[n].Informational || recs[n].Status != StatusSuccess || recs[n].Kind != KindSkill {
		t.Fatalf("unexpected note %+v", recs[n])
	}
}

func TestInterrupt(t *testing.T) {
	tl := New()
	tl.Attach("run_command", nil, "a")
	_ = tl.Suspend("a")
	tl.Start("read_file", nil)
	tl.Start("list_directory", nil)
	_, _ = tl.CloseLatest("list_directory", true, "", nil)

	if n := tl.Interrupt("stopped"); n != 2 {
		t.Fatalf("expected 2 records interrupted, got %d", n)
	}
	recs := tl.Records()
	if recs[0].Status != StatusDenied || recs[1].Status != StatusError || recs[2].Status != StatusSuccess {
		t.Fatalf("unexpected statuses: %s %s %s", recs[0].Status, recs[1].Status, recs[2].Status)
	}
}

func TestStatusLabelsDistinct(t *testing.T) {
	seen := map[string]Status{}
	for _, s := range []Status{StatusRunning, StatusPendingApproval, StatusSuccess, StatusError, StatusDenied} {
		l := s.Label()
		if prev, dup := seen[l]; dup {
			t.Fatalf("label %q shared by %s and %s", l, prev, s)
		}
		seen[l] = s
	}
}

func TestKindFor(t *testing.T) {
	tests := map[string]Kind{
		"run_command":      KindDesktop,
		"web_search":       KindSystem,
		"skill_pdf":        KindSkill,
		"mcp__github__pr":  KindProtocol,
		"calculator":       KindOther,
		ToolSkillPolicy:    KindSystem,
		"open_application": KindDesktop,
	}
	for tool, want := range tests {
		if got := KindFor(tool); got != want {
			t.Errorf("KindFor(%q) = %s, want %s", tool, got, want)
		}
	}
}

func TestDurationMsOnlyWhenTerminal(t *testing.T) {
	tl := NewWithClock(fixedClock())
	tl.Attach("run_command", nil, "req-1")
	if err := tl.Suspend("req-1"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if r, _ := tl.Find("req-1"); r.DurationMs != 0 {
		t.Fatalf("pending record has duration_ms %d", r.DurationMs)
	}
	if err := tl.Deny("req-1", "denied"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if r, _ := tl.Find("req-1"); r.DurationMs != 1000 {
		t.Fatalf("duration_ms = %d, want 1000", r.DurationMs)
	}
}
