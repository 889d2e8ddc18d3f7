package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/event"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/domain/timeline"
	"github.com/Strob0t/deskgate/internal/domain/turn"
)

func waitTurn(t *testing.T, svc *TurnService, id string) *turn.Turn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := svc.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func start(t *testing.T, svc *TurnService) *turn.Turn {
	t.Helper()
	snap, err := svc.Start(context.Background(), turn.StartRequest{SessionID: "s1", Message: "do the thing"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return snap
}

func findRecord(t *testing.T, snap *turn.Turn, requestID string) timeline.Record {
	t.Helper()
	for _, r := range snap.Timeline {
		if r.RequestID == requestID {
			return r
		}
	}
	t.Fatalf("no timeline record for %s", requestID)
	return timeline.Record{}
}

func TestTurnOrderPreserved(t *testing.T) {
	f := newFixture(t, false,
		toolStart("read_file", map[string]any{"path": "a.txt"}),
		desktopRequest("a", "read_file", map[string]any{"path": "a.txt"}),
		toolResult("read_file", true),
		toolStart("list_directory", nil),
		toolResult("list_directory", true),
		ev(event.TypeDone),
	)

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != turn.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if len(snap.Timeline) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(snap.Timeline), snap.Timeline)
	}
	a, b := snap.Timeline[0], snap.Timeline[1]
	if a.Tool != "read_file" || a.RequestID != "a" || a.Status != timeline.StatusSuccess {
		t.Fatalf("unexpected first record %+v", a)
	}
	if b.Tool != "list_directory" || b.Status != timeline.StatusSuccess {
		t.Fatalf("unexpected second record %+v", b)
	}
	if a.EndedAt.After(b.StartedAt) {
		t.Fatal("A must close before B starts")
	}
}

func TestTurnToolResultClosesMostRecent(t *testing.T) {
	f := newFixture(t, false,
		toolStart("web_fetch", map[string]any{"url": "a"}),
		toolStart("web_fetch", map[string]any{"url": "b"}),
		toolResult("web_fetch", false),
	)

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Timeline[0].Status != timeline.StatusRunning {
		t.Fatalf("older record must stay running, got %s", snap.Timeline[0].Status)
	}
	if snap.Timeline[1].Status != timeline.StatusError {
		t.Fatalf("most recent record should be closed as error, got %s", snap.Timeline[1].Status)
	}
}

func TestTurnGatedApproval(t *testing.T) {
	input := map[string]any{"command": "rm -rf /tmp/x"}
	f := newFixture(t, true,
		toolStart(risk.ToolRunCommand, input),
		desktopRequest("r1", risk.ToolRunCommand, input),
		ev(event.TypeDone),
	)
	snap := start(t, f.svc)

	pr := f.hub.waitPending(t)
	if pr.Risk != risk.High || pr.Policy != policy.Always {
		t.Fatalf("unexpected request %+v", pr)
	}
	if pr.RecordID == "" {
		t.Fatal("permission request should carry the ledger record id")
	}
	live, _ := f.svc.Get(context.Background(), snap.ID)
	if findRecord(t, live, "r1").Status != timeline.StatusPendingApproval {
		t.Fatal("record should wait for approval")
	}

	ok, err := f.gate.Decide(context.Background(), "r1", true, approval.SourceDialog, "alice", "")
	if err != nil || !ok {
		t.Fatalf("Decide = %v, %v", ok, err)
	}

	final := waitTurn(t, f.svc, snap.ID)
	calls := f.exec.Calls()
	if len(calls) != 1 || calls[0].Tool != risk.ToolRunCommand || !reflect.DeepEqual(calls[0].Input, input) {
		t.Fatalf("executor must receive the original input, got %+v", calls)
	}
	rec := findRecord(t, final, "r1")
	if rec.Status != timeline.StatusSuccess {
		t.Fatalf("expected success, got %s", rec.Status)
	}
	if len(final.Timeline) != 1 {
		t.Fatalf("request should attach to the started record, got %d records", len(final.Timeline))
	}
	if st := f.ledger.status(pr.RecordID); st != approval.StatusApproved {
		t.Fatalf("ledger should record the approval, got %s", st)
	}
	if res, ok := f.backend.result("r1"); !ok || !res.Success {
		t.Fatalf("expected success submitted to backend, got %+v", res)
	}
	if f.hub.count(ws.EventPermissionResolved) != 1 {
		t.Fatal("expected one resolution broadcast")
	}
}

func TestTurnDenialDoesNotAbort(t *testing.T) {
	input := map[string]any{"command": "rm -rf /tmp/x"}
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolRunCommand, input),
		text("I could not delete it."),
		toolStart("list_directory", nil),
		toolResult("list_directory", true),
		ev(event.TypeDone),
	)
	snap := start(t, f.svc)

	pr := f.hub.waitPending(t)
	if _, err := f.gate.Decide(context.Background(), "r1", false, approval.SourceDialog, "alice", ""); err != nil {
		t.Fatal(err)
	}

	final := waitTurn(t, f.svc, snap.ID)
	if len(f.exec.Calls()) != 0 {
		t.Fatal("executor must not run a denied call")
	}
	rec := findRecord(t, final, "r1")
	if rec.Status != timeline.StatusDenied || rec.Message != "denied" {
		t.Fatalf("expected denied record, got %+v", rec)
	}
	if final.Status != turn.StatusCompleted || !strings.Contains(final.Answer, "could not delete") {
		t.Fatalf("turn should continue after denial: %s %q", final.Status, final.Answer)
	}
	if len(final.Timeline) != 2 {
		t.Fatalf("later events should still reach the timeline, got %d records", len(final.Timeline))
	}
	if res, _ := f.backend.result("r1"); res.Success || res.Error != event.DeniedMessage {
		t.Fatalf("expected denial submitted, got %+v", res)
	}
	if st := f.ledger.status(pr.RecordID); st != approval.StatusDenied {
		t.Fatalf("ledger should record the denial, got %s", st)
	}
}

func TestTurnLedgerDegradation(t *testing.T) {
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolWriteFile, map[string]any{"path": "notes.txt"}),
		ev(event.TypeDone),
	)
	f.ledger.createErr = errLedgerDown
	snap := start(t, f.svc)

	pr := f.hub.waitPending(t)
	if pr.RecordID != "" {
		t.Fatal("no record id when the ledger is down")
	}
	if _, err := f.gate.Decide(context.Background(), "r1", true, approval.SourceDialog, "alice", ""); err != nil {
		t.Fatal(err)
	}

	final := waitTurn(t, f.svc, snap.ID)
	if final.Status != turn.StatusCompleted {
		t.Fatalf("turn must not get stuck, status %s", final.Status)
	}
	if len(f.exec.Calls()) != 1 {
		t.Fatal("locally approved call should execute")
	}
	if len(final.Warnings) == 0 || !strings.Contains(final.Warnings[0], "ledger unavailable") {
		t.Fatalf("expected a visible ledger warning, got %v", final.Warnings)
	}
	if f.ledger.decideCount() != 0 {
		t.Fatal("unlinked request must not be written back")
	}
}

func TestTurnApproveAllMidTurn(t *testing.T) {
	f := newFixture(t, false,
		desktopRequest("r1", risk.ToolMouseClick, map[string]any{"x": 1, "y": 2}),
		desktopRequest("r2", risk.ToolTypeText, map[string]any{"text": "hello"}),
		ev(event.TypeDone),
	)
	snap := start(t, f.svc)

	f.hub.waitPending(t)
	ids, err := f.svc.ApproveAll(context.Background(), snap.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("expected r1 approved on the spot, got %v", ids)
	}

	final := waitTurn(t, f.svc, snap.ID)
	if len(f.exec.Calls()) != 2 {
		t.Fatalf("both calls should execute, got %d", len(f.exec.Calls()))
	}
	if f.hub.count(ws.EventPermissionRequest) != 1 {
		t.Fatal("auto-approved request must not surface a dialog")
	}
	if !final.ApproveAll {
		t.Fatal("snapshot should show approve-all")
	}
}

func TestTurnStopDeniesPending(t *testing.T) {
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolDeleteFile, map[string]any{"path": "a"}),
		nil,
	)
	snap := start(t, f.svc)
	pr := f.hub.waitPending(t)

	if err := f.svc.Stop(context.Background(), snap.ID); err != nil {
		t.Fatal(err)
	}
	final := waitTurn(t, f.svc, snap.ID)

	if final.Status != turn.StatusStopped {
		t.Fatalf("expected stopped, got %s", final.Status)
	}
	rec := findRecord(t, final, "r1")
	if rec.Status != timeline.StatusDenied || rec.Message != event.StoppedMessage {
		t.Fatalf("expected stop denial, got %+v", rec)
	}
	if len(f.exec.Calls()) != 0 {
		t.Fatal("stopped turn must not execute")
	}
	if st := f.ledger.status(pr.RecordID); st != approval.StatusDenied {
		t.Fatalf("ledger should record the stop as denial, got %s", st)
	}
	if ok, _ := f.gate.Decide(context.Background(), "r1", true, approval.SourcePanel, "bob", ""); ok {
		t.Fatal("late approval after stop must be a no-op")
	}
	if err := f.svc.Stop(context.Background(), snap.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("stop of a finished turn without history: %v", err)
	}
}

func TestTurnPolicyNeverStillAudits(t *testing.T) {
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolRunCommand, map[string]any{"command": "shutdown /s"}),
		ev(event.TypeDone),
	)
	if _, err := f.policies.SetOverride(context.Background(), risk.ToolRunCommand, policy.Never); err != nil {
		t.Fatal(err)
	}

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if f.hub.count(ws.EventPermissionRequest) != 0 {
		t.Fatal("never policy must not ask")
	}
	if len(f.exec.Calls()) != 1 {
		t.Fatal("ungated call should execute")
	}
	if findRecord(t, snap, "r1").Status != timeline.StatusSuccess {
		t.Fatal("expected success")
	}
	if st := f.ledger.status("rec-1"); st != approval.StatusApproved {
		t.Fatalf("ledger should still audit the call, got %s", st)
	}
}

func TestTurnExecutionFailure(t *testing.T) {
	f := newFixture(t, false,
		desktopRequest("r1", risk.ToolReadFile, map[string]any{"path": "missing"}),
		text("moving on"),
		ev(event.TypeDone),
	)
	f.exec.err = errors.New("host bridge unreachable")

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	rec := findRecord(t, snap, "r1")
	if rec.Status != timeline.StatusError || rec.Message != "host bridge unreachable" {
		t.Fatalf("expected error record, got %+v", rec)
	}
	if res, _ := f.backend.result("r1"); res.Success || res.Error == "" {
		t.Fatalf("failure should be reported to the backend, got %+v", res)
	}
	if snap.Status != turn.StatusCompleted || snap.Answer != "moving on" {
		t.Fatalf("turn should continue: %s %q", snap.Status, snap.Answer)
	}
}

func TestTurnFatalStreamError(t *testing.T) {
	f := newFixture(t, false,
		text("partial"),
		toolStart("web_fetch", nil),
		&event.Event{Type: event.TypeError, Error: "model overloaded"},
		text("never seen"),
	)

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != turn.StatusError || snap.Error != "model overloaded" {
		t.Fatalf("expected error status, got %s %q", snap.Status, snap.Error)
	}
	if snap.Answer != "partial" {
		t.Fatalf("events after a fatal error must not be processed, answer %q", snap.Answer)
	}
	if snap.Timeline[0].Status != timeline.StatusError {
		t.Fatal("running records are failed when the turn dies")
	}
}

func TestTurnInformationalEvents(t *testing.T) {
	ok := true
	f := newFixture(t, false,
		&event.Event{Type: event.TypeSearchStart, Query: "golang"},
		&event.Event{Type: event.TypeSearchDone, Results: []event.SearchResult{{Title: "Go", URL: "https://go.dev"}}},
		&event.Event{Type: event.TypeSkill, Skills: []string{"pdf"}},
		&event.Event{Type: event.TypeSkillPolicy, Success: &ok, Message: "allowed"},
		&event.Event{Type: event.TypeMemory, Message: "remembered"},
		&event.Event{Type: event.TypeSearchStart, Query: "again"},
		&event.Event{Type: event.TypeSearchError, Error: "rate limited"},
		&event.Event{Type: "status", Message: "final answer"},
		ev(event.TypeDone),
	)

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != turn.StatusCompleted {
		t.Fatalf("search_error must be recoverable, got %s", snap.Status)
	}
	if len(snap.SearchResults) != 1 || snap.Searching {
		t.Fatalf("unexpected search state: %+v searching=%v", snap.SearchResults, snap.Searching)
	}
	if len(snap.Skills) != 1 || snap.Skills[0] != "pdf" {
		t.Fatalf("unexpected skills %v", snap.Skills)
	}
	for _, r := range snap.Timeline {
		if !r.Informational {
			t.Fatalf("expected only informational records, got %+v", r)
		}
	}
	if len(snap.Timeline) != 5 {
		t.Fatalf("expected 5 informational records, got %d", len(snap.Timeline))
	}
	if snap.Answer != "final answer" {
		t.Fatalf("unknown event message should replace the answer, got %q", snap.Answer)
	}
	if len(f.exec.Calls()) != 0 {
		t.Fatal("informational events never execute")
	}
}

func TestTurnStreamOpenFails(t *testing.T) {
	f := newFixture(t, false)
	f.backend.streamErr = errors.New("connection refused")

	snap, err := f.svc.Run(context.Background(), turn.StartRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != turn.StatusError || !strings.Contains(snap.Error, "connection refused") {
		t.Fatalf("expected error status, got %s %q", snap.Status, snap.Error)
	}
}

func TestTurnStartValidation(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.svc.Start(context.Background(), turn.StartRequest{Message: "  "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.ApproveAll(context.Background(), "nope", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTurnPanelDecisionThroughLedger(t *testing.T) {
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolOpenApplication, map[string]any{"name": "calc"}),
		ev(event.TypeDone),
	)
	rec := NewReconciler(f.ledger, f.gate.Registry(), f.gate.Links(), "org-1", time.Second)
	snap := start(t, f.svc)

	pr := f.hub.waitPending(t)
	f.ledger.setStatus(pr.RecordID, approval.StatusApproved)

	n, err := rec.Sync(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Sync = %d, %v", n, err)
	}
	final := waitTurn(t, f.svc, snap.ID)
	if findRecord(t, final, "r1").Status != timeline.StatusSuccess {
		t.Fatal("ledger approval should resume the call")
	}
	if f.ledger.decideCount() != 0 {
		t.Fatal("a decision read from the ledger must not be written back")
	}
}

func TestTurnShutdownStopsActive(t *testing.T) {
	f := newFixture(t, false, text("hi"), nil)
	start(t, f.svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if len(f.svc.Active()) != 0 {
		t.Fatal("no turn should remain active")
	}
}

func TestTurnPendingListsWaitingRequests(t *testing.T) {
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolDeleteFile, map[string]any{"path": "/tmp/x"}),
		ev(event.TypeDone),
	)
	snap := start(t, f.svc)
	f.hub.waitPending(t)

	pending := f.svc.Pending("")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	p := pending[0]
	if p.RequestID != "r1" || p.TurnID != snap.ID || p.RecordID == "" || p.Tool != risk.ToolDeleteFile {
		t.Fatalf("unexpected pending entry %+v", p)
	}
	if p.Risk != risk.High {
		t.Fatalf("pending risk = %s, want high", p.Risk)
	}
	if len(f.svc.Pending("other-session")) != 0 {
		t.Fatal("session filter not applied")
	}

	if _, err := f.gate.Decide(context.Background(), "r1", false, approval.SourcePanel, "bob", ""); err != nil {
		t.Fatal(err)
	}
	waitTurn(t, f.svc, snap.ID)
	if len(f.svc.Pending("")) != 0 {
		t.Fatal("decided request still listed")
	}
}

func TestFilterPending(t *testing.T) {
	reqs := []PendingRequest{
		{RequestID: "r1", Tool: risk.ToolDeleteFile, Risk: risk.High},
		{RequestID: "r2", Tool: risk.ToolWriteFile, Risk: risk.Medium},
		{RequestID: "r3", Tool: risk.ToolRunCommand, Risk: risk.High},
	}
	ids := func(ps []PendingRequest) []string {
		out := []string{}
		for _, p := range ps {
			out = append(out, p.RequestID)
		}
		return out
	}

	tests := []struct {
		name  string
		tool  string
		level risk.Level
		want  []string
	}{
		{"no filter", "", "", []string{"r1", "r2", "r3"}},
		{"high only", "", risk.High, []string{"r1", "r3"}},
		{"tool", risk.ToolWriteFile, "", []string{"r2"}},
		{"tool and level", risk.ToolWriteFile, risk.High, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(FilterPending(reqs, tt.tool, tt.level))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterPending = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTurnWarnsWhenDecisionNotRecorded(t *testing.T) {
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolDeleteFile, map[string]any{"path": "/tmp/x"}),
		ev(event.TypeDone),
	)
	snap := start(t, f.svc)

	pr := f.hub.waitPending(t)
	f.ledger.failDecides(errLedgerDown)
	if _, err := f.gate.Decide(context.Background(), "r1", true, approval.SourceDialog, "alice", ""); err != nil {
		t.Fatal(err)
	}

	final := waitTurn(t, f.svc, snap.ID)
	if len(f.exec.Calls()) != 1 {
		t.Fatal("locally approved call should execute")
	}
	if got := f.ledger.decideCount(); got != 2 {
		t.Fatalf("expected the write-back to be retried once, got %d attempts", got)
	}
	if st := f.ledger.status(pr.RecordID); st != approval.StatusPending {
		t.Fatalf("ledger status = %s, want pending", st)
	}
	found := false
	for _, w := range final.Warnings {
		if w == "approval ledger unavailable, decision not recorded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a not-recorded warning, got %v", final.Warnings)
	}
	if f.hub.count(ws.EventTurnWarning) == 0 {
		t.Fatal("warning should be broadcast")
	}
}

func TestTurnDuplicateRequestKeepsOriginalLink(t *testing.T) {
	input := map[string]any{"path": "/tmp/x"}
	f := newFixture(t, true,
		desktopRequest("r1", risk.ToolDeleteFile, input),
		ev(event.TypeDone),
	)
	first := start(t, f.svc)
	pr := f.hub.waitPending(t)

	// The second turn replays the same request ID while r1 is pending.
	second := start(t, f.svc)
	dup := waitTurn(t, f.svc, second.ID)
	if rec := findRecord(t, dup, "r1"); rec.Status != timeline.StatusError {
		t.Fatalf("duplicate should fail, got %+v", rec)
	}
	if recID, ok := f.gate.Links().Remote("r1"); !ok || recID != pr.RecordID {
		t.Fatalf("link = %q, %v; want %q", recID, ok, pr.RecordID)
	}
	if recs, _ := f.ledger.List(context.Background(), approval.ListFilter{}); len(recs) != 1 {
		t.Fatalf("duplicate must not open a ledger record, got %d", len(recs))
	}

	if _, err := f.gate.Decide(context.Background(), "r1", true, approval.SourceDialog, "alice", ""); err != nil {
		t.Fatal(err)
	}
	final := waitTurn(t, f.svc, first.ID)
	if findRecord(t, final, "r1").Status != timeline.StatusSuccess {
		t.Fatal("original request should resume")
	}
	if st := f.ledger.status(pr.RecordID); st != approval.StatusApproved {
		t.Fatalf("original decision should be written back, got %s", st)
	}
}
