package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/deskgate/internal/adapter/otel"
	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/event"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/domain/timeline"
	"github.com/Strob0t/deskgate/internal/domain/turn"
	"github.com/Strob0t/deskgate/internal/logger"
	"github.com/Strob0t/deskgate/internal/port/agentbackend"
	"github.com/Strob0t/deskgate/internal/port/broadcast"
	"github.com/Strob0t/deskgate/internal/port/executor"
	"github.com/Strob0t/deskgate/internal/port/history"
)

// TurnConfig holds the settings of the turn consumer.
type TurnConfig struct {
	UserID        string
	UseMemory     bool
	SubmitTimeout time.Duration
	HistoryTTL    time.Duration
}

// TurnService runs conversational turns: it consumes the backend's event
// stream in order, maintains the timeline, and suspends at gated desktop
// requests until a decision arrives.
type TurnService struct {
	backend  agentbackend.Backend
	exec     executor.Executor
	gate     *Gate
	policies *PolicyState
	hub      broadcast.Broadcaster
	history  history.Store
	metrics  *cfotel.Metrics
	cfg      TurnConfig

	mu     sync.RWMutex
	active map[string]*run
}

// NewTurnService creates a turn service. hub, hist and metrics may be nil.
func NewTurnService(
	backend agentbackend.Backend,
	exec executor.Executor,
	gate *Gate,
	policies *PolicyState,
	hub broadcast.Broadcaster,
	hist history.Store,
	metrics *cfotel.Metrics,
	cfg TurnConfig,
) *TurnService {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	return &TurnService{
		backend:  backend,
		exec:     exec,
		gate:     gate,
		policies: policies,
		hub:      hub,
		history:  hist,
		metrics:  metrics,
		cfg:      cfg,
		active:   make(map[string]*run),
	}
}

// run is the live state of one turn. The consumer goroutine is the only
// writer of the timeline; mu guards the remaining fields for readers.
type run struct {
	mu     sync.Mutex
	t      turn.Turn
	useMem bool
	tl     *timeline.Timeline
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) snapshot() *turn.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.t
	out.SearchResults = append([]event.SearchResult(nil), r.t.SearchResults...)
	out.Skills = append([]string(nil), r.t.Skills...)
	out.Warnings = append([]string(nil), r.t.Warnings...)
	out.Timeline = r.tl.Records()
	return &out
}

func (r *run) with(fn func(t *turn.Turn)) {
	r.mu.Lock()
	fn(&r.t)
	r.mu.Unlock()
}

// Start begins a turn and consumes its stream in the background.
func (s *TurnService) Start(ctx context.Context, req turn.StartRequest) (*turn.Turn, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r, err := s.begin(req, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	snap := r.snapshot()
	go s.consume(runCtx, r)
	return snap, nil
}

// Run begins a turn and consumes its stream on the caller's goroutine,
// returning the final snapshot. Cancelling ctx stops the turn.
func (s *TurnService) Run(ctx context.Context, req turn.StartRequest) (*turn.Turn, error) {
	runCtx, cancel := context.WithCancel(ctx)
	r, err := s.begin(req, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	s.consume(runCtx, r)
	return r.snapshot(), nil
}

// Wait blocks until the turn finishes and returns its final snapshot.
func (s *TurnService) Wait(ctx context.Context, turnID string) (*turn.Turn, error) {
	s.mu.RLock()
	r, ok := s.active[turnID]
	s.mu.RUnlock()
	if !ok {
		return s.Get(ctx, turnID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends a streaming turn. Pending requests of the turn resolve as
// denied and later requests are denied without asking.
func (s *TurnService) Stop(ctx context.Context, turnID string) error {
	s.mu.RLock()
	r, ok := s.active[turnID]
	s.mu.RUnlock()
	if !ok {
		return s.missing(ctx, turnID)
	}

	ids := s.gate.Registry().CloseTurn(turnID)
	slog.InfoContext(logger.WithTurnID(ctx, turnID), "turn stop requested", "pending_denied", len(ids))
	r.with(func(t *turn.Turn) {
		if t.Status == turn.StatusStreaming {
			t.Status = turn.StatusStopped
		}
	})
	r.cancel()
	return nil
}

// ApproveAll toggles blanket approval for the rest of a turn and returns
// the request IDs it approved on the spot.
func (s *TurnService) ApproveAll(ctx context.Context, turnID string, on bool) ([]string, error) {
	s.mu.RLock()
	r, ok := s.active[turnID]
	s.mu.RUnlock()
	if !ok {
		return nil, s.missing(ctx, turnID)
	}

	ids, err := s.gate.Registry().SetApproveAll(turnID, on)
	if err != nil {
		return nil, err
	}
	var sessionID string
	r.with(func(t *turn.Turn) {
		t.ApproveAll = on
		sessionID = t.SessionID
	})
	slog.InfoContext(logger.WithTurnID(ctx, turnID), "approve all toggled", "enabled", on, "approved_pending", len(ids))
	s.publish(ctx, ws.EventApproveAll, ws.ApproveAllEvent{TurnID: turnID, SessionID: sessionID, Enabled: on})
	return ids, nil
}

// Get returns a snapshot of a live or recently finished turn.
func (s *TurnService) Get(ctx context.Context, turnID string) (*turn.Turn, error) {
	s.mu.RLock()
	r, ok := s.active[turnID]
	s.mu.RUnlock()
	if ok {
		return r.snapshot(), nil
	}
	if s.history != nil {
		t, found, err := s.history.Get(ctx, turnID)
		if err != nil {
			return nil, fmt.Errorf("get turn %s: %w", turnID, err)
		}
		if found {
			return t, nil
		}
	}
	return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
}

// Active returns snapshots of every streaming turn.
func (s *TurnService) Active() []*turn.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*turn.Turn, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, r.snapshot())
	}
	return out
}

// PendingRequest is a desktop request waiting for a decision.
type PendingRequest struct {
	TurnID    string         `json:"turn_id"`
	SessionID string         `json:"session_id"`
	RequestID string         `json:"request_id"`
	RecordID  string         `json:"record_id,omitempty"`
	Tool      string         `json:"tool"`
	Risk      risk.Level     `json:"risk"`
	Input     map[string]any `json:"input,omitempty"`
	Since     time.Time      `json:"since"`
}

// FilterPending keeps the requests for tool, when set, whose risk equals
// level, when set.
func FilterPending(reqs []PendingRequest, tool string, level risk.Level) []PendingRequest {
	out := make([]PendingRequest, 0, len(reqs))
	for _, p := range reqs {
		if tool != "" && p.Tool != tool {
			continue
		}
		if level != "" && p.Risk != level {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Pending lists the requests awaiting a decision across streaming turns,
// optionally narrowed to one session.
func (s *TurnService) Pending(sessionID string) []PendingRequest {
	var out []PendingRequest
	for _, t := range s.Active() {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		for _, rec := range t.Timeline {
			if rec.Status != timeline.StatusPendingApproval || !s.gate.Registry().Pending(rec.RequestID) {
				continue
			}
			p := PendingRequest{
				TurnID:    t.ID,
				SessionID: t.SessionID,
				RequestID: rec.RequestID,
				Tool:      rec.Tool,
				Risk:      risk.Classify(rec.Tool, rec.Input),
				Input:     rec.Input,
				Since:     rec.StartedAt,
			}
			if id, ok := s.gate.Links().Remote(rec.RequestID); ok {
				p.RecordID = id
			}
			out = append(out, p)
		}
	}
	return out
}

// Shutdown stops every streaming turn and waits for the consumers to exit.
func (s *TurnService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	runs := make([]*run, 0, len(s.active))
	for _, r := range s.active {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	for _, r := range runs {
		_ = s.Stop(ctx, r.t.ID)
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *TurnService) missing(ctx context.Context, turnID string) error {
	if _, err := s.Get(ctx, turnID); err != nil {
		return err
	}
	return fmt.Errorf("turn %s: %w", turnID, domain.ErrTurnStopped)
}

func (s *TurnService) begin(req turn.StartRequest, cancel context.CancelFunc) (*run, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	useMem := s.cfg.UseMemory
	if req.UseMemory != nil {
		useMem = *req.UseMemory
	}

	r := &run{
		t: turn.Turn{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			UserMessage: msg,
			Status:      turn.StatusStreaming,
			StartedAt:   time.Now().UTC(),
		},
		useMem: useMem,
		tl:     timeline.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.gate.Registry().BeginTurn(r.t.ID)
	s.mu.Lock()
	s.active[r.t.ID] = r
	s.mu.Unlock()
	return r, nil
}

// consume processes the stream of one turn strictly in arrival order.
func (s *TurnService) consume(ctx context.Context, r *run) {
	turnID, sessionID := r.t.ID, r.t.SessionID
	ctx = logger.WithTurnID(ctx, turnID)
	ctx, span := cfotel.StartTurnSpan(ctx, turnID, sessionID)
	defer span.End()

	s.metrics.TurnStarted(ctx)
	s.publish(ctx, ws.EventTurnStatus, ws.TurnStatusEvent{TurnID: turnID, SessionID: sessionID, Status: turn.StatusStreaming})
	slog.InfoContext(ctx, "turn started", "session_id", sessionID)

	status, errMsg := s.stream(ctx, r)
	s.finish(ctx, r, status, errMsg)
}

func (s *TurnService) stream(ctx context.Context, r *run) (turn.Status, string) {
	stream, err := s.backend.Stream(ctx, agentbackend.ChatRequest{
		UserID:    s.cfg.UserID,
		Message:   r.t.UserMessage,
		SessionID: r.t.SessionID,
		UseMemory: r.useMem,
	})
	if err != nil {
		if ctx.Err() != nil {
			return turn.StatusStopped, ""
		}
		return turn.StatusError, fmt.Sprintf("open agent stream: %v", err)
	}
	defer func() { _ = stream.Close() }()

	for {
		ev, err := stream.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return turn.StatusCompleted, ""
		case err != nil && ctx.Err() != nil:
			return turn.StatusStopped, ""
		case err != nil:
			return turn.StatusError, fmt.Sprintf("agent stream: %v", err)
		}

		if ev.Fatal() {
			slog.WarnContext(ctx, "agent stream reported an error", "type", ev.Type, "error", ev.FatalMessage())
			return turn.StatusError, ev.FatalMessage()
		}
		if ev.Type == event.TypeDone {
			return turn.StatusCompleted, ""
		}
		s.handle(ctx, r, ev)
		if ctx.Err() != nil {
			return turn.StatusStopped, ""
		}
	}
}

func (s *TurnService) handle(ctx context.Context, r *run, ev event.Event) {
	switch ev.Type {
	case event.TypeText:
		r.with(func(t *turn.Turn) { t.Answer += ev.Content })
		s.publish(ctx, ws.EventTurnText, ws.TurnTextEvent{TurnID: r.t.ID, SessionID: r.t.SessionID, Content: ev.Content})

	case event.TypeToolStart:
		idx := r.tl.Start(ev.Tool, ev.Input)
		s.metrics.ToolCall(ctx, ev.Tool, string(timeline.KindFor(ev.Tool)))
		s.publishRecord(ctx, r, idx)

	case event.TypeDesktopToolRequest:
		s.gateRequest(ctx, r, ev)

	case event.TypeToolResult:
		msg := ev.Message
		if msg == "" && !ev.Succeeded() {
			msg = ev.Error
		}
		idx, ok := r.tl.CloseLatest(ev.Tool, ev.Succeeded(), msg, ev.Data)
		if !ok {
			slog.DebugContext(ctx, "tool_result without running record", "tool", ev.Tool)
			return
		}
		s.publishRecord(ctx, r, idx)

	case event.TypeSkill:
		r.with(func(t *turn.Turn) { t.Skills = append(t.Skills, ev.Skills...) })
		idx := r.tl.Note(timeline.ToolSkillLoad, "loaded: "+strings.Join(ev.Skills, ", "), ev.Skills)
		s.publishRecord(ctx, r, idx)

	case event.TypeSkillPolicy:
		idx := r.tl.Note(timeline.ToolSkillPolicy, ev.Message, ev.Data)
		s.publishRecord(ctx, r, idx)
		if !ev.Succeeded() {
			s.warn(ctx, r, "skill policy: "+ev.Message)
		}

	case event.TypeMemory:
		msg := ev.Message
		if msg == "" {
			msg = ev.Content
		}
		idx := r.tl.Note(timeline.ToolMemory, msg, ev.Data)
		s.publishRecord(ctx, r, idx)

	case event.TypeSearchStart:
		r.with(func(t *turn.Turn) { t.Searching = true })
		idx := r.tl.OpenInfo(timeline.ToolWebSearch, map[string]any{"query": ev.Query})
		s.publishRecord(ctx, r, idx)

	case event.TypeSearchDone:
		r.with(func(t *turn.Turn) {
			t.Searching = false
			t.SearchResults = append(t.SearchResults, ev.Results...)
		})
		if idx, ok := r.tl.CloseInfo(timeline.ToolWebSearch, true, fmt.Sprintf("%d results", len(ev.Results)), ev.Results); ok {
			s.publishRecord(ctx, r, idx)
		}

	case event.TypeSearchError:
		r.with(func(t *turn.Turn) { t.Searching = false })
		if idx, ok := r.tl.CloseInfo(timeline.ToolWebSearch, false, ev.Error, nil); ok {
			s.publishRecord(ctx, r, idx)
		}
		s.warn(ctx, r, "web search failed: "+ev.Error)

	default:
		// Events without a handler still surface their text.
		switch {
		case ev.Content != "":
			r.with(func(t *turn.Turn) { t.Answer += ev.Content })
			s.publish(ctx, ws.EventTurnText, ws.TurnTextEvent{TurnID: r.t.ID, SessionID: r.t.SessionID, Content: ev.Content})
		case ev.Message != "":
			r.with(func(t *turn.Turn) { t.Answer = ev.Message })
			s.publish(ctx, ws.EventTurnText, ws.TurnTextEvent{TurnID: r.t.ID, SessionID: r.t.SessionID, Content: ev.Message, Replace: true})
		default:
			slog.DebugContext(ctx, "ignoring stream event", "type", ev.Type)
		}
	}
}

// gateRequest handles one desktop tool request from evaluation through the
// result posted back to the backend. It blocks while a decision is pending.
func (s *TurnService) gateRequest(ctx context.Context, r *run, ev event.Event) {
	turnID, sessionID, reqID := r.t.ID, r.t.SessionID, ev.RequestID

	eval := s.policies.Evaluate(ev.Tool, ev.Input)
	ctx, span := cfotel.StartGateSpan(ctx, reqID, ev.Tool, string(eval.Risk))
	defer span.End()

	log := slog.With("request_id", reqID, "tool", ev.Tool, "risk", eval.Risk, "policy", eval.Policy)
	s.metrics.GateRequest(ctx, string(eval.Risk), string(eval.Policy), eval.Gated)

	s.publishRecord(ctx, r, r.tl.Attach(ev.Tool, ev.Input, reqID))

	// A reused ID must not touch the pending request's ledger link.
	if s.gate.Registry().Pending(reqID) {
		s.rejectRequest(ctx, r, reqID, errAlreadyPending(reqID))
		return
	}

	greq := Request{
		TurnID:      turnID,
		SessionID:   sessionID,
		RequestID:   reqID,
		Tool:        ev.Tool,
		Input:       ev.Input,
		Description: risk.Describe(ev.Tool, ev.Input),
		Eval:        eval,
	}
	recordID, err := s.gate.Open(ctx, greq)
	if err != nil {
		log.WarnContext(ctx, "approval ledger unavailable, gating locally", "error", err)
		s.warn(ctx, r, "approval ledger unavailable, deciding locally")
	}
	defer s.gate.Forget(reqID)

	started := time.Now()
	var out Outcome
	suspended := false

	if !eval.Gated {
		out = Outcome{Approved: true, Source: approval.SourcePolicy}
	} else {
		ch, pending, err := s.gate.Registry().Register(turnID, reqID)
		if err != nil {
			s.rejectRequest(ctx, r, reqID, err)
			return
		}
		if pending {
			if err := r.tl.Suspend(reqID); err != nil {
				log.ErrorContext(ctx, "suspend timeline record", "error", err)
			}
			suspended = true
			s.publishRequest(ctx, r, reqID)
			s.publish(ctx, ws.EventPermissionRequest, ws.PermissionRequestEvent{
				TurnID:      turnID,
				SessionID:   sessionID,
				RequestID:   reqID,
				RecordID:    recordID,
				Tool:        ev.Tool,
				Risk:        eval.Risk,
				Policy:      eval.Policy,
				Description: greq.Description,
				Input:       ev.Input,
			})
			log.InfoContext(ctx, "approval requested", "record_id", recordID)
		}

		select {
		case out = <-ch:
		case <-ctx.Done():
			s.gate.Registry().Resolve(reqID, Outcome{Approved: false, Source: approval.SourceStop})
			out = <-ch
		}
	}

	// A stopped turn never executes, whatever arrived.
	if ctx.Err() != nil && out.Approved {
		out = Outcome{Approved: false, Source: approval.SourceStop, Recorded: out.Recorded}
	}

	if !out.Recorded {
		rec, err := s.gate.Record(ctx, reqID, out.Approved, out.Source, "", "")
		switch {
		case err != nil:
			log.WarnContext(ctx, "ledger write-back failed", "error", err)
			s.warn(ctx, r, "approval ledger unavailable, decision not recorded")
		case rec != nil && out.Approved && !rec.Approved():
			log.InfoContext(ctx, "ledger already denied the request, adopting", "record_id", rec.ID, "status", rec.Status)
			out = Outcome{Approved: false, Source: approval.SourceLedger, Recorded: true}
		}
	}

	s.metrics.GateDecision(ctx, string(out.Source), out.Approved, time.Since(started))
	log.InfoContext(ctx, "gate decision", "approved", out.Approved, "source", out.Source, "gated", eval.Gated)
	if eval.Gated {
		s.publish(ctx, ws.EventPermissionResolved, ws.PermissionResolvedEvent{
			TurnID:    turnID,
			SessionID: sessionID,
			RequestID: reqID,
			Approved:  out.Approved,
			Source:    out.Source,
		})
	}

	var result event.ToolResult
	if out.Approved {
		if suspended {
			if err := r.tl.Approve(reqID); err != nil {
				log.ErrorContext(ctx, "resume timeline record", "error", err)
			}
		}
		result = s.execute(ctx, ev)
		if err := r.tl.Complete(reqID, result.Success, result.Summary(), nil); err != nil {
			log.ErrorContext(ctx, "complete timeline record", "error", err)
		}
	} else {
		msg := event.DeniedMessage
		if out.Source == approval.SourceStop {
			msg = event.StoppedMessage
		}
		if err := r.tl.Deny(reqID, msg); err != nil {
			log.ErrorContext(ctx, "deny timeline record", "error", err)
		}
		result = event.Denied(msg)
	}
	s.publishRequest(ctx, r, reqID)
	s.submit(ctx, reqID, result)
}

// rejectRequest fails a desktop request that cannot enter the gate.
func (s *TurnService) rejectRequest(ctx context.Context, r *run, reqID string, err error) {
	slog.WarnContext(ctx, "desktop request rejected", "request_id", reqID, "error", err)
	_ = r.tl.Complete(reqID, false, err.Error(), nil)
	s.publishRequest(ctx, r, reqID)
	s.submit(ctx, reqID, event.Failed(err))
}

func (s *TurnService) execute(ctx context.Context, ev event.Event) event.ToolResult {
	result, err := s.exec.Execute(ctx, ev.Tool, ev.Input)
	if err != nil {
		slog.WarnContext(ctx, "desktop tool execution failed", "request_id", ev.RequestID, "tool", ev.Tool, "error", err)
		return event.Failed(err)
	}
	return result
}

// submit posts a result back to the backend. It outlives a stop so the
// backend learns the request was rejected.
func (s *TurnService) submit(ctx context.Context, requestID string, result event.ToolResult) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitTimeout)
	defer cancel()
	if err := s.backend.SubmitResult(sctx, requestID, result); err != nil {
		slog.WarnContext(ctx, "submit desktop result failed", "request_id", requestID, "error", err)
	}
}

func (s *TurnService) finish(ctx context.Context, r *run, status turn.Status, errMsg string) {
	turnID := r.t.ID

	// A stop requested through Stop wins over whatever the stream reported.
	r.with(func(t *turn.Turn) {
		if t.Status == turn.StatusStopped {
			status, errMsg = turn.StatusStopped, ""
		}
	})

	switch status {
	case turn.StatusStopped:
		s.gate.Registry().CloseTurn(turnID)
		r.tl.Interrupt("stopped")
	case turn.StatusError:
		r.tl.Interrupt(errMsg)
	}
	s.gate.Registry().EndTurn(turnID)

	r.with(func(t *turn.Turn) {
		t.Status = status
		t.Error = errMsg
		t.Searching = false
		t.EndedAt = time.Now().UTC()
	})
	snap := r.snapshot()

	if s.history != nil {
		if err := s.history.Put(context.WithoutCancel(ctx), snap, s.cfg.HistoryTTL); err != nil {
			slog.WarnContext(ctx, "store turn history failed", "error", err)
		}
	}
	s.mu.Lock()
	delete(s.active, turnID)
	s.mu.Unlock()

	s.metrics.TurnFinished(ctx, string(status), snap.EndedAt.Sub(snap.StartedAt))
	s.publish(ctx, ws.EventTurnStatus, ws.TurnStatusEvent{TurnID: turnID, SessionID: snap.SessionID, Status: status, Error: errMsg})
	slog.InfoContext(ctx, "turn finished", "status", status, "records", len(snap.Timeline), "error", errMsg)

	r.cancel()
	close(r.done)
}

func (s *TurnService) warn(ctx context.Context, r *run, msg string) {
	r.with(func(t *turn.Turn) { t.Warnings = append(t.Warnings, msg) })
	s.publish(ctx, ws.EventTurnWarning, ws.TurnWarningEvent{TurnID: r.t.ID, SessionID: r.t.SessionID, Message: msg})
}

func (s *TurnService) publishRecord(ctx context.Context, r *run, idx int) {
	if s.hub == nil {
		return
	}
	rec, ok := r.tl.At(idx)
	if !ok {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventTurnTimeline, ws.TurnTimelineEvent{TurnID: r.t.ID, SessionID: r.t.SessionID, Record: rec})
}

func (s *TurnService) publishRequest(ctx context.Context, r *run, requestID string) {
	if s.hub == nil {
		return
	}
	if rec, ok := r.tl.Find(requestID); ok {
		s.hub.BroadcastEvent(ctx, ws.EventTurnTimeline, ws.TurnTimelineEvent{TurnID: r.t.ID, SessionID: r.t.SessionID, Record: rec})
	}
}

func (s *TurnService) publish(ctx context.Context, eventType string, payload any) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, eventType, payload)
	}
}
