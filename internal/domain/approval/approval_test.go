package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/risk"
)

func TestParseDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{"approved", DecisionApproved, false},
		{"Allow", DecisionApproved, false},
		{" deny ", DecisionDenied, false},
		{"denied", DecisionDenied, false},
		{"expired", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDecision(tt.in)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseDecision(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestCreateRequestNormalize(t *testing.T) {
	t.Parallel()

	req := CreateRequest{ToolName: "run_command"}
	if err := req.Normalize(); err != nil {
		t.Fatal(err)
	}
	if req.OrganizationID != DefaultOrganization || req.Source != DefaultSource || req.RiskLevel != risk.Medium {
		t.Fatalf("defaults not applied: %+v", req)
	}

	bad := CreateRequest{ToolName: "x", RiskLevel: "extreme"}
	if err := bad.Normalize(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	missing := CreateRequest{}
	if err := missing.Normalize(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing tool, got %v", err)
	}
}

func TestCreateRequestTTL(t *testing.T) {
	t.Parallel()

	zero, custom := 0, 30
	tests := []struct {
		name string
		ttl  *int
		want time.Duration
	}{
		{"default", nil, DefaultTTL},
		{"no expiry", &zero, 0},
		{"custom", &custom, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := CreateRequest{TTLSeconds: tt.ttl}
			if got := req.TTL(); got != tt.want {
				t.Fatalf("TTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideRequestNormalize(t *testing.T) {
	t.Parallel()

	req := DecideRequest{Decision: "approve"}
	if err := req.Normalize(); err != nil {
		t.Fatal(err)
	}
	if req.Decision != DecisionApproved || req.DecidedBy != DefaultDecidedBy {
		t.Fatalf("unexpected normalized request %+v", req)
	}
}

func TestClampedLimit(t *testing.T) {
	t.Parallel()

	tests := map[int]int{0: 50, -3: 50, 1: 1, 200: 200, 201: 200, 10000: 200}
	for in, want := range tests {
		if got := (ListFilter{Limit: in}).ClampedLimit(); got != want {
			t.Errorf("ClampedLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestListFilterMatches(t *testing.T) {
	t.Parallel()

	r := &Record{
		Status:         StatusPending,
		OrganizationID: "org-1",
		ToolName:       "run_command",
		RiskLevel:      risk.High,
		Payload:        Payload{SessionID: "s1"},
	}
	if !(ListFilter{}).Matches(r) {
		t.Error("empty filter should match")
	}
	if !(ListFilter{Status: StatusPending, OrganizationID: "org-1", SessionID: "s1"}).Matches(r) {
		t.Error("full filter should match")
	}
	if (ListFilter{SessionID: "s2"}).Matches(r) {
		t.Error("session mismatch should not match")
	}
	if (ListFilter{Status: StatusApproved}).Matches(r) {
		t.Error("status mismatch should not match")
	}
	if !(ListFilter{ToolName: "run_command", RiskLevel: risk.High}).Matches(r) {
		t.Error("tool and risk filter should match")
	}
	if (ListFilter{RiskLevel: risk.Low}).Matches(r) {
		t.Error("risk mismatch should not match")
	}
}

func TestRecordExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Second)
	r := &Record{Status: StatusPending, ExpiresAt: &past}
	if !r.Expired(now) {
		t.Error("expected expired")
	}
	r.Status = StatusApproved
	if r.Expired(now) {
		t.Error("decided records never expire")
	}
	r = &Record{Status: StatusPending}
	if r.Expired(now) {
		t.Error("records without expiry never expire")
	}
}
