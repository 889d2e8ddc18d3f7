package agentbackend_test

import (
	"context"
	"slices"
	"testing"

	"github.com/Strob0t/deskgate/internal/domain/event"
	"github.com/Strob0t/deskgate/internal/port/agentbackend"
)

type testBackend struct {
	name string
}

func (b *testBackend) Name() string { return b.name }
func (b *testBackend) Stream(_ context.Context, _ agentbackend.ChatRequest) (agentbackend.Stream, error) {
	return nil, nil
}
func (b *testBackend) SubmitResult(_ context.Context, _ string, _ event.ToolResult) error { return nil }

func TestRegisterAndNew(t *testing.T) {
	agentbackend.Register("test-agent", func(cfg map[string]string) (agentbackend.Backend, error) {
		return &testBackend{name: cfg["name"]}, nil
	})

	b, err := agentbackend.New("test-agent", map[string]string{"name": "configured"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != "configured" {
		t.Fatalf("expected configured, got %s", b.Name())
	}
	if !slices.Contains(agentbackend.Available(), "test-agent") {
		t.Fatal("expected test-agent in Available()")
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := agentbackend.New("nonexistent", nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	agentbackend.Register("dup-agent", func(_ map[string]string) (agentbackend.Backend, error) {
		return &testBackend{}, nil
	})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	agentbackend.Register("dup-agent", func(_ map[string]string) (agentbackend.Backend, error) {
		return &testBackend{}, nil
	})
}
