package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/deskgate/internal/domain/approval"
)

func TestOrganization(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"header set", "acme", "acme"},
		{"header blank", "   ", approval.DefaultOrganization},
		{"header missing", "", approval.DefaultOrganization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := Organization(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = OrganizationFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("X-Organization-ID", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("organization = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOrganizationFromEmptyContext(t *testing.T) {
	if got := OrganizationFromContext(context.Background()); got != approval.DefaultOrganization {
		t.Errorf("expected default organization, got %q", got)
	}
}
