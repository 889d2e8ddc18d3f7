package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/deskgate/internal/domain/approval"
)

const headerOrganizationID = "X-Organization-ID"

type orgCtxKey struct{}

// Organization extracts X-Organization-ID from the request and stores it in
// the context. Requests without the header fall back to the default
// organization.
func Organization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := strings.TrimSpace(r.Header.Get(headerOrganizationID))
		if org == "" {
			org = approval.DefaultOrganization
		}
		next.ServeHTTP(w, r.WithContext(WithOrganization(r.Context(), org)))
	})
}

// WithOrganization returns a context carrying org.
func WithOrganization(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, orgCtxKey{}, org)
}

// OrganizationFromContext returns the organization set by Organization,
// or the default organization.
func OrganizationFromContext(ctx context.Context) string {
	if org, ok := ctx.Value(orgCtxKey{}).(string); ok && org != "" {
		return org
	}
	return approval.DefaultOrganization
}
