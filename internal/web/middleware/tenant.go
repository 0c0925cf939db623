package middleware

import (
	"context"
	"net/http"
	"strings"
)

// TenantHeader identifies the tenant on API requests. It stands in for the
// tenant claim an authenticating proxy would otherwise provide.
const TenantHeader = "X-Tenant-ID"

type tenantKey struct{}

// Tenant stores the trimmed X-Tenant-ID header in the request context.
// Requests without the header pass through with no tenant; handlers that
// write or look up records reject them.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant := strings.TrimSpace(r.Header.Get(TenantHeader)); tenant != "" {
			r = r.WithContext(WithTenant(r.Context(), tenant))
		}
		next.ServeHTTP(w, r)
	})
}

// WithTenant returns a copy of ctx carrying tenant.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the tenant, or "" if none was set.
func TenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey{}).(string)
	return tenant
}
