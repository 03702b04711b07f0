package httpx

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"net/http"
	"strings"
)

// Identity is issued by the upstream session service and forwarded as headers.
const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
	headerToken    = "token"
)

type actorKey struct{}

func actorFrom(ctx context.Context) (orders.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(orders.Actor)
	return a, ok
}

// Authenticate rejects requests without an identity with 401.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerUserID))
		if id == "" {
			id = strings.TrimSpace(r.Header.Get(headerToken))
		}
		if id == "" {
			writeFail(w, http.StatusUnauthorized, "Not authorized, login again", "Unauthorized")
			return
		}
		actor := orders.Buyer(id)
		if strings.EqualFold(r.Header.Get(headerUserRole), string(orders.RoleAdmin)) {
			actor = orders.Admin(id)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorFrom(r.Context())
		if !ok {
			writeFail(w, http.StatusUnauthorized, "Not authorized, login again", "Unauthorized")
			return
		}
		if !a.IsAdmin() {
			writeFail(w, http.StatusForbidden, "Admin access required", "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
