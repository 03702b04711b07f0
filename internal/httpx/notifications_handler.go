package httpx

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"net/http"
)

type InboxReader interface {
	List(ctx context.Context, userID string) ([]redisx.Notification, error)
}

type NotificationsHandler struct {
	Inbox InboxReader
}

func (h *NotificationsHandler) Register(r chi.Router) {
	r.With(Authenticate).Get("/notifications/mine", h.listMine)
}

func (h *NotificationsHandler) listMine(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	list, err := h.Inbox.List(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "notifications": list})
}
