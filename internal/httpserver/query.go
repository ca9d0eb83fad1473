package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// QueryHandler exposes a manual trigger for the reconciler's query pass,
// useful for operators who want to force a reconciliation ahead of the
// background ticker.
type QueryHandler struct {
	core   *provisioner.Core
	logger *slog.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(core *provisioner.Core, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{core: core, logger: logger}
}

// HandleTrigger runs one synchronous query pass across every known site.
func (h *QueryHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.core.QueryNodes(r.Context()); err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "queried"})
}
