package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// NodeHandler exposes node-level read and terminate operations.
type NodeHandler struct {
	core   *provisioner.Core
	logger *slog.Logger
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(core *provisioner.Core, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{core: core, logger: logger}
}

// Routes returns the chi router mounted at /nodes.
func (h *NodeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/terminate", h.handleTerminate)
	r.Get("/", h.handleGetByID)
	return r
}

type terminateNodesRequest struct {
	NodeIDs []string `json:"node_ids" validate:"required,min=1"`
}

// handleTerminate destroys the given nodes via their owning launch's IaaS
// driver in a detached goroutine, matching the async pattern used for
// launch termination.
func (h *NodeHandler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req terminateNodesRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	go func() {
		ctx := context.Background()
		if err := h.core.TerminateNodes(ctx, req.NodeIDs); err != nil {
			h.logger.Error("terminate nodes failed", "error", err)
		}
	}()

	Respond(w, http.StatusAccepted, map[string]string{"status": "terminating"})
}

// handleGetByID returns the current record for each requested node id,
// preserving the query's order; unknown ids are reported as null entries.
func (h *NodeHandler) handleGetByID(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		RespondError(w, http.StatusBadRequest, "bad_request", "at least one ?id= query param is required")
		return
	}

	nodes, err := h.core.Store().GetNodesByID(r.Context(), ids)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	Respond(w, http.StatusOK, map[string]any{"nodes": nodes})
}
