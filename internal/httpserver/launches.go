package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// LaunchHandler exposes the provisioner core's operations over HTTP for
// programmatic controller callers.
type LaunchHandler struct {
	core   *provisioner.Core
	logger *slog.Logger
}

// NewLaunchHandler creates a LaunchHandler.
func NewLaunchHandler(core *provisioner.Core, logger *slog.Logger) *LaunchHandler {
	return &LaunchHandler{core: core, logger: logger}
}

// Routes returns the chi router mounted at /launches.
func (h *LaunchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{launchID}", h.handleGet)
	r.Post("/{launchID}/terminate", h.handleTerminateLaunch)
	return r
}

type createLaunchRequest struct {
	DeployableType string                                 `json:"deployable_type" validate:"required"`
	LaunchID       string                                  `json:"launch_id" validate:"required"`
	Subscribers    []string                                `json:"subscribers"`
	Nodes          map[string]provisioner.NodeGroupRequest `json:"nodes" validate:"required,min=1"`
	Vars           map[string]string                       `json:"vars,omitempty"`
}

type launchResponse struct {
	Launch provisioner.LaunchRecord `json:"launch"`
	Nodes  []provisioner.NodeRecord `json:"nodes"`
}

// handleCreate validates and persists a launch request (PrepareProvision),
// then hands the heavier IaaS/context work (ExecuteProvision) to a
// detached goroutine so the caller is not held open for the driver round
// trip. The launch is visible as REQUESTED or FAILED immediately; poll
// GET /launches/{launchID} for the PENDING/RUNNING transition.
func (h *LaunchHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createLaunchRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	launch, nodes, err := h.core.PrepareProvision(r.Context(), provisioner.LaunchRequest{
		DeployableType: req.DeployableType,
		LaunchID:       req.LaunchID,
		Subscribers:    req.Subscribers,
		Nodes:          req.Nodes,
		Vars:           req.Vars,
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if launch.State == provisioner.Requested {
		go func() {
			ctx := context.Background()
			if err := h.core.ExecuteProvision(ctx, launch, nodes); err != nil {
				h.logger.Error("execute provision failed", "launch_id", launch.LaunchID, "error", err)
			}
		}()
	}

	Respond(w, http.StatusAccepted, launchResponse{Launch: launch, Nodes: nodes})
}

func (h *LaunchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	launchID := chi.URLParam(r, "launchID")

	launch, err := h.core.Store().GetLaunch(r.Context(), launchID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	nodes, err := h.core.Store().GetLaunchNodes(r.Context(), launchID)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	Respond(w, http.StatusOK, launchResponse{Launch: launch, Nodes: nodes})
}

func (h *LaunchHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var state *provisioner.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "bad_request", "state must be an integer")
			return
		}
		s := provisioner.State(n)
		state = &s
	}

	launches, err := h.core.Store().GetLaunches(r.Context(), state)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	Respond(w, http.StatusOK, map[string]any{"launches": launches})
}

// handleTerminateLaunch marks every non-terminal node of the launch
// TERMINATING immediately, then destroys them via the IaaS driver in a
// detached goroutine.
func (h *LaunchHandler) handleTerminateLaunch(w http.ResponseWriter, r *http.Request) {
	launchID := chi.URLParam(r, "launchID")

	if err := h.core.MarkLaunchTerminating(r.Context(), launchID); err != nil {
		h.respondStoreError(w, err)
		return
	}

	go func() {
		ctx := context.Background()
		if err := h.core.TerminateLaunch(ctx, launchID); err != nil {
			h.logger.Error("terminate launch failed", "launch_id", launchID, "error", err)
		}
	}()

	Respond(w, http.StatusAccepted, map[string]string{"status": "terminating"})
}

func (h *LaunchHandler) respondStoreError(w http.ResponseWriter, err error) {
	if err == provisioner.ErrLaunchNotFound {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	RespondError(w, http.StatusInternalServerError, "internal", err.Error())
}
