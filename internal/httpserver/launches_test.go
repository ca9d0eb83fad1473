package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nimbus-provisioner/provisioner/pkg/clusterdoc"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner/memstore"
)

// withURLParam injects a chi route param into req's context, for calling a
// handler method directly without going through chi's router/mux.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	*req = *req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return req
}

type stubNotifier struct{}

func (stubNotifier) Notify(ctx context.Context, subscribers []string, nodes []provisioner.NodeRecord) error {
	return nil
}

type stubDTRS struct{ fail bool }

func (s stubDTRS) Lookup(ctx context.Context, deployableType string, nodes map[string]provisioner.NodesSummary, vars map[string]string) (provisioner.DeployableTypeLookup, error) {
	if s.fail {
		return provisioner.DeployableTypeLookup{}, &provisioner.DeployableTypeLookupError{Reason: "unknown type"}
	}
	return provisioner.DeployableTypeLookup{Document: "groups:\n  compute:\n    count: 1\n"}, nil
}

type stubBroker struct{}

func (stubBroker) Create(ctx context.Context) (provisioner.LaunchContext, error) {
	return provisioner.LaunchContext{}, nil
}

func (stubBroker) Query(ctx context.Context, uri string) (provisioner.ContextQueryResult, error) {
	return provisioner.ContextQueryResult{}, nil
}

func newTestCore(t *testing.T) *provisioner.Core {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return provisioner.New(memstore.New(), stubNotifier{}, stubDTRS{}, stubBroker{}, clusterdoc.NewParser(), map[string]provisioner.IaaSDriver{}, nil,
		provisioner.WithLogger(logger))
}

func TestHandleCreateAndGet(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core := newTestCore(t)
	h := NewLaunchHandler(core, logger)

	reqBody, _ := json.Marshal(createLaunchRequest{
		DeployableType: "hadoop-cluster",
		LaunchID:       "launch-1",
		Subscribers:    []string{"slack:#alerts"},
		Nodes: map[string]provisioner.NodeGroupRequest{
			"compute": {IDs: []string{"node-1"}, Site: "ec2-east", Allocation: "alloc-a"},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	h.handleCreate(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created launchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Launch.State != provisioner.Requested {
		t.Errorf("launch state = %v, want Requested", created.Launch.State)
	}
	if len(created.Nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(created.Nodes))
	}

	getReq := httptest.NewRequest(http.MethodGet, "/launch-1", nil)
	getRec := httptest.NewRecorder()
	withURLParam(getReq, "launchID", "launch-1")
	h.handleGet(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", getRec.Code, getRec.Body.String())
	}
}

func TestHandleGetNotFound(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewLaunchHandler(newTestCore(t), logger)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	withURLParam(req, "launchID", "missing")
	rec := httptest.NewRecorder()
	h.handleGet(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCreateInvalidRequest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewLaunchHandler(newTestCore(t), logger)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.handleCreate(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}
