package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type problemBody struct {
	Type     string `json:"type"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

func setupRouter(t *testing.T) (*mux.Router, *Engine) {
	t.Helper()
	e, _ := newTestEngine(t)
	svc := NewService(e, testLogger())

	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router, e
}

func doRequest(t *testing.T, router *mux.Router, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) problemBody {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p problemBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestHandleCreateFlow_Success(t *testing.T) {
	router, _ := setupRouter(t)

	w := doRequest(t, router, "POST", "/api/v1/flows", owner, chainRequest("a", "b"))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result FlowGraph
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.NotNil(t, result.Flow)
	assert.Equal(t, owner, result.Flow.UserID)
	assert.Len(t, result.Nodes, 2)
	assert.Equal(t, result.Nodes[0].ID, result.Flow.HeadNode)
}

func TestHandleCreateFlow_Errors(t *testing.T) {
	router, _ := setupRouter(t)

	noTitle := chainRequest("a")
	noTitle.Title = ""

	tests := []struct {
		name       string
		caller     string
		body       any
		wantStatus int
		wantType   string
	}{
		{"missing caller", "", chainRequest("a"), http.StatusUnauthorized, "unauthorized"},
		{"malformed body", owner, "not an object", http.StatusBadRequest, "validation_error"},
		{"missing title", owner, noTitle, http.StatusBadRequest, "validation_error"},
		{"unknown temporary id", owner, flowRequest(nodeSpec("a", "ghost")), http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, "POST", "/api/v1/flows", tt.caller, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, "/api/v1/flows", p.Instance)
		})
	}
}

func TestHandleCreateFlow_ValidationDetail(t *testing.T) {
	router, _ := setupRouter(t)

	req := chainRequest("a")
	req.Title = ""
	w := doRequest(t, router, "POST", "/api/v1/flows", owner, req)

	p := decodeProblem(t, w)
	assert.Contains(t, p.Detail, "title is required")
}

func TestHandleFlowLifecycle(t *testing.T) {
	router, e := setupRouter(t)
	graph, ids := createFlow(t, e, chainRequest("a", "b", "c"))
	base := "/api/v1/flows/" + graph.Flow.ID

	w := doRequest(t, router, "GET", base, stranger, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got FlowGraph
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got.Nodes, 3)

	w = doRequest(t, router, "GET", base+"/head", owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var head FlowHead
	require.NoError(t, json.NewDecoder(w.Body).Decode(&head))
	assert.Equal(t, ids["a"], head.HeadNode.ID)

	w = doRequest(t, router, "POST", base+"/nodes", owner, AddNodeRequest{PreviousNodeID: ids["c"], Node: NodeContent{Title: "d"}})
	assert.Equal(t, http.StatusCreated, w.Code)
	var added Node
	require.NoError(t, json.NewDecoder(w.Body).Decode(&added))
	assert.Equal(t, "d", added.Title)

	w = doRequest(t, router, "PUT", base+"/nodes", owner, UpdateNodesRequest{NodesToDelete: []string{added.ID}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, "DELETE", base+"/nodes/"+ids["b"], owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, "DELETE", base+"/nodes/"+ids["a"], owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "head_node", decodeProblem(t, w).Type)

	w = doRequest(t, router, "POST", base+"/commit", owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, "POST", base+"/nodes", owner, AddNodeRequest{PreviousNodeID: ids["a"]})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, "GET", "/api/v1/flows", owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Flows []Flow `json:"flows"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Flows, 1)
	assert.Equal(t, []string{ids["a"]}, list.Flows[0].Nodes)

	w = doRequest(t, router, "DELETE", base, owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, "GET", base, owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleErrors_StatusMapping(t *testing.T) {
	router, e := setupRouter(t)

	req := chainRequest("a")
	req.Visibility = VisibilityPrivate
	graph, ids := createFlow(t, e, req)
	base := "/api/v1/flows/" + graph.Flow.ID

	tests := []struct {
		name       string
		method     string
		path       string
		caller     string
		body       any
		wantStatus int
	}{
		{"private flow for stranger", "GET", base, stranger, nil, http.StatusForbidden},
		{"missing flow", "GET", "/api/v1/flows/missing", owner, nil, http.StatusNotFound},
		{"missing node", "DELETE", base + "/nodes/missing", owner, nil, http.StatusNotFound},
		{"edit by stranger", "POST", base + "/nodes", stranger, AddNodeRequest{PreviousNodeID: ids["a"]}, http.StatusForbidden},
		{"delete flow by stranger", "DELETE", base, stranger, nil, http.StatusForbidden},
		{"bad bulk update", "PUT", base + "/nodes", owner, UpdateNodesRequest{NodeUpserts: []NodeSpec{nodeSpec("x", "ghost")}}, http.StatusBadRequest},
		{"no caller", "GET", base, "", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus, decodeProblem(t, w).Status)
		})
	}
}

func TestHandleError_StorageFailureHidesDetail(t *testing.T) {
	store := NewMemoryRepository()
	healthy := NewEngine(store, NewKeyedMutex(), testLogger())
	graph, ids := createFlow(t, healthy, chainRequest("a", "b"))

	broken := NewEngine(&failingStore{MemoryRepository: store, failOn: "UpdateFlow"}, NewKeyedMutex(), testLogger())
	router := mux.NewRouter()
	NewService(broken, testLogger()).LoadRoutes(router.PathPrefix("/api/v1").Subrouter())

	w := doRequest(t, router, "DELETE", "/api/v1/flows/"+graph.Flow.ID+"/nodes/"+ids["b"], owner, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, "internal server error", p.Detail)
	assert.NotContains(t, p.Detail, errDiskFull.Error())
}

type downStore struct {
	*MemoryRepository
}

func (downStore) Ping(context.Context) error {
	return errDiskFull
}

func TestHandleHealth(t *testing.T) {
	router, _ := setupRouter(t)

	w := doRequest(t, router, "GET", "/api/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewEngine(downStore{NewMemoryRepository()}, NewKeyedMutex(), testLogger())
	downRouter := mux.NewRouter()
	NewService(down, testLogger()).LoadRoutes(downRouter.PathPrefix("/api/v1").Subrouter())

	w = doRequest(t, downRouter, "GET", "/api/v1/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
