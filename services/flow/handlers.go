package flow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/moogar0880/problems"
)

// HandleCreateFlow builds a flow and its initial graph from the request body.
func (s *Service) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	graph, err := s.engine.CreateFlow(r.Context(), CallerFrom(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, graph)
}

// HandleListFlows lists the caller's own flows.
func (s *Service) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.engine.ListFlows(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

// HandleGetFlow returns a flow with all of its nodes.
func (s *Service) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]
	s.logger.DebugContext(r.Context(), "Getting flow", "flowId", flowID)

	graph, err := s.engine.GetFlowWithNodes(r.Context(), CallerFrom(r.Context()), flowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, graph)
}

// HandleGetFlowHead returns a flow with its head node.
func (s *Service) HandleGetFlowHead(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]

	head, err := s.engine.GetFlowHead(r.Context(), CallerFrom(r.Context()), flowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, head)
}

// HandleDeleteFlow removes a flow and all of its nodes.
func (s *Service) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]

	if err := s.engine.DeleteFlow(r.Context(), CallerFrom(r.Context()), flowID); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "flow deleted"})
}

// HandleCommitFlow freezes a flow against further structural edits.
func (s *Service) HandleCommitFlow(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]

	f, err := s.engine.CommitFlow(r.Context(), CallerFrom(r.Context()), flowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// HandleAddNode appends a node after an existing one.
func (s *Service) HandleAddNode(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]

	var req AddNodeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n, err := s.engine.AddNode(r.Context(), CallerFrom(r.Context()), flowID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

// HandleUpdateNodes applies a bulk upsert and delete to a flow's nodes.
func (s *Service) HandleUpdateNodes(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]

	var req UpdateNodesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.UpdateNodeConnections(r.Context(), CallerFrom(r.Context()), flowID, req); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "nodes updated"})
}

// HandleDeleteNode removes a node and every node it leaves unreachable.
func (s *Service) HandleDeleteNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.engine.DeleteNode(r.Context(), CallerFrom(r.Context()), vars["flowId"], vars["nodeId"]); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "node deleted"})
}

// HandleHealth reports whether the store is reachable.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "Health check failed", "error", err)
		writeProblem(w, r, http.StatusServiceUnavailable, "unavailable", "store is unreachable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an engine error to a problem response. Storage failures
// are logged and reported without detail.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidGraphSpec):
		writeProblem(w, r, http.StatusBadRequest, "validation_error", errorDetail(err))
	case errors.Is(err, ErrCannotDeleteHead):
		writeProblem(w, r, http.StatusBadRequest, "head_node", errorDetail(err))
	case errors.Is(err, ErrUnauthorized):
		if CallerFrom(r.Context()) == "" {
			writeProblem(w, r, http.StatusUnauthorized, "unauthorized", errorDetail(err))
			return
		}
		writeProblem(w, r, http.StatusForbidden, "forbidden", errorDetail(err))
	case errors.Is(err, ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "not_found", errorDetail(err))
	case errors.Is(err, ErrFlowCommitted):
		writeProblem(w, r, http.StatusConflict, "flow_committed", errorDetail(err))
	default:
		s.logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// errorDetail drops the operation prefix a GraphError adds.
func errorDetail(err error) string {
	var gerr *GraphError
	if errors.As(err, &gerr) {
		return gerr.Err.Error()
	}
	return err.Error()
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, kind, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(kind).
		WithDetail(detail)

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}
