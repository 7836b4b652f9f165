package flow

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Service exposes the graph engine over HTTP.
type Service struct {
	engine *Engine
	logger *slog.Logger
}

// NewService creates a Service serving engine.
func NewService(engine *Engine, logger *slog.Logger) *Service {
	return &Service{engine: engine, logger: logger}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the flow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.HandleFunc("/healthz", s.HandleHealth).Methods("GET")

	router := parentRouter.PathPrefix("/flows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware, identityMiddleware)

	router.HandleFunc("", s.HandleCreateFlow).Methods("POST")
	router.HandleFunc("", s.HandleListFlows).Methods("GET")
	router.HandleFunc("/{flowId}", s.HandleGetFlow).Methods("GET")
	router.HandleFunc("/{flowId}", s.HandleDeleteFlow).Methods("DELETE")
	router.HandleFunc("/{flowId}/head", s.HandleGetFlowHead).Methods("GET")
	router.HandleFunc("/{flowId}/commit", s.HandleCommitFlow).Methods("POST")
	router.HandleFunc("/{flowId}/nodes", s.HandleAddNode).Methods("POST")
	router.HandleFunc("/{flowId}/nodes", s.HandleUpdateNodes).Methods("PUT")
	router.HandleFunc("/{flowId}/nodes/{nodeId}", s.HandleDeleteNode).Methods("DELETE")
}
