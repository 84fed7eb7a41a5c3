// Package admin exposes a gorilla/mux HTTP management API over tenants,
// the endpoint registry, and per-tenant usage — the operational surface a
// deployment's control plane drives.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/YASSERRMD/AiMesh/monitoring"
	"github.com/YASSERRMD/AiMesh/router"
	"github.com/YASSERRMD/AiMesh/tenancy"
)

// Server wires the tenant manager and endpoint registry into an HTTP
// surface for operators.
type Server struct {
	tenants  *tenancy.Manager
	registry *router.Registry
	monitor  *monitoring.Monitor
	logger   *zap.SugaredLogger
}

// New builds an admin Server over the given collaborators. monitor may be
// nil, in which case /metrics is not registered.
func New(tenants *tenancy.Manager, registry *router.Registry, monitor *monitoring.Monitor, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{tenants: tenants, registry: registry, monitor: monitor, logger: logger}
}

// RegisterRoutes attaches every admin route to router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants", s.createTenant).Methods("POST")
	router.HandleFunc("/tenants", s.listTenants).Methods("GET")
	router.HandleFunc("/tenants/{tenant_id}", s.getTenant).Methods("GET")
	router.HandleFunc("/tenants/{tenant_id}", s.deleteTenant).Methods("DELETE")
	router.HandleFunc("/tenants/{tenant_id}/tier", s.updateTier).Methods("PUT")
	router.HandleFunc("/tenants/{tenant_id}/activate", s.activateTenant).Methods("POST")
	router.HandleFunc("/tenants/{tenant_id}/suspend", s.suspendTenant).Methods("POST")
	router.HandleFunc("/tenants/{tenant_id}/usage", s.getUsage).Methods("GET")

	router.HandleFunc("/endpoints", s.listEndpoints).Methods("GET")
	router.HandleFunc("/endpoints", s.registerEndpoint).Methods("POST")
	router.HandleFunc("/endpoints/{endpoint_id}", s.getEndpoint).Methods("GET")
	router.HandleFunc("/endpoints/{endpoint_id}", s.removeEndpoint).Methods("DELETE")

	if s.monitor != nil {
		router.Handle("/metrics", s.monitor.Handler()).Methods("GET")
	}
}

type createTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	tier, err := parseTier(req.Tier)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := s.tenants.CreateTenant(req.ID, req.Name, tier, nowUnix())
	s.writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tenants.ListTenants())
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tenant_id"]
	t, err := s.tenants.GetTenant(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tenant_id"]
	if err := s.tenants.DeleteTenant(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateTierRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) updateTier(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tenant_id"]
	var req updateTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tier, err := parseTier(req.Tier)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.tenants.UpdateTier(id, tier); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activateTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tenant_id"]
	if err := s.tenants.Activate(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) suspendTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tenant_id"]
	if err := s.tenants.Suspend(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tenant_id"]
	usage, err := s.tenants.GetUsage(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) registerEndpoint(w http.ResponseWriter, r *http.Request) {
	var m router.EndpointMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if m.EndpointID == "" {
		s.writeError(w, http.StatusBadRequest, "endpoint_id is required")
		return
	}
	s.registry.Register(m)
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["endpoint_id"]
	m, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "endpoint not found: "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) removeEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["endpoint_id"]
	if !s.registry.Remove(id) {
		s.writeError(w, http.StatusNotFound, "endpoint not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("failed to encode admin response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func parseTier(raw string) (tenancy.Tier, error) {
	switch raw {
	case "free", "":
		return tenancy.TierFree, nil
	case "starter":
		return tenancy.TierStarter, nil
	case "professional":
		return tenancy.TierProfessional, nil
	case "enterprise":
		return tenancy.TierEnterprise, nil
	default:
		return 0, &invalidTierError{raw}
	}
}

type invalidTierError struct{ value string }

func (e *invalidTierError) Error() string { return "invalid tier: " + e.value }

func nowUnix() int64 {
	return time.Now().Unix()
}
