package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/device"
	"github.com/fleetmon/fleetmon/internal/ingest"
	"github.com/fleetmon/fleetmon/internal/metrics"
	"github.com/fleetmon/fleetmon/internal/status"
)

// Server is the thin HTTP surface over the ingestion gateway, the
// status service and the repositories.
type Server struct {
	devices device.Repository
	tokens  device.TokenRepository
	gateway *ingest.Gateway
	status  *status.Service
	ledger  alert.Ledger
	logger  *zap.Logger
}

func NewServer(devices device.Repository, tokens device.TokenRepository, gateway *ingest.Gateway, statusSvc *status.Service, ledger alert.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		devices: devices,
		tokens:  tokens,
		gateway: gateway,
		status:  statusSvc,
		ledger:  ledger,
		logger:  logger,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/groups/{group}/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/groups/{group}/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group}/devices/{host}/status", s.handleDeviceStatus).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group}/devices/{host}/alerts", s.handleDeviceAlerts).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group}/devices/{host}/token", s.handleRotateToken).Methods(http.MethodPost)
	api.HandleFunc("/groups/{group}/devices/{host}", s.handleDeleteDevice).Methods(http.MethodDelete)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
