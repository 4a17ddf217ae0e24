package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/device"
)

type registerDeviceRequest struct {
	Host string   `json:"host"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

type registerDeviceResponse struct {
	Device *device.Device `json:"device"`
	Token  string         `json:"token"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "missing host")
		return
	}

	name := req.Name
	if name == "" {
		name = req.Host
	}

	d := &device.Device{
		Group: group,
		Host:  req.Host,
		Name:  name,
		Tags:  req.Tags,
	}
	if err := s.devices.Save(r.Context(), d); err != nil {
		s.logger.Error("failed to save device", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save device")
		return
	}

	token, err := s.tokens.Issue(r.Context(), group, req.Host)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, registerDeviceResponse{Device: d, Token: token})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]

	devices, err := s.devices.List(r.Context(), group)
	if err != nil {
		s.logger.Error("failed to list devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, host := vars["group"], vars["host"]

	d, err := s.devices.Get(r.Context(), group, host)
	if err != nil {
		s.logger.Error("failed to get device", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	st, err := s.status.DeviceStatus(r.Context(), group, host)
	if err != nil {
		s.logger.Error("failed to resolve status",
			zap.String("group", group),
			zap.String("host", host),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeviceAlerts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, host := vars["group"], vars["host"]

	active, err := s.ledger.ListActive(r.Context(), group, host)
	if err != nil {
		s.logger.Error("failed to list alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, host := vars["group"], vars["host"]

	d, err := s.devices.Get(r.Context(), group, host)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	token, err := s.tokens.Rotate(r.Context(), group, host)
	if err != nil {
		s.logger.Error("failed to rotate token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rotate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, host := vars["group"], vars["host"]

	if err := s.tokens.Revoke(r.Context(), group, host); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	if err := s.devices.Delete(r.Context(), group, host); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
