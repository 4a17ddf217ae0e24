package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/ingest"
)

// handleIngest authenticates the device token and hands the batch to
// the gateway. Identity comes from the token record, never the body.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	claims, err := s.tokens.Verify(r.Context(), token)
	if err != nil {
		s.logger.Error("token verification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token verification failed")
		return
	}
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unknown token")
		return
	}

	var batch []ingest.Observation
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := s.gateway.Ingest(r.Context(), claims.Group, claims.Host, batch)
	if err != nil {
		s.logger.Error("ingest failed",
			zap.String("group", claims.Group),
			zap.String("host", claims.Host),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}
