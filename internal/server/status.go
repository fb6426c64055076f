package server

import (
	"net/http"
	"time"
)

type statusResponse struct {
	Online           bool       `json:"online"`
	Pending          int        `json:"pending"`
	Syncing          int        `json:"syncing"`
	HomeCurrency     string     `json:"homeCurrency"`
	RatesLastUpdated *time.Time `json:"ratesLastUpdated"`
}

func (s *Server) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.svc.Engine.Online()})
}

// handleSetConnectivity reports a connectivity change from the client.
// Going online starts a sync batch.
func (s *Server) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	if err := s.svc.Engine.SetOnline(r.Context(), *req.Online); err != nil {
		writeDomainError(r, w, err, "Error changing connectivity")
		return
	}
	s.handleGetConnectivity(w, r)
}

// handleStatus reports sync progress and cache freshness
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Repository.SyncCounts()
	if err != nil {
		writeDomainError(r, w, err, "Error counting receipts")
		return
	}
	resp := statusResponse{
		Online:  s.svc.Engine.Online(),
		Pending: counts.Pending,
		Syncing: counts.Syncing,
	}
	if home, err := s.svc.Rates.HomeCurrency(); err == nil {
		resp.HomeCurrency = home
	}
	if updated, ok, err := s.svc.Rates.LastUpdated(); err == nil && ok {
		resp.RatesLastUpdated = &updated
	}
	writeJSON(w, http.StatusOK, resp)
}
