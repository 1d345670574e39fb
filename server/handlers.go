package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dotside-studios/davi-attendance/buildinfo"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/kiosk"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleNFCState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Kiosk.State())
}

func (s *Server) handleNFCCheck(w http.ResponseWriter, r *http.Request) {
	s.config.Kiosk.CheckNFCSupport(r.Context())
	state := s.config.Kiosk.State()
	s.dashboard.broadcast(WebsocketMessage{Type: WSMessageTypeState, Payload: state})
	writeJSON(w, http.StatusOK, state)
}

// actionHandler runs one kiosk action and returns its Result. The request
// blocks while the reader waits for a card.
func (s *Server) actionHandler(action kiosk.Action) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := s.config.Kiosk.State()
		if st.Scanning || st.Loading != "" {
			writeError(w, http.StatusConflict, kiosk.ErrBusy.Error())
			return
		}
		s.dashboard.broadcast(WebsocketMessage{Type: WSMessageTypeState, Payload: scanningState(st)})

		res, err := s.config.Kiosk.Run(r.Context(), action)
		// Replaces the scanning snapshot on every path, the 409 one included.
		s.dashboard.broadcast(WebsocketMessage{Type: WSMessageTypeState, Payload: s.config.Kiosk.State()})
		if errors.Is(err, kiosk.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// scanningState marks the snapshot taken just before a scan starts.
func scanningState(st kiosk.State) kiosk.State {
	st.Scanning = true
	return st
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	cancelled := s.config.Kiosk.CancelScan()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		writeError(w, http.StatusNotFound, "journal is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		entries []journal.Entry
		err     error
	)
	if nfcID := r.URL.Query().Get("nfc_id"); nfcID != "" {
		entries, err = s.config.History.ForNFCID(r.Context(), nfcID, limit)
	} else {
		entries, err = s.config.History.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
