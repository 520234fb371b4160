package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/keymap-core/internal/audit"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

// commandSource tags supervisor commands issued over HTTP.
const commandSource = "api"

// MappingsResponse is the body of GET /mappings.
type MappingsResponse struct {
	Mappings    []keymap.KeyMapping `json:"mappings"`
	Fingerprint string              `json:"fingerprint"`
	LastUpdate  *time.Time          `json:"last_update,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleListDiagnostics(w http.ResponseWriter, _ *http.Request) {
	diags := s.diagnostics.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnostics": diags,
		"count":       len(diags),
	})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.Conflicts(r.Context())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMappings(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Status()
	resp := MappingsResponse{Mappings: st.Mappings, Fingerprint: st.ConfigFingerprint}
	if resp.Mappings == nil {
		resp.Mappings = []keymap.KeyMapping{}
	}
	if !st.LastConfigUpdate.IsZero() {
		t := st.LastConfigUpdate
		resp.LastUpdate = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveMappings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}
	mappings, err := keymap.DecodeDocument(body)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	res, err := s.ctrl.SaveMappings(supervisor.WithSource(r.Context(), commandSource), mappings)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.ctrl.ResetConfig)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.ctrl.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.ctrl.Stop)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.ctrl.RetryAfterFix)
}

func (s *Server) handleAutoFix(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ctrl.AutoFix(supervisor.WithSource(r.Context(), commandSource), id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// command runs a supervisor command and answers with the resulting status.
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	if err := fn(supervisor.WithSource(r.Context(), commandSource)); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Action: q.Get("action"), Source: q.Get("source")}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "listing audit entries failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
