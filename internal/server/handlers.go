package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/engine"
)

const (
	sessionName = "leaprepl"
	csrfKey     = "csrf"
	// CSRFHeader carries the token handed out by GET /api/csrf.
	CSRFHeader = "X-CSRF-Token"
)

type ctxKey struct{}

// databaseInfo is the public part of a descriptor.
type databaseInfo struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleDatabases(w http.ResponseWriter, _ *http.Request) {
	all := s.catalog.All()
	out := make([]databaseInfo, 0, len(all))
	for _, d := range all {
		out = append(out, databaseInfo{ID: d.ID, Description: d.Description})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	// A cookie that fails to decode is replaced by a fresh session.
	session, _ := s.sessionStore.Get(r, sessionName)
	token, _ := session.Values[csrfKey].(string)
	if token == "" {
		token = uuid.NewString()
		session.Values[csrfKey] = token
		if err := session.Save(r, w); err != nil {
			s.logger.Error("failed to save session", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to save session")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessionStore.Get(r, sessionName)
		token, _ := session.Values[csrfKey].(string)
		if err != nil || token == "" || r.Header.Get(CSRFHeader) != token {
			s.writeError(w, http.StatusForbidden, "missing or invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withDatabase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "unknown database")
			return
		}
		db, err := s.catalog.Get(id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, db)))
	})
}

// databaseFrom returns the database bound by withDatabase, or nil.
func databaseFrom(ctx context.Context) *database.Descriptor {
	db, _ := ctx.Value(ctxKey{}).(*database.Descriptor)
	return db
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	resp := s.service.Evaluate(r.Context(), databaseFrom(r.Context()), req)
	data, err := engine.Encode(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	status := http.StatusOK
	if resp.IsError() {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.service.Suggest(r.Context(), databaseFrom(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	entries, err := s.service.Document(r.Context(), databaseFrom(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []engine.DocumentationEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, false
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrCursorRequired), errors.Is(err, engine.ErrCursorOutOfRange):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// The client went away.
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}
