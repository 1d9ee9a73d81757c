// Package api serves the reading monitor over HTTP: session control,
// observation intake, status, and exports of live or stored sessions.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/reading.report/internal/db"
	"github.com/banshee-data/reading.report/internal/export"
	"github.com/banshee-data/reading.report/internal/httputil"
	"github.com/banshee-data/reading.report/internal/ingest"
	"github.com/banshee-data/reading.report/internal/monitor"
	"github.com/banshee-data/reading.report/internal/report"
	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/session"
	"github.com/banshee-data/reading.report/internal/version"
)

// SessionStore is the read side of the session database.
type SessionStore interface {
	Sessions(limit int) ([]db.SessionRecord, error)
	LoadSession(id string) (*session.Session, error)
}

// DefaultSessionLimit caps GET /api/sessions when no limit is given.
const DefaultSessionLimit = 50

type Server struct {
	monitor *monitor.Monitor
	store   SessionStore
}

// NewServer returns a Server for m. store may be nil, in which case only the
// running session is visible.
func NewServer(m *monitor.Monitor, store SessionStore) *Server {
	return &Server{monitor: m, store: store}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/start", s.startSession)
	mux.HandleFunc("POST /api/sessions/stop", s.stopSession)
	mux.HandleFunc("POST /api/observations", s.postObservation)
	mux.HandleFunc("GET /api/status", s.showStatus)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}/export", s.exportSession)
	mux.HandleFunc("GET /api/sessions/{id}/chart", s.chartSession)
	return mux
}

type startRequest struct {
	Metadata map[string]string `json:"metadata"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	StartedAt string            `json:"started_at"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := httputil.DecodeJSON(w, r, &req, true); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sess, err := s.monitor.Start(req.Metadata)
	if errors.Is(err, monitor.ErrAlreadyRunning) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to start session: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sessionResponse{
		SessionID: sess.ID,
		StartedAt: sess.StartedAt.Format(time.RFC3339Nano),
		Metadata:  sess.Metadata,
	})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.monitor.Stop()
	if errors.Is(err, monitor.ErrNotRunning) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to stop session: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sess.Summary())
}

func (s *Server) postObservation(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := httputil.DecodeJSON(w, r, &raw, false); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	obs, err := ingest.DecodeRecord(raw)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid observation: %v", err))
		return
	}

	res, err := s.monitor.Process(obs)
	var missing *scoring.MissingFeatureError
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, res)
	case errors.As(err, &missing):
		httputil.WriteJSONErrorFields(w, http.StatusUnprocessableEntity, err.Error(),
			map[string]string{"missing_feature": missing.Feature})
	case errors.Is(err, monitor.ErrNotRunning), errors.Is(err, monitor.ErrOutOfOrder):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.monitor.Status())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"scorer":  s.monitor.Config(),
		"version": version.Metadata(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultSessionLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	if s.store == nil {
		httputil.WriteJSONOK(w, []db.SessionRecord{})
		return
	}
	recs, err := s.store.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, recs)
}

// withSession renders a snapshot of the running session when id matches it,
// otherwise the stored copy. Rendering happens outside the monitor lock.
func (s *Server) withSession(id string, render func(*session.Session) error) error {
	var snap *session.Session
	err := s.monitor.Current(func(cur *session.Session) {
		if cur.ID == id {
			snap = cur.Snapshot()
		}
	})
	if err != nil && !errors.Is(err, monitor.ErrNotRunning) {
		return err
	}
	if snap != nil {
		return render(snap)
	}
	if s.store == nil {
		return db.ErrSessionNotFound
	}
	sess, err := s.store.LoadSession(id)
	if err != nil {
		return err
	}
	return render(sess)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	f := export.FormatJSON
	if q := r.URL.Query().Get("format"); q != "" {
		var err error
		if f, err = export.ParseFormat(q); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}

	var (
		body     []byte
		filename string
	)
	err := s.withSession(r.PathValue("id"), func(sess *session.Session) error {
		var err error
		body, err = export.Session(sess, f)
		filename = export.Filename(sess, f)
		return err
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(body)
}

func (s *Server) chartSession(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	var (
		buf         bytes.Buffer
		contentType string
	)
	var render func(*session.Session) error
	switch format {
	case "html":
		contentType = "text/html; charset=utf-8"
		render = func(sess *session.Session) error { return report.RenderTimeline(&buf, sess) }
	case "png":
		contentType = "image/png"
		render = func(sess *session.Session) error { return report.WriteTimelinePNG(&buf, sess) }
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown chart format %q", format))
		return
	}

	if err := s.withSession(r.PathValue("id"), render); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(buf.Bytes())
}
