// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package server

import (
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/honolytics/honolytics-go/internal/metrics"
	"github.com/honolytics/honolytics-go/internal/storage"
	"github.com/honolytics/honolytics-go/internal/validation"
)

// defaultMetricsWindow is the lookback applied when the caller omits the
// date range.
const defaultMetricsWindow = 30 * 24 * time.Hour

// trackRequest is the wire shape posted by the SDK transport: nested
// user, session, and pageview objects. Identifiers are optional; missing
// ones are generated so the stored event always carries a session id.
type trackRequest struct {
	// Event names the event type. Empty means pageview; named events
	// are stored as-is and ignored by pageview aggregation.
	Event    string         `json:"event"`
	User     trackUser      `json:"user"`
	Session  trackSession   `json:"session"`
	Pageview trackPageview  `json:"pageview"`
	Meta     map[string]any `json:"meta"`
}

type trackUser struct {
	ID      string  `json:"id"`
	Device  string  `json:"device"`
	Browser string  `json:"browser"`
	OS      string  `json:"os"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type trackSession struct {
	ID       string `json:"id"`
	Referrer string `json:"referrer" validate:"omitempty,url"`
	Origin   string `json:"origin"`
}

type trackPageview struct {
	URL        string `json:"url" validate:"required,url"`
	Timestamp  string `json:"timestamp"`
	DurationMs int64  `json:"durationMs" validate:"gte=0"`
	Title      string `json:"title"`
	Path       string `json:"path"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		metrics.EventsRejected.WithLabelValues("decode").Inc()
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		metrics.EventsRejected.WithLabelValues("validation").Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Internal testing traffic is acknowledged but kept out of the
	// metrics store.
	if r.Header.Get("x-dev-traffic") == "true" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ts := time.Now().UnixMilli()
	if req.Pageview.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Pageview.Timestamp)
		if err != nil {
			metrics.EventsRejected.WithLabelValues("validation").Inc()
			s.writeError(w, http.StatusBadRequest, "pageview.timestamp must be RFC3339")
			return
		}
		ts = parsed.UnixMilli()
	}

	eventType := req.Event
	if eventType == "" {
		eventType = storage.EventTypePageview
	}
	userID := req.User.ID
	if userID == "" {
		userID = uuid.NewString()
	}
	sessionID := req.Session.ID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	event := storage.Event{
		ID:        uuid.NewString(),
		Timestamp: ts,
		UserID:    userID,
		SessionID: sessionID,
		URL:       req.Pageview.URL,
		Event:     eventType,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
		Referrer:  req.Session.Referrer,
		Duration:  req.Pageview.DurationMs,
		Meta:      req.Meta,
	}

	start := time.Now()
	if err := s.store.InsertEvent(r.Context(), event); err != nil {
		metrics.EventsRejected.WithLabelValues("storage").Inc()
		s.log.Error().Err(err).Str("event_id", event.ID).Msg("event insert failed")
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	metrics.ObserveStorageQuery("insert_event", time.Since(start))

	sess := s.sessions.resolve(event)
	if err := s.store.InsertSession(r.Context(), sess); err != nil {
		// The event landed; a failed session upsert degrades averages
		// but is not worth failing the request over.
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("session upsert failed")
	}

	metrics.EventsIngested.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-defaultMetricsWindow)

	var err error
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, http.StatusBadRequest, "start_date must be RFC3339")
			return
		}
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, http.StatusBadRequest, "end_date must be RFC3339")
			return
		}
	}
	if !start.Before(end) {
		s.writeError(w, http.StatusBadRequest, "start_date must be before end_date")
		return
	}

	began := time.Now()
	full, err := s.store.QueryFullMetrics(r.Context(), start, end)
	if err != nil {
		s.log.Error().Err(err).Msg("metrics query failed")
		s.writeError(w, http.StatusInternalServerError, "metrics query failed")
		return
	}
	metrics.ObserveStorageQuery("full_metrics", time.Since(began))
	s.writeJSON(w, http.StatusOK, full)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// clientIP strips the port RealIP leaves on RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
