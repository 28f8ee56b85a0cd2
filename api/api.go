// Package api exposes the node's local HTTP API: document catalog and
// import, registration refresh, proving session control and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.veridoc.io/veridoc/docstore"
	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/session"
	"go.veridoc.io/veridoc/tracker"
	"go.veridoc.io/veridoc/types"
)

// API is the local HTTP surface of the node.
type API struct {
	router   *chi.Mux
	store    *docstore.Store
	tracker  *tracker.Tracker
	sessions *session.Manager
	// baseCtx is the context sessions are started under, so they outlive
	// the HTTP request that created them.
	baseCtx context.Context
}

// New creates the API and mounts all routes. Sessions started through the
// API run under baseCtx.
func New(baseCtx context.Context, store *docstore.Store, trk *tracker.Tracker,
	sessions *session.Manager) *API {
	a := &API{
		store:    store,
		tracker:  trk,
		sessions: sessions,
		baseCtx:  baseCtx,
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return true
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/documents", a.listDocuments)
	r.Post("/documents", a.importDocument)
	r.Post("/documents/refresh", a.refreshDocuments)
	r.Post("/sessions", a.startSession)
	r.Get("/sessions/{sessionID}", a.sessionStatus)
	r.Delete("/sessions/{sessionID}", a.cancelSession)
	r.Handle("/metrics", promhttp.Handler())

	a.router = r
	return a
}

// Router returns the mounted handler.
func (a *API) Router() http.Handler {
	return a.router
}

func httpJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnw("cannot write response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, err error) {
	httpJSON(w, code, map[string]string{"error": err.Error()})
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	records, err := a.store.List()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	httpJSON(w, http.StatusOK, map[string]any{"documents": records})
}

func (a *API) importDocument(w http.ResponseWriter, r *http.Request) {
	var env document.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.store.Import(&env)
	if err != nil {
		if errors.Is(err, document.ErrMalformedEnvelope) {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	httpJSON(w, http.StatusOK, record)
}

func (a *API) refreshDocuments(w http.ResponseWriter, r *http.Request) {
	outcomes, err := a.tracker.RefreshAll(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	httpJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

type startSessionRequest struct {
	DocumentID types.HexBytes `json:"documentId"`
	Circuit    string         `json:"circuit"`
	Disclose   []string       `json:"disclose,omitempty"`
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	s, err := a.sessions.Start(a.baseCtx, session.StartRequest{
		DocumentID: req.DocumentID,
		Circuit:    req.Circuit,
		Disclose:   req.Disclose,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			httpError(w, http.StatusConflict, err)
			return
		}
		httpError(w, http.StatusBadRequest, err)
		return
	}
	httpJSON(w, http.StatusOK, s.Status())
}

func (a *API) sessionStatus(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessionFromURL(r)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	httpJSON(w, http.StatusOK, s.Status())
}

func (a *API) cancelSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessionFromURL(r)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	s.Cancel()
	httpJSON(w, http.StatusOK, s.Status())
}

func (a *API) sessionFromURL(r *http.Request) (*session.Session, error) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		return nil, err
	}
	s := a.sessions.Get(id)
	if s == nil {
		return nil, errors.New("session not found")
	}
	return s, nil
}
