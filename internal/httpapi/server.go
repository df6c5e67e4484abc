// Package httpapi exposes the ledger, registry, and analysis surfaces over
// HTTP. Writer identity travels in the X-Ledger-Authority header; the
// package maps the core error taxonomy onto status codes and never leaks
// internal error text for 5xx responses.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/danielpatrickdp/consciousness-ledger/internal/analysis"
	"github.com/danielpatrickdp/consciousness-ledger/internal/fixedpoint"
	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/monitor"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
	"github.com/danielpatrickdp/consciousness-ledger/internal/registry"
)

// authorityHeader carries the writer principal.
const authorityHeader = "X-Ledger-Authority"

// Server bundles the core components behind one router.
type Server struct {
	led *ledger.Ledger
	reg *registry.Registry
	rec *reconstruct.Reconstructor
	mon *monitor.Monitor
	now func() time.Time
}

// New builds the HTTP surface. The monitor may be nil; live reports are
// then computed on demand.
func New(led *ledger.Ledger, reg *registry.Registry, rec *reconstruct.Reconstructor, mon *monitor.Monitor) *Server {
	return &Server{led: led, reg: reg, rec: rec, mon: mon, now: time.Now}
}

// Router assembles the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.startSession)
		r.Get("/sessions", s.listSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.endSession)
			r.Post("/state", s.recordState)
			r.Post("/meta-paradox", s.recordMetaParadox)
			r.Post("/zone-transition", s.recordZoneTransition)
			r.Post("/emergency-reset", s.recordEmergencyReset)
			r.Get("/history", s.history)
			r.Get("/latest", s.latest)
			r.Get("/meta-paradoxes", s.metaParadoxes)
			r.Get("/zone-transitions", s.zoneTransitions)
			r.Get("/emergency-resets", s.emergencyResets)
			r.Get("/analysis", s.analyze)
			r.Get("/export", s.export)
		})
		r.Get("/research-metrics", s.researchMetrics)

		r.Post("/admin/pause", s.pause)
		r.Post("/admin/unpause", s.unpause)
		r.Post("/admin/min-interval", s.minInterval)

		r.Post("/interact", s.interact)
		r.Post("/triggers", s.createTrigger)
		r.Post("/triggers/{name}/fire", s.fireTrigger)
		r.Get("/triggers", s.listTriggers)
		r.Post("/simulate-failure", s.simulateFailure)
		r.Get("/stats", s.stats)
		r.Get("/actors/{actor}/stats", s.actorStats)
	})
	return r
}

// #region plumbing

func caller(r *http.Request) string {
	return r.Header.Get(authorityHeader)
}

func sessionID(r *http.Request) (ledger.SessionID, error) {
	return ledger.ParseSessionID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the core taxonomy onto status codes. Rate limits carry a
// Retry-After header; internal failures hide their detail.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrRateLimited):
		status = http.StatusTooManyRequests
		var rl *ledger.RateLimitError
		if errors.As(err, &rl) {
			secs := int(rl.Wait/time.Second) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case errors.Is(err, ledger.ErrSessionNotActive),
		errors.Is(err, ledger.ErrAlreadyActive),
		errors.Is(err, ledger.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrEmpty), errors.Is(err, ledger.ErrEmptyHistory):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnavailable):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] internal: %v", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

// metric converts a request float into ledger fixed-point, reporting range
// violations as the core OutOfRange error.
func metric(f float64) (fixedpoint.Value, error) {
	v, err := fixedpoint.FromFloat(f)
	if err != nil {
		return 0, ledger.ErrOutOfRange
	}
	return v, nil
}

// #endregion plumbing

// #region session-handlers

type startSessionRequest struct {
	SessionID *ledger.SessionID `json:"sessionId"`
}

type sessionResponse struct {
	SessionID ledger.SessionID `json:"sessionId"`
	Active    bool             `json:"active"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	id := ledger.NewSessionID()
	if req.SessionID != nil && !req.SessionID.IsZero() {
		id = *req.SessionID
	}
	if err := s.led.StartSession(r.Context(), caller(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id, Active: true})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.led.Sessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

type endSessionResponse struct {
	SessionID   ledger.SessionID `json:"sessionId"`
	RecordCount uint64           `json:"recordCount"`
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed session id"})
		return
	}
	n, err := s.led.EndSession(r.Context(), caller(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endSessionResponse{SessionID: id, RecordCount: n})
}

type stateRequest struct {
	Confusion        float64     `json:"confusionLevel"`
	Coherence        float64     `json:"coherenceLevel"`
	Zone             ledger.Zone `json:"safetyZone"`
	ParadoxCount     uint32      `json:"paradoxCount"`
	MetaParadoxCount uint32      `json:"metaParadoxCount"`
	Frustration      float64     `json:"frustrationLevel"`
	ContextHash      string      `json:"contextHash"`
}

func (s *Server) recordState(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed session id"})
		return
	}
	var req stateRequest
	if !decode(w, r, &req) {
		return
	}
	in := ledger.StateInput{
		Zone:             req.Zone,
		ParadoxCount:     req.ParadoxCount,
		MetaParadoxCount: req.MetaParadoxCount,
		ContextHash:      req.ContextHash,
	}
	if in.Confusion, err = metric(req.Confusion); err != nil {
		writeError(w, err)
		return
	}
	if in.Coherence, err = metric(req.Coherence); err != nil {
		writeError(w, err)
		return
	}
	if in.Frustration, err = metric(req.Frustration); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.led.RecordState(r.Context(), caller(r), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type metaParadoxRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Confusion   float64 `json:"confusionAtEmergence"`
}

func (s *Server) recordMetaParadox(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed session id"})
		return
	}
	var req metaParadoxRequest
	if !decode(w, r, &req) {
		return
	}
	conf, err := metric(req.Confusion)
	if err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.led.RecordMetaParadox(r.Context(), caller(r), id, req.Name, req.Description, conf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type zoneTransitionRequest struct {
	From      ledger.Zone `json:"fromZone"`
	To        ledger.Zone `json:"toZone"`
	Confusion float64     `json:"confusionAtTransition"`
}

func (s *Server) recordZoneTransition(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed session id"})
		return
	}
	var req zoneTransitionRequest
	if !decode(w, r, &req) {
		return
	}
	conf, err := metric(req.Confusion)
	if err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.led.RecordZoneTransition(r.Context(), caller(r), id, req.From, req.To, conf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type emergencyResetRequest struct {
	ConfusionBefore float64 `json:"confusionBefore"`
	CoherenceBefore float64 `json:"coherenceBefore"`
	Reason          string  `json:"reason"`
}

func (s *Server) recordEmergencyReset(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed session id"})
		return
	}
	var req emergencyResetRequest
	if !decode(w, r, &req) {
		return
	}
	confBefore, err := metric(req.ConfusionBefore)
	if err != nil {
		writeError(w, err)
		return
	}
	cohBefore, err := metric(req.CoherenceBefore)
	if err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.led.RecordEmergencyReset(r.Context(), caller(r), id, confBefore, cohBefore, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// #endregion session-handlers

// #region read-handlers

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		return s.led.History(r.Context(), id)
	})
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		return s.led.Latest(r.Context(), id)
	})
}

func (s *Server) metaParadoxes(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		return s.led.MetaParadoxHistory(r.Context(), id)
	})
}

func (s *Server) zoneTransitions(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		return s.led.ZoneTransitions(r.Context(), id)
	})
}

func (s *Server) emergencyResets(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		return s.led.EmergencyResets(r.Context(), id)
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		if s.mon != nil {
			if rep, ok := s.mon.Report(id); ok {
				return rep, nil
			}
		}
		h, err := s.rec.Reconstruct(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return analysis.Analyze(h)
	})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	s.readSession(w, r, func(id ledger.SessionID) (any, error) {
		h, err := s.rec.Reconstruct(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return analysis.Export(h, s.now().UTC())
	})
}

func (s *Server) readSession(w http.ResponseWriter, r *http.Request, fn func(ledger.SessionID) (any, error)) {
	id, err := sessionID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed session id"})
		return
	}
	v, err := fn(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) researchMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.led.ResearchMetrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// #endregion read-handlers

// #region admin-handlers

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.led.Pause(caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	if err := s.led.Unpause(caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type minIntervalRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) minInterval(w http.ResponseWriter, r *http.Request) {
	var req minIntervalRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Seconds < 0 {
		writeError(w, ledger.ErrOutOfRange)
		return
	}
	d := time.Duration(req.Seconds) * time.Second
	if err := s.led.SetMinRecordingInterval(caller(r), d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"seconds": req.Seconds})
}

// #endregion admin-handlers

// #region registry-handlers

type interactRequest struct {
	Actor string `json:"actor"`
	Input string `json:"input"`
}

type interactResponse struct {
	ConfusionDelta int64 `json:"confusionDelta"`
}

func (s *Server) interact(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "actor required"})
		return
	}
	delta, err := s.reg.Interact(r.Context(), req.Actor, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, interactResponse{ConfusionDelta: delta})
}

type createTriggerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Intensity   uint32 `json:"intensity"`
}

func (s *Server) createTrigger(w http.ResponseWriter, r *http.Request) {
	var req createTriggerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "name required"})
		return
	}
	trig, err := s.reg.CreateTrigger(req.Name, req.Description, req.Intensity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trig)
}

type fireResponse struct {
	Name  string `json:"name"`
	Fired bool   `json:"fired"`
}

func (s *Server) fireTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fired, err := s.reg.Trigger(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fireResponse{Name: name, Fired: fired})
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Triggers())
}

type simulateFailureRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) simulateFailure(w http.ResponseWriter, r *http.Request) {
	var req simulateFailureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "actor required"})
		return
	}
	err := s.reg.SimulateFailure(r.Context(), req.Actor, req.Reason)
	if errors.Is(err, registry.ErrSimulatedFailure) {
		// The failure is the product. Side effects are durable; report the
		// simulated fault as a payload, not a transport error.
		writeJSON(w, http.StatusOK, map[string]string{"simulated": err.Error()})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"simulated": ""})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.reg.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) actorStats(w http.ResponseWriter, r *http.Request) {
	actor := chi.URLParam(r, "actor")
	writeJSON(w, http.StatusOK, s.reg.UserStats(actor))
}

// #endregion registry-handlers
