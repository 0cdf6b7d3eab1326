package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Armario/internal/armario/sensor"
	"github.com/BrandonDHaskell/Armario/internal/armario/service"
	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

type Dependencies struct {
	Logger     *log.Logger
	Addr       string
	Controller *service.Controller

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Simulator enables POST /v1/sim/finger (dev only).
	Simulator *sensor.Simulator

	// EnrollPerSecond and EnrollBurst throttle POST /v1/enrollments.
	// A non-positive rate disables throttling.
	EnrollPerSecond float64
	EnrollBurst     int
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	router     chi.Router
	ctrl       *service.Controller
	sim        *sensor.Simulator
	enrollRate *rate.Limiter
}

func NewServer(d Dependencies) *Server {
	r := chi.NewRouter()

	limit := rate.Inf
	if d.EnrollPerSecond > 0 {
		limit = rate.Limit(d.EnrollPerSecond)
	}
	burst := d.EnrollBurst
	if burst <= 0 {
		burst = 1
	}

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		logger:     d.Logger,
		router:     r,
		ctrl:       d.Controller,
		sim:        d.Simulator,
		enrollRate: rate.NewLimiter(limit, burst),
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/enrollments", s.handleStartEnrollment)
		r.Get("/enrollments/current", s.handleEnrollmentStatus)
		r.Delete("/enrollments/current", s.handleAbortEnrollment)

		r.Get("/identities", s.handleListIdentities)
		r.Delete("/identities/{slot}", s.handleDeleteIdentity)

		r.Get("/drawers", s.handleDrawers)

		if d.Simulator != nil {
			r.Post("/sim/finger", s.handleSimFinger)
		}
	})

	handler := loggingMiddleware(d.Logger, recoverMiddleware(d.Logger, r))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"last_status": s.ctrl.LastStatus(),
		"server_time": serverTime(),
	})
}

// ── Enrollment ──────────────────────────────────────────────────────────────

func (s *Server) handleStartEnrollment(w http.ResponseWriter, r *http.Request) {
	if !s.enrollRate.Allow() {
		writeError(w, http.StatusTooManyRequests, "throttled", "too many enrollment requests")
		return
	}

	var req types.EnrollmentRequest
	if isProtobuf(r) {
		var p structpb.Struct
		if err := readProto(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		req = enrollmentRequestFromProto(&p)
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	rec, err := types.NewUserRecord(req.Name, req.NationalID, req.RegistrationNumber, req.Drawer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record", err.Error())
		return
	}

	sess, err := s.ctrl.StartEnrollment(r.Context(), rec)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBusy):
			writeError(w, http.StatusServiceUnavailable, "busy", err.Error())
		case errors.Is(err, service.ErrDuplicateIdentity):
			writeError(w, http.StatusConflict, "duplicate", err.Error())
		case errors.Is(err, service.ErrCapacityFull):
			writeError(w, http.StatusInsufficientStorage, "capacity_full", err.Error())
		case errors.Is(err, service.ErrInvalidRecord), errors.Is(err, service.ErrInvalidDrawer):
			writeError(w, http.StatusBadRequest, "invalid_record", err.Error())
		default:
			s.logger.Printf("start enrollment error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	s.respond(w, r, http.StatusAccepted, types.EnrollmentResponse{
		OK:         true,
		Result:     "accepted",
		SlotID:     sess.TargetSlot,
		SessionID:  sess.ID.String(),
		ServerTime: serverTime(),
	})
}

func (s *Server) handleEnrollmentStatus(w http.ResponseWriter, r *http.Request) {
	v := s.ctrl.EnrollmentStatus()
	s.respond(w, r, http.StatusOK, types.EnrollmentStatus{
		State:      v.State.String(),
		Message:    v.Message,
		SessionID:  v.SessionID,
		SlotID:     v.SlotID,
		LastStatus: v.LastStatus,
		ServerTime: serverTime(),
	})
}

func (s *Server) handleAbortEnrollment(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ctrl.AbortEnrollment(r.URL.Query().Get("reason"))
	if errors.Is(err, service.ErrNoSession) {
		writeError(w, http.StatusNotFound, "no_session", err.Error())
		return
	}
	if err != nil {
		s.logger.Printf("abort enrollment error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	s.respond(w, r, http.StatusOK, types.EnrollmentStatus{
		State:      sess.State.String(),
		Message:    sess.Message,
		SessionID:  sess.ID.String(),
		SlotID:     sess.TargetSlot,
		ServerTime: serverTime(),
	})
}

// ── Identities and drawers ──────────────────────────────────────────────────

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	ids := s.ctrl.ListIdentities(r.Context())
	if ids == nil {
		ids = []types.Identity{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot", "slot must be an integer")
		return
	}

	err = s.ctrl.DeleteIdentity(r.Context(), slot)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, types.DeleteResponse{OK: true, SlotID: slot})
	case errors.Is(err, service.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrSensorFault):
		writeError(w, http.StatusBadGateway, "sensor_fault", err.Error())
	default:
		s.logger.Printf("delete identity slot=%d error: %v", slot, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func (s *Server) handleDrawers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.DrawerStatus())
}

// ── Dev simulation ──────────────────────────────────────────────────────────

func (s *Server) handleSimFinger(w http.ResponseWriter, r *http.Request) {
	var req types.SimFingerRequest
	if isProtobuf(r) {
		var p structpb.Struct
		if err := readProto(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		req = simFingerFromProto(&p)
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if req.Finger == nil || *req.Finger == "" {
		s.sim.Lift()
	} else {
		s.sim.Place(*req.Finger)
	}
	w.WriteHeader(http.StatusNoContent)
}

// respond writes v as protobuf when the client asked for it, JSON otherwise.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		msg, err := toStruct(v)
		if err != nil {
			s.logger.Printf("proto encode error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, status, msg)
		return
	}
	writeJSON(w, status, v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
