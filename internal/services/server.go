package services

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	goamiddleware "goa.design/goa/v3/middleware"

	"guardian/internal/auth"
	"guardian/internal/metrics"
	"guardian/internal/middleware"
	"guardian/internal/pipeline"
)

const maxBodyBytes = 32 << 20

// MountPoint holds information about a mounted HTTP route
type MountPoint struct {
	// Method is the name of the service method served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

// Server exposes the services over HTTP on a goa muxer
type Server struct {
	Health *HealthImplementation
	Auth   *AuthImplementation
	Config *ConfigImplementation
	Camera *CameraImplementation
	Alerts *AlertsImplementation
	System *SystemImplementation

	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics // Optional
	Websocket     http.Handler     // Optional, served on /ws/history/{camera_id}
	Logger        *log.Logger

	Mounts []*MountPoint
}

// errorBody is the JSON body of every error response
type errorBody struct {
	Name    string  `json:"name"`
	ID      string  `json:"id,omitempty"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// Mount registers every route on mux
func (s *Server) Mount(mux goahttp.Muxer) {
	if s.Logger == nil {
		s.Logger = log.New(os.Stderr, "[guardian] ", log.Ltime)
	}
	protect := middleware.AuthMiddleware(s.Authenticator)
	cameraID := func(r *http.Request) string { return mux.Vars(r)["camera_id"] }

	s.handle(mux, "Healthz", "GET", "/health", s.healthz)
	s.handle(mux, "Readyz", "GET", "/ready", s.readyz)

	s.handle(mux, "Login", "POST", "/api/v1/auth/login", s.login)
	s.handle(mux, "AuthStatus", "GET", "/api/v1/auth/status", protect(http.HandlerFunc(s.authStatus)).ServeHTTP)

	s.handle(mux, "GetConfig", "GET", "/api/v1/config", s.getConfig)
	s.handle(mux, "UpdateConfig", "PUT", "/api/v1/config", protect(http.HandlerFunc(s.updateConfig)).ServeHTTP)
	s.handle(mux, "ValidateConfig", "POST", "/api/v1/config/validate", s.validateConfig)

	s.handle(mux, "ListCameras", "GET", "/api/v1/cameras", s.listCameras)
	s.handle(mux, "StartCamera", "POST", "/api/v1/cameras/{camera_id}/start", func(w http.ResponseWriter, r *http.Request) {
		s.startCamera(w, r, cameraID(r))
	})
	s.handle(mux, "StopCamera", "POST", "/api/v1/cameras/{camera_id}/stop", func(w http.ResponseWriter, r *http.Request) {
		s.stopCamera(w, r, cameraID(r))
	})
	s.handle(mux, "IngestTick", "POST", "/api/v1/cameras/{camera_id}/ticks", func(w http.ResponseWriter, r *http.Request) {
		s.ingestTick(w, r, cameraID(r))
	})
	s.handle(mux, "IngestAudio", "POST", "/api/v1/cameras/{camera_id}/audio", func(w http.ResponseWriter, r *http.Request) {
		s.ingestAudio(w, r, cameraID(r))
	})
	s.handle(mux, "CameraHistory", "GET", "/api/v1/cameras/{camera_id}/history", func(w http.ResponseWriter, r *http.Request) {
		s.cameraHistory(w, r, cameraID(r))
	})
	s.handle(mux, "SiteHistory", "GET", "/api/v1/site/history", s.siteHistory)

	s.handle(mux, "ListAlerts", "GET", "/api/v1/alerts", s.listAlerts)
	s.handle(mux, "GetAlert", "GET", "/api/v1/alerts/{alert_id}", func(w http.ResponseWriter, r *http.Request) {
		s.getAlert(w, r, mux.Vars(r)["alert_id"])
	})

	s.handle(mux, "SystemStatus", "GET", "/api/v1/system/status", s.systemStatus)

	if s.Metrics != nil {
		mux.Handle("GET", "/metrics", s.Metrics.Handler().ServeHTTP)
		s.Mounts = append(s.Mounts, &MountPoint{Method: "Metrics", Verb: "GET", Pattern: "/metrics"})
	}
	if s.Websocket != nil {
		// Not wrapped: the upgrade needs the raw ResponseWriter
		mux.Handle("GET", "/ws/history/{camera_id}", s.Websocket.ServeHTTP)
		s.Mounts = append(s.Mounts, &MountPoint{Method: "HistoryStream", Verb: "GET", Pattern: "/ws/history/{camera_id}"})
	}
}

func (s *Server) handle(mux goahttp.Muxer, method, verb, pattern string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.Metrics != nil {
		handler = s.Metrics.WrapHandler(pattern, handler)
	}
	mux.Handle(verb, pattern, handler.ServeHTTP)
	s.Mounts = append(s.Mounts, &MountPoint{Method: method, Verb: verb, Pattern: pattern})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	res, err := s.Health.Healthz(r.Context())
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusNoContent, nil, s.Health.Readyz(r.Context()))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := decode(w, r, &payload); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.Auth.Login(r.Context(), &payload)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.Auth.Status(r.Context())
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	res, err := s.Config.Get(r.Context())
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.Config.Update(r.Context(), data)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) validateConfig(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	res, err := s.Config.Validate(r.Context(), data)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	res, err := s.Camera.List(r.Context())
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) startCamera(w http.ResponseWriter, r *http.Request, cameraID string) {
	res, err := s.Camera.Start(r.Context(), cameraID)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request, cameraID string) {
	s.respond(w, r, http.StatusNoContent, nil, s.Camera.Stop(r.Context(), cameraID))
}

func (s *Server) ingestTick(w http.ResponseWriter, r *http.Request, cameraID string) {
	var tick pipeline.TickInput
	if err := decode(w, r, &tick); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.respond(w, r, http.StatusAccepted, nil, s.Camera.Ingest(r.Context(), cameraID, &tick))
}

func (s *Server) ingestAudio(w http.ResponseWriter, r *http.Request, cameraID string) {
	var payload AudioPayload
	if err := decode(w, r, &payload); err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.respond(w, r, http.StatusAccepted, nil, s.Camera.IngestAudio(r.Context(), cameraID, &payload))
}

func (s *Server) cameraHistory(w http.ResponseWriter, r *http.Request, cameraID string) {
	res, err := s.Camera.History(r.Context(), cameraID)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) siteHistory(w http.ResponseWriter, r *http.Request) {
	res, err := s.Camera.SiteHistory(r.Context())
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload := &AlertsPayload{CameraID: q.Get("camera_id")}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.encodeError(r.Context(), w, badRequest("Invalid limit", err))
			return
		}
		payload.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.encodeError(r.Context(), w, badRequest("Invalid since", err))
			return
		}
		payload.Since = &since
	}
	res, err := s.Alerts.List(r.Context(), payload)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request, id string) {
	res, err := s.Alerts.Get(r.Context(), id)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.System.Status(r.Context())
	s.respond(w, r, http.StatusOK, res, err)
}

// respond writes res with status, or the error response when err is set
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, res interface{}, err error) {
	if err != nil {
		s.encodeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, status, res)
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	enc := goahttp.ResponseEncoder(ctx, w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.Logger.Printf("encoding: %s", err.Error())
	}
}

// encodeError writes and logs err. Internal errors carry the request id
// so that log lines can be correlated.
func (s *Server) encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, name := errorStatus(err)
	id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
	body := errorBody{Name: name, ID: id, Message: err.Error()}

	var badReq *BadRequestError
	if errors.As(err, &badReq) {
		body.Message = badReq.Message
		body.Details = badReq.Details
	}
	if status == http.StatusInternalServerError {
		s.Logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
	s.encode(ctx, w, status, body)
}

// decode reads a JSON request body into v
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &BadRequestError{Message: "missing request body"}
		}
		return badRequest("Invalid request body", err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("Failed to read request body", err)
	}
	if len(data) == 0 {
		return nil, &BadRequestError{Message: "missing request body"}
	}
	return data, nil
}

// LogMounts logs every mounted route
func (s *Server) LogMounts() {
	for _, m := range s.Mounts {
		s.Logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}
}
