// Package api serves the session lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"liveclass/internal/apperror"
	"liveclass/internal/cleanup"
	"liveclass/internal/registration"
	"liveclass/internal/session"
	"liveclass/pkg/types"
)

// SessionService is the lifecycle surface the API drives.
type SessionService interface {
	CreateSession(ctx context.Context, actor types.Actor, req session.CreateRequest) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ViewSession(ctx context.Context, sessionID string, actor types.Actor) (*types.SessionView, error)
	ListSessions(ctx context.Context, filter types.SessionFilter, actor types.Actor) ([]*types.SessionView, error)
	UpdateSession(ctx context.Context, sessionID string, actor types.Actor, update types.SessionUpdate) (*types.Session, error)
	CancelSession(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error)
	EndSession(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error)
	DeleteSession(ctx context.Context, sessionID string, actor types.Actor) error
	Join(ctx context.Context, sessionID string, actor types.Actor) (*types.Credential, error)
	Leave(ctx context.Context, sessionID string, actor types.Actor) error
}

// RegistrationService manages rosters and attendance reports.
type RegistrationService interface {
	Register(ctx context.Context, sessionID, participantID string) error
	Unregister(ctx context.Context, sessionID, participantID string) error
	Attendance(ctx context.Context, sessionID string, actor types.Actor) (*registration.Report, error)
}

// HealthChecker reports storage connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider reports event stream counters.
type StatsProvider interface {
	Stats() map[string]int
}

// CleanupReporter reports the sweep worker state.
type CleanupReporter interface {
	Status() cleanup.Status
}

// Dependencies are the collaborators a Server routes to. Health, Stats,
// Cleanup and Events are optional.
type Dependencies struct {
	Sessions      SessionService
	Registrations RegistrationService
	Health        HealthChecker
	Stats         StatsProvider
	Cleanup       CleanupReporter
	Events        http.Handler
}

// Server holds no lifecycle logic: it decodes requests, resolves the caller
// and maps results onto the response envelope.
type Server struct {
	deps    Dependencies
	limiter *RateLimiter
	router  *mux.Router
	logger  *slog.Logger
	now     func() time.Time
}

// NewServer builds the route table. rateLimit is requests per minute per
// caller; zero disables limiting.
func NewServer(deps Dependencies, rateLimit int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.With(slog.String("component", "api")),
		now:    time.Now,
	}
	if rateLimit > 0 {
		s.limiter = NewRateLimiter(rateLimit, time.Minute)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware, s.rateLimitMiddleware)

	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.updateSession).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{id}", s.deleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/cancel", s.cancelSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/end", s.endSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/registrations", s.register).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/registrations", s.unregister).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/join", s.join).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/leave", s.leave).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/attendance", s.attendance).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	if s.deps.Events != nil {
		s.router.Handle("/ws/sessions/{id}", s.deps.Events).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, r, apperror.NotFound("no such route"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Envelope{Error: &ErrorBody{
			Code:    http.StatusMethodNotAllowed,
			Reason:  "method_not_allowed",
			Message: "method not allowed",
		}})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RunLimiterCleanup evicts idle rate limit entries until ctx is done.
func (s *Server) RunLimiterCleanup(ctx context.Context, interval time.Duration) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

// UpdateSessionRequest is the PATCH body. Absent fields stay unchanged.
type UpdateSessionRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	MaxParticipants *int       `json:"max_participants"`
	IsPublic        *bool      `json:"is_public"`
	ScheduledStart  *time.Time `json:"scheduled_start"`
	DurationMinutes *int       `json:"duration_minutes"`
}

func (r UpdateSessionRequest) toUpdate() types.SessionUpdate {
	return types.SessionUpdate{
		Title:           r.Title,
		Description:     r.Description,
		MaxParticipants: r.MaxParticipants,
		IsPublic:        r.IsPublic,
		ScheduledStart:  r.ScheduledStart,
		DurationMinutes: r.DurationMinutes,
	}
}

// RegistrationRequest names the participant to add or remove. Empty means
// the caller.
type RegistrationRequest struct {
	ParticipantID string `json:"participant_id"`
}

type ListSessionsResponse struct {
	Sessions []*types.SessionView `json:"sessions"`
	Count    int                  `json:"count"`
}

type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Database  string          `json:"database"`
	Streams   map[string]int  `json:"streams,omitempty"`
	Cleanup   *cleanup.Status `json:"cleanup,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req session.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	created, err := s.deps.Sessions.CreateSession(r.Context(), actor, req)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.respondView(w, r, http.StatusCreated, created.ID, actor)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	views, err := s.deps.Sessions.ListSessions(r.Context(), filter, actor)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if views == nil {
		views = []*types.SessionView{}
	}
	s.sendData(w, http.StatusOK, ListSessionsResponse{Sessions: views, Count: len(views)})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	s.respondView(w, r, http.StatusOK, mux.Vars(r)["id"], actor)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req UpdateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}

	updated, err := s.deps.Sessions.UpdateSession(r.Context(), mux.Vars(r)["id"], actor, req.toUpdate())
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.respondView(w, r, http.StatusOK, updated.ID, actor)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if err := s.deps.Sessions.DeleteSession(r.Context(), mux.Vars(r)["id"], actor); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, http.StatusOK, map[string]string{"deleted": mux.Vars(r)["id"]})
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.deps.Sessions.CancelSession)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.deps.Sessions.EndSession)
}

func (s *Server) command(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, string, types.Actor) (*types.Session, error)) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	changed, err := apply(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.respondView(w, r, http.StatusOK, changed.ID, actor)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID, ok := s.rosterTarget(w, r)
	if !ok {
		return
	}
	if err := s.deps.Registrations.Register(r.Context(), sessionID, participantID); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, http.StatusCreated, map[string]string{
		"session_id":     sessionID,
		"participant_id": participantID,
	})
}

func (s *Server) unregister(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID, ok := s.rosterTarget(w, r)
	if !ok {
		return
	}
	if err := s.deps.Registrations.Unregister(r.Context(), sessionID, participantID); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, http.StatusOK, map[string]string{
		"session_id":     sessionID,
		"participant_id": participantID,
	})
}

// rosterTarget resolves whose registration a request changes. Acting on
// someone else's registration needs the session owner or an admin.
func (s *Server) rosterTarget(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	actor, ok := s.actor(w, r)
	if !ok {
		return "", "", false
	}

	var req RegistrationRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.sendError(w, r, err)
		return "", "", false
	}

	sessionID := mux.Vars(r)["id"]
	if req.ParticipantID == "" || req.ParticipantID == actor.ID {
		return sessionID, actor.ID, true
	}

	target, err := s.deps.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, r, err)
		return "", "", false
	}
	if !actor.CanManage(target) {
		s.sendError(w, r, apperror.Forbidden("only the session owner can manage other participants"))
		return "", "", false
	}
	return sessionID, req.ParticipantID, true
}

func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	cred, err := s.deps.Sessions.Join(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, http.StatusOK, cred)
}

func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if err := s.deps.Sessions.Leave(r.Context(), mux.Vars(r)["id"], actor); err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, http.StatusOK, map[string]string{"left": mux.Vars(r)["id"]})
}

func (s *Server) attendance(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	report, err := s.deps.Registrations.Attendance(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, http.StatusOK, report)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Database:  "healthy",
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = err.Error()
		}
	}
	if s.deps.Stats != nil {
		resp.Streams = s.deps.Stats.Stats()
	}
	if s.deps.Cleanup != nil {
		status := s.deps.Cleanup.Status()
		resp.Cleanup = &status
	}

	if resp.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{OK: false, Data: resp})
		return
	}
	s.sendData(w, http.StatusOK, resp)
}

func (s *Server) respondView(w http.ResponseWriter, r *http.Request, status int, sessionID string, actor types.Actor) {
	view, err := s.deps.Sessions.ViewSession(r.Context(), sessionID, actor)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendData(w, status, view)
}

func (s *Server) actor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		s.sendError(w, r, err)
		return types.Actor{}, false
	}
	return actor, true
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperror.Validation(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

func parseFilter(r *http.Request) (types.SessionFilter, error) {
	q := r.URL.Query()
	filter := types.SessionFilter{
		OwnerID:        q.Get("owner_id"),
		CourseID:       q.Get("course_id"),
		Status:         types.Status(q.Get("status")),
		IncludeExpired: q.Get("include_expired") == "true",
	}
	if filter.Status != "" && !types.IsValidStatus(filter.Status) {
		return filter, apperror.Validation(types.ErrInvalidStatus)
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		return filter, apperror.Validation(errors.New("limit must be a non-negative integer"))
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		return filter, apperror.Validation(errors.New("offset must be a non-negative integer"))
	}
	return filter, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative")
	}
	return n, nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderUserID+", "+HeaderUserRole)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware keys on the asserted caller, falling back to the
// remote address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(limitKey(r)) {
			s.sendError(w, r, apperror.RateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitKey(r *http.Request) string {
	if id := r.Header.Get(HeaderUserID); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
