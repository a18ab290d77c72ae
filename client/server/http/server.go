package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/realtime"
	"github.com/edurace/realtime/client/service"
	store "github.com/edurace/realtime/client/storage/memory"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultMaxBodySize      = 1 << 20
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RealtimeService interface {
	Status() realtime.Status
	State() store.State
	Leaderboard(courseID string) ([]model.LeaderboardEntry, error)
	DismissNotification(id string) error

	JoinCourse(courseID, userID string) error
	LeaveCourse(courseID, userID string) error
	JoinLeaderboard(userID string) error
	LeaveLeaderboard(userID string) error
	SubmitQuizAnswer(a model.QuizAnswer) error
	StartQuiz(q model.StartQuiz) error
	CompleteLesson(l model.LessonCompleted) error
	TrackActivity(userID, activity string) error
}

type UserRequest struct {
	UserID string `json:"userId"`
}

type ActivityRequest struct {
	UserID   string `json:"userId"`
	Activity string `json:"activity"`
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    RealtimeService
	*http.Server
}

type Config struct {
	Logger          *zerolog.Logger
	RealtimeService RealtimeService
	// Metrics is mounted at /metrics when set.
	Metrics    http.Handler
	ListenAddr string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RealtimeService,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:         86400,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", srv.status)
		r.Get("/state", srv.state)
		r.Get("/leaderboard/{courseID}", srv.leaderboard)

		r.Post("/course/{courseID}/join", srv.joinCourse)
		r.Post("/course/{courseID}/leave", srv.leaveCourse)
		r.Post("/leaderboard/join", srv.joinLeaderboard)
		r.Post("/leaderboard/leave", srv.leaveLeaderboard)
		r.Post("/quiz/start", srv.startQuiz)
		r.Post("/quiz/answer", srv.submitAnswer)
		r.Post("/lesson/complete", srv.completeLesson)
		r.Post("/activity", srv.trackActivity)

		r.Delete("/notifications/{id}", srv.dismissNotification)
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

func (srv *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.svc.Status()})
}

func (srv *Server) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.svc.State()})
}

func (srv *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := srv.svc.Leaderboard(chi.URLParam(r, "courseID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Data: entries})
}

func (srv *Server) joinCourse(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.JoinCourse(chi.URLParam(r, "courseID"), req.UserID))
}

func (srv *Server) leaveCourse(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.LeaveCourse(chi.URLParam(r, "courseID"), req.UserID))
}

func (srv *Server) joinLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.JoinLeaderboard(req.UserID))
}

func (srv *Server) leaveLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.LeaveLeaderboard(req.UserID))
}

func (srv *Server) startQuiz(w http.ResponseWriter, r *http.Request) {
	var req model.StartQuiz
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.StartQuiz(req))
}

func (srv *Server) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req model.QuizAnswer
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.SubmitQuizAnswer(req))
}

func (srv *Server) completeLesson(w http.ResponseWriter, r *http.Request) {
	var req model.LessonCompleted
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.CompleteLesson(req))
}

func (srv *Server) trackActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !srv.decode(w, r, &req) {
		return
	}
	srv.respond(w, srv.svc.TrackActivity(req.UserID, req.Activity))
}

func (srv *Server) dismissNotification(w http.ResponseWriter, r *http.Request) {
	if err := srv.svc.DismissNotification(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Message: "OK"})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (srv *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err = json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	srv.logger.Trace().Str("path", r.URL.Path).Any("request", v).Msg("got request")
	return true
}

// respond answers 202: the event is handed to the client, delivery is not confirmed.
func (srv *Server) respond(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, &GenericResponse{Message: "OK"})
	case errors.Is(err, service.ErrNoUser), errors.Is(err, service.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err)
	default:
		srv.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, ErrUnexpected)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, &GenericResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, code, b)
}

func writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
