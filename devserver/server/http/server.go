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
	"github.com/edurace/realtime/devserver/hub"
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
	ErrNoEvent    = errors.New("event name is empty")
)

type Hub interface {
	Emit(event string, payload json.RawMessage, roomID string) (int, error)
	Kick() int
	Rooms() []model.Room
	History() []hub.Received
}

type EmitRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Room    string          `json:"room,omitempty"`
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	hub    Hub
	*http.Server
}

type Config struct {
	Logger *zerolog.Logger
	Hub    Hub
	// Gateway serves /socket.io/.
	Gateway    http.Handler
	ListenAddr string
	// OnShutdown runs when the server shuts down, hijacked websocket
	// connections are not closed by http.Server itself.
	OnShutdown func()
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "dev-server").Logger(),
		hub:    cfg.Hub,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:         86400,
	}))

	r.Handle("/socket.io/*", cfg.Gateway)
	r.Route("/api", func(r chi.Router) {
		r.Post("/emit", srv.emit)
		r.Post("/kick", srv.kick)
		r.Get("/rooms", srv.rooms)
		r.Get("/events", srv.events)
	})

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.OnShutdown != nil {
		srv.RegisterOnShutdown(cfg.OnShutdown)
	}
	return srv
}

func (srv *Server) emit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	var req EmitRequest
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err == nil && req.Event == "" {
		err = ErrNoEvent
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: err.Error()})
		return
	}

	srv.logger.Trace().Any("request", req).Msg("got emit request")

	sent, err := srv.hub.Emit(req.Event, req.Payload, req.Room)
	switch {
	case errors.Is(err, hub.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, &GenericResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, &GenericResponse{Message: "OK", Data: map[string]int{"delivered": sent}})
	}
}

func (srv *Server) kick(w http.ResponseWriter, _ *http.Request) {
	n := srv.hub.Kick()
	writeJSON(w, http.StatusOK, &GenericResponse{Message: "OK", Data: map[string]int{"kicked": n}})
}

func (srv *Server) rooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.hub.Rooms()})
}

func (srv *Server) events(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.hub.History()})
}

func writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
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
