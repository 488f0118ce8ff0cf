// Package server exposes a dispatcher over local HTTP so web pages can send
// identify, page and track calls to a single endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vincentbai/eventfan/internal/fan"
	"github.com/vincentbai/eventfan/internal/history"
	"github.com/vincentbai/eventfan/internal/models"
)

// Dispatcher is the part of fan.Fan the server drives.
type Dispatcher interface {
	Identify(ctx context.Context, userID string, traits models.Properties, options models.Options, opts ...fan.CallOption) error
	Page(ctx context.Context, name string, properties models.Properties, options models.Options, opts ...fan.CallOption) error
	Track(ctx context.Context, name string, properties models.Properties, options models.Options, opts ...fan.CallOption) error
	History() history.Reader
}

type Server struct {
	dispatcher Dispatcher
	address    string
	logger     *slog.Logger
	server     *http.Server
}

func NewServer(dispatcher Dispatcher, address string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: dispatcher,
		address:    address,
		logger:     logger,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleIdentify(w http.ResponseWriter, request *http.Request) {
	var body models.IdentifyRequest
	if !decode(w, request, &body) {
		return
	}
	if err := body.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respond(w, "identify", s.identify(request, body))
}

func (s *Server) handlePage(w http.ResponseWriter, request *http.Request) {
	var body models.PageRequest
	if !decode(w, request, &body) {
		return
	}
	s.respond(w, "page", s.page(request, body))
}

func (s *Server) handleTrack(w http.ResponseWriter, request *http.Request) {
	var body models.TrackRequest
	if !decode(w, request, &body) {
		return
	}
	if err := body.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respond(w, "track", s.track(request, body))
}

// handleBatch runs the calls one after another, each finishing before the
// next starts, so they reach destinations in the order sent. The batch is
// rejected whole if any call is invalid.
func (s *Server) handleBatch(w http.ResponseWriter, request *http.Request) {
	var batch models.Batch
	if !decode(w, request, &batch) {
		return
	}
	for _, call := range batch.Calls {
		if err := call.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if len(batch.Calls) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var errs []error
	for _, call := range batch.Calls {
		var err error
		switch call.Type {
		case "identify":
			err = s.identify(request, *call.Identify)
		case "page":
			err = s.page(request, *call.Page)
		case "track":
			err = s.track(request, *call.Track)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	s.respond(w, "batch", errors.Join(errs...))
}

func (s *Server) handleHistory(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	entries := s.dispatcher.History().Entries()
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.logger.Error("failed to encode history", slog.String("error", err.Error()))
	}
}

// dispatchContext keeps delivery running if the browser goes away mid-call.
func dispatchContext(request *http.Request) context.Context {
	return context.WithoutCancel(request.Context())
}

func (s *Server) identify(request *http.Request, body models.IdentifyRequest) error {
	return s.dispatcher.Identify(dispatchContext(request), body.UserID, body.Traits, body.Options)
}

func (s *Server) page(request *http.Request, body models.PageRequest) error {
	var opts []fan.CallOption
	if body.Title != "" || body.URL != "" {
		opts = append(opts, fan.WithPageContext(fan.StaticPage{PageTitle: body.Title, Href: body.URL}))
	}
	return s.dispatcher.Page(dispatchContext(request), body.Name, body.Properties, body.Options, opts...)
}

func (s *Server) track(request *http.Request, body models.TrackRequest) error {
	return s.dispatcher.Track(dispatchContext(request), body.Name, body.Properties, body.Options)
}

// respond maps a dispatch result to a status. The call is buffered either
// way, so a destination failure is 202 rather than an error status.
func (s *Server) respond(w http.ResponseWriter, call string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent) // success, no body
	case fan.IsDeliveryError(err):
		s.logger.Warn("call accepted with destination failures",
			slog.String("call", call),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusAccepted)
	default:
		s.logger.Error("dispatch error", slog.String("call", call), slog.String("error", err.Error()))
		http.Error(w, "Failed to dispatch call", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, request *http.Request, target any) bool {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/identify", s.handleIdentify)
	mux.HandleFunc("/page", s.handlePage)
	mux.HandleFunc("/track", s.handleTrack)
	mux.HandleFunc("/batch", s.handleBatch)
	mux.HandleFunc("/history", s.handleHistory)
	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("EventFan agent listening", slog.String("address", s.address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info("Shutting down server...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}

	s.logger.Info("Server exited")
	return nil
}
