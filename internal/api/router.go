package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lightengine/internal/dmx"
	"lightengine/internal/engine"
	"lightengine/internal/logger"
	"lightengine/internal/metrics"
	"lightengine/internal/object"
)

// Server exposes the interface state and a few runtime controls over HTTP.
type Server struct {
	log      *logger.Log
	iface    *dmx.Interface
	engine   *engine.Engine
	registry *object.Registry
	metrics  *metrics.Metrics
}

func New(log logger.Logger, iface *dmx.Interface, eng *engine.Engine, reg *object.Registry, m *metrics.Metrics) *Server {
	return &Server{
		log:      log.With(logger.Fields{"module": "http"}),
		iface:    iface,
		engine:   eng,
		registry: reg,
		metrics:  m,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/universes", s.listUniverses).Methods("GET")
	r.HandleFunc("/universes/{net:[0-9]+}/{subnet:[0-9]+}/{universe:[0-9]+}", s.getUniverse).Methods("GET")
	r.HandleFunc("/objects/{id:-?[0-9]+}/values", s.objectValues).Methods("GET")
	r.HandleFunc("/objects/{id:-?[0-9]+}/chain", s.objectChain).Methods("GET")
	r.HandleFunc("/testing", s.putTesting).Methods("PUT")
	r.HandleFunc("/send", s.putSend).Methods("PUT")
	r.HandleFunc("/engine/reshuffle", s.reshuffle).Methods("POST")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	accessLog := s.log.WriterLevel(logrus.DebugLevel)
	defer accessLog.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(accessLog, s.Router())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
