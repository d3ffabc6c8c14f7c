package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/depthview/pkg/config"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Server is the web preview. It shows the latest annotated frame as an MJPEG stream,
// and publishes decoded NN results over a websocket.
type Server struct {
	Log     logs.Log
	Latest  *LatestFrame
	Feed    *DetectionFeed
	Metrics *Metrics

	configLock sync.Mutex
	config     config.Map

	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

func NewServer(log logs.Log, metrics *Metrics) (*Server, error) {
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		Log:     log,
		Latest:  NewLatestFrame(),
		Feed:    NewDetectionFeed(log),
		Metrics: metrics,
		config:  config.Map{},
	}
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Handler:           s.httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// SetConfig replaces the document served on /config. We keep our own copy.
func (s *Server) SetConfig(cfg config.Map) {
	c := config.Clone(cfg)
	s.configLock.Lock()
	s.config = c
	s.configLock.Unlock()
}

// Config returns a copy of the document served on /config
func (s *Server) Config() config.Map {
	s.configLock.Lock()
	defer s.configLock.Unlock()
	return config.Clone(s.config)
}

func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenHTTP serves until Shutdown is called.
// addr example: ":8090"
func (s *Server) ListenHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.Log.Infof("Web preview listening on %v", ln.Addr())

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) {
	s.Log.Infof("Closing HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Log.Warnf("HTTP server shutdown: %v", err)
	}
}
