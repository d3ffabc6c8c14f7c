package server

import (
	"embed"
	"fmt"
	"net/http"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

const mjpegBoundary = "jpgboundary"

// If no new frame arrives within this time, we resend the last one, so that
// proxies and browsers don't give up on the stream.
const mjpegKeepAlive = 5 * time.Second

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	ratelimited := func(method, route string, handle http.HandlerFunc, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(handle).ServeHTTP(w, r)
		})
	}

	www.Handle(s.Log, router, "GET", "/stream", s.httpStream)
	www.Handle(s.Log, router, "GET", "/config", s.httpConfig)
	ratelimited("POST", "/update", s.httpUpdate, 10, time.Second)
	www.Handle(s.Log, router, "GET", "/api/ws/detections", s.httpDetections)
	metrics := s.Metrics.Handler()
	www.Handle(s.Log, router, "GET", "/metrics", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		metrics.ServeHTTP(w, r)
	})

	static, err := staticfiles.NewCachedStaticFileServer(staticWWW, "www", []string{"/api/"}, s.Log, true, nil)
	if err != nil {
		return fmt.Errorf("Error in static files: %w", err)
	}
	router.NotFound = static

	s.httpRouter = router
	return nil
}

// Stream the latest frame as multipart JPEG, until the client goes away
func (s *Server) httpStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		www.PanicServerErrorf("Streaming unsupported")
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	seq := int64(0)
	for {
		jpg, next, err := s.Latest.Wait(r.Context(), seq, mjpegKeepAlive)
		if err != nil {
			return
		}
		seq = next
		if jpg == nil {
			continue
		}
		if err := writeMJPEGPart(w, jpg); err != nil {
			s.Log.Debugf("MJPEG client disconnected: %v", err)
			return
		}
		flusher.Flush()
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--%v\r\nContent-Type: image/jpeg\r\nContent-Length: %v\r\n\r\n", mjpegBoundary, len(jpg)); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func (s *Server) httpConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Config())
}

// Echo the posted JSON document back to the client
func (s *Server) httpUpdate(w http.ResponseWriter, r *http.Request) {
	var doc any
	www.ReadJSON(w, r, &doc, 1024*1024)
	s.Log.Infof("Update: %v", doc)
	www.SendJSON(w, doc)
}

func (s *Server) httpDetections(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	s.Feed.Run(c)
}
