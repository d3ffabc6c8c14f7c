package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/depthview/pkg/config"
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/depthview/pkg/nnfamily"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	s, err := NewServer(logs.NewTestingLog(t), nil)
	require.NoError(t, err)
	return s
}

func TestLatestFrameWait(t *testing.T) {
	l := NewLatestFrame()
	jpg, seq := l.Get()
	require.Nil(t, jpg)
	require.EqualValues(t, 0, seq)

	// Timeout with no frame
	jpg, seq, err := l.Wait(context.Background(), 0, 10*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, jpg)
	require.EqualValues(t, 0, seq)

	// A waiter is woken by a new frame
	done := make(chan []byte)
	go func() {
		jpg, _, _ := l.Wait(context.Background(), 0, time.Minute)
		done <- jpg
	}()
	time.Sleep(10 * time.Millisecond)
	l.SetJPEG([]byte{1, 2, 3})
	select {
	case jpg := <-done:
		require.Equal(t, []byte{1, 2, 3}, jpg)
	case <-time.After(5 * time.Second):
		t.Fatal("Waiter was not woken")
	}

	// A frame newer than 'after' is returned immediately
	jpg, seq, err = l.Wait(context.Background(), 0, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, jpg)
	require.EqualValues(t, 1, seq)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = l.Wait(ctx, 1, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLatestFramePublish(t *testing.T) {
	l := NewLatestFrame()
	img := cimg.NewImage(32, 16, cimg.PixelFormatRGB)
	require.NoError(t, l.Publish(img))
	jpg, seq := l.Get()
	require.EqualValues(t, 1, seq)
	// JPEG SOI marker
	require.Equal(t, []byte{0xff, 0xd8}, jpg[:2])
}

func TestStream(t *testing.T) {
	s := newTestServer(t)
	s.Latest.SetJPEG([]byte("frame1"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest("GET", "/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "multipart/x-mixed-replace; boundary=jpgboundary", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "--jpgboundary\r\nContent-Type: image/jpeg\r\nContent-Length: 6\r\n\r\nframe1\r\n"), body)
	require.Equal(t, 1, strings.Count(body, "--jpgboundary"))
}

func TestConfig(t *testing.T) {
	s := newTestServer(t)
	cfg := config.Defaults(config.DefaultArgs())
	s.SetConfig(cfg)

	// Our copy is independent of the caller's
	cfg["depth"].(config.Map)["padding_factor"] = 0.9

	r := httptest.NewRequest("GET", "/config", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, 200, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	got := config.Map{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, 0.3, config.Float(got, "depth.padding_factor", 0))
	require.Equal(t, []string{"metaout", "previewout"}, config.StreamNames(got))
}

func TestUpdateEcho(t *testing.T) {
	s := newTestServer(t)
	doc := `{"ai":{"shaves":7},"streams":["left"]}`
	r := httptest.NewRequest("POST", "/update", strings.NewReader(doc))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, 200, w.Code)
	require.JSONEq(t, doc, w.Body.String())

	r = httptest.NewRequest("POST", "/update", strings.NewReader(`{"ai":`))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateRateLimit(t *testing.T) {
	s := newTestServer(t)
	codes := []int{}
	for i := 0; i < 30; i++ {
		r := httptest.NewRequest("POST", "/update", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	require.Equal(t, 200, codes[0])
	require.Contains(t, codes, http.StatusTooManyRequests)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	s.Metrics.NNPackets.Inc()
	s.Metrics.Frames.WithLabelValues("previewout").Add(3)
	require.Equal(t, 3.0, testutil.ToFloat64(s.Metrics.Frames.WithLabelValues("previewout")))

	r := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "depthview_nn_packets_total 1")
	require.Contains(t, w.Body.String(), `depthview_frames_total{stream="previewout"} 3`)
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "/api/ws/detections")

	r = httptest.NewRequest("GET", "/api/nope", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, 404, w.Code)
}

func TestDetectionFeed(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/detections"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Feed.NumSubscribers() == 1 }, 5*time.Second, 5*time.Millisecond)

	res := &nnfamily.Result{
		Family:      nn.FamilyMobileNet,
		SequenceNum: 12,
		Detections: []*device.SpatialImgDetection{
			{ImgDetection: device.ImgDetection{Label: 15, Confidence: 0.9, XMin: 0.1, YMin: 0.2, XMax: 0.3, YMax: 0.4}},
		},
	}
	s.Feed.Publish(res)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := nnfamily.Result{}
	require.NoError(t, conn.ReadJSON(&got))
	require.EqualValues(t, 12, got.SequenceNum)
	require.Equal(t, 1, len(got.Detections))
	require.Equal(t, 15, got.Detections[0].Label)

	conn.Close()
	require.Eventually(t, func() bool { return s.Feed.NumSubscribers() == 0 }, 5*time.Second, 5*time.Millisecond)
}
