package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/fps"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/depthview/pkg/nnfamily"
	"github.com/cyclopcam/depthview/pkg/perfstats"
	"github.com/cyclopcam/depthview/pkg/watchdog"
	"github.com/cyclopcam/depthview/server"
	"github.com/cyclopcam/depthview/server/eventdb"
	"github.com/cyclopcam/logs"
)

// Monitor runs the host side of the pipeline: it polls the device, decodes the NN output,
// draws it onto the frames, and publishes the frames.
// Everything happens on the goroutine that calls Run.

// Process exit codes
const (
	ExitCodeDevice   = 1  // Device could not be opened, or went away
	ExitCodeConfig   = 2  // Bad configuration or arguments
	ExitCodePipeline = 3  // Device refused the pipeline
	ExitCodeWatchdog = 10 // Device stopped sending packets
)

var ErrWatchdogTimeout = errors.New("process watchdog timeout")

// How often we log the time spent on each stream
const PerfLogInterval = 30 * time.Second

// ExitError is a fatal error, which should terminate the process with Code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Options for a Monitor. The zero value of every field is valid.
type Options struct {
	Streams         []string          // Enabled streams. Packets from any other stream are ignored.
	DrawBBDepth     bool              // Draw detections on the mono and depth frames
	PreviewStream   string            // Stream that is published to the web preview. Default is previewout.
	DumpDir         string            // If not empty, annotated frames are saved here
	DumpInterval    time.Duration     // Save at most one frame per stream per interval. Default 1 second.
	Video           io.Writer         // Destination of the encoded video stream
	VideoMaxBytes   int64             // Stop writing video after this many bytes. 0 = no limit.
	SecondStage     *nnfamily.Handler // Decoder of the second_stage stream
	TwoStageLabels  []int             // Only these labels are sent to the second stage. nil = all.
	WatchdogTimeout time.Duration     // 0 = watchdog.DefaultTimeout. Negative disables the watchdog.
	PollInterval    time.Duration     // Sleep between polls when the device had nothing for us. Default 5ms.
	Preview         *server.Server    // Optional
	EventDB         *eventdb.EventDB  // Optional
	Metrics         *server.Metrics   // Optional. Defaults to Preview.Metrics.
}

type Monitor struct {
	Log logs.Log

	device   device.Device
	handler  *nnfamily.Handler
	opts     Options
	streams  map[string]bool
	fps      *fps.Counter
	perf     *perfstats.Stages
	watchdog *watchdog.Watchdog

	latest      *nnfamily.Result     // Most recent NN output
	tracklets   *device.Tracklets    // Most recent tracker output
	secondStage []*device.NNData     // Second stage results that belong to 'latest'
	lastDumpAt  map[string]time.Time // Per stream
	lastErrAt   time.Time            // For rate limiting error messages
	lastDropped int64                // Device queue drop count at the last poll
	lastGauges  time.Time            // When we last updated the FPS gauges
	lastPerfLog time.Time            // When we last logged the processing times
	lastItems   map[string]int       // Number of detections added to the last packet of each stream
	videoBytes  int64                // Bytes written to opts.Video
	videoFull   bool                 // opts.VideoMaxBytes has been reached
}

func NewMonitor(log logs.Log, dev device.Device, handler *nnfamily.Handler, opts Options) *Monitor {
	if opts.PreviewStream == "" {
		opts.PreviewStream = device.StreamPreview
	}
	if opts.DumpInterval == 0 {
		opts.DumpInterval = time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.Metrics == nil && opts.Preview != nil {
		opts.Metrics = opts.Preview.Metrics
	}
	m := &Monitor{
		Log:         log,
		device:      dev,
		handler:     handler,
		opts:        opts,
		streams:     map[string]bool{},
		fps:         fps.New(),
		perf:        perfstats.NewStages(),
		lastDumpAt:  map[string]time.Time{},
		lastItems:   map[string]int{},
		lastPerfLog: time.Now(),
	}
	for _, s := range opts.Streams {
		m.streams[s] = true
	}
	if opts.WatchdogTimeout >= 0 {
		m.watchdog = watchdog.New(opts.WatchdogTimeout)
	}
	return m
}

// FPS returns the per-stream frame rate counters
func (m *Monitor) FPS() *fps.Counter {
	return m.fps
}

// Perf returns the time spent on NN decoding and on each stream
func (m *Monitor) Perf() *perfstats.Stages {
	return m.perf
}

// VideoBytes returns the number of bytes of encoded video that have been written
func (m *Monitor) VideoBytes() int64 {
	return m.videoBytes
}

// Latest returns the most recent NN result, or nil
func (m *Monitor) Latest() *nnfamily.Result {
	return m.latest
}

// Run polls the device until the context is cancelled, or a fatal error occurs.
// Fatal errors are returned as *ExitError.
func (m *Monitor) Run(ctx context.Context) error {
	m.Log.Infof("Monitor running. Streams: %v", strings.Join(m.opts.Streams, ", "))
	if m.watchdog != nil {
		m.watchdog.Reset()
	}
	for {
		if ctx.Err() != nil {
			m.Log.Infof("Monitor stopped")
			return nil
		}
		packets, err := m.device.Poll()
		if err != nil {
			return &ExitError{Code: ExitCodeDevice, Err: fmt.Errorf("Error reading from device: %w", err)}
		}
		if packets.Len() != 0 {
			if m.watchdog != nil {
				m.watchdog.Reset()
			}
			m.Process(packets)
			continue
		}
		if m.watchdog != nil && m.watchdog.Expired() {
			m.Log.Errorf("No packets from the device in %v", m.watchdog.Timeout())
			return &ExitError{Code: ExitCodeWatchdog, Err: ErrWatchdogTimeout}
		}
		select {
		case <-ctx.Done():
		case <-time.After(m.opts.PollInterval):
		}
	}
}

// Process handles one batch of packets from the device.
// NN results are decoded first, so that the frames in the same batch are drawn with them.
func (m *Monitor) Process(packets device.Packets) {
	for _, data := range packets.NN {
		m.onNN(data)
	}
	for _, p := range packets.Data {
		if !m.streams[p.Stream] {
			// Streams that the device added on its own
			continue
		}
		start := time.Now()
		m.onData(p)
		m.perf.Measure(p.Stream, start)
		m.fps.Tick(p.Stream)
		if m.opts.Metrics != nil {
			m.opts.Metrics.Frames.WithLabelValues(p.Stream).Inc()
		}
	}
	m.updateMetrics()
}

func (m *Monitor) onNN(data *device.NNData) {
	defer m.perf.Measure("nn", time.Now())
	m.fps.Tick(device.StreamMeta)
	res := m.handler.Decode(data)
	m.latest = res
	m.secondStage = nil

	if m.opts.Metrics != nil {
		m.opts.Metrics.NNPackets.Inc()
		for _, d := range res.Detections {
			if m.handler.Visible(&d.ImgDetection) {
				label, _ := nn.LabelText(m.handler.Labels(), d.Label)
				m.opts.Metrics.Detections.WithLabelValues(label).Inc()
			}
		}
	}
	if m.opts.Preview != nil {
		m.opts.Preview.Feed.Publish(res)
	}
	if m.opts.EventDB != nil {
		if err := m.opts.EventDB.AddResult(m.handler, res); err != nil {
			m.logError("Failed to record detections: %v", err)
		}
	}
}

func (m *Monitor) updateMetrics() {
	if dc, ok := m.device.(interface{ Dropped() int64 }); ok {
		dropped := dc.Dropped()
		if dropped > m.lastDropped && m.opts.Metrics != nil {
			m.opts.Metrics.DroppedPackets.Add(float64(dropped - m.lastDropped))
		}
		m.lastDropped = dropped
	}
	now := time.Now()
	if m.opts.Metrics != nil && now.Sub(m.lastGauges) >= time.Second {
		m.lastGauges = now
		for name, f := range m.fps.All() {
			m.opts.Metrics.FPS.WithLabelValues(name).Set(f)
		}
	}
	if now.Sub(m.lastPerfLog) >= PerfLogInterval {
		m.lastPerfLog = now
		if summary := m.perf.Summary(); summary != "" {
			m.Log.Infof("Processing time: %v", summary)
		}
		m.perf.Reset()
	}
}

// Error messages are rate limited, because a broken stream will produce one per frame
func (m *Monitor) logError(format string, args ...any) {
	now := time.Now()
	if now.Sub(m.lastErrAt) > 15*time.Second {
		m.Log.Errorf(format, args...)
		m.lastErrAt = now
	}
}

func (m *Monitor) hasStream(name string) bool {
	return m.streams[name]
}

func isMonoStream(name string) bool {
	return slices.Contains([]string{device.StreamLeft, device.StreamRight, device.StreamDisparity}, name)
}
