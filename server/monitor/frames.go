package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/kibi"
	"github.com/cyclopcam/depthview/pkg/nnfamily"
	"github.com/cyclopcam/depthview/pkg/overlay"
	"github.com/cyclopcam/depthview/pkg/packets"
)

func (m *Monitor) onData(p *device.DataPacket) {
	switch {
	case p.Stream == device.StreamPreview:
		m.onPreview(p)
	case isMonoStream(p.Stream):
		m.onMono(p)
	case p.Stream == device.StreamSpatialBB:
		m.onSpatialBB(p)
	case strings.HasPrefix(p.Stream, "depth"):
		m.onDepth(p)
	case p.Stream == device.StreamJpeg:
		m.onJpeg(p)
	case p.Stream == device.StreamVideo:
		m.onVideo(p)
	case p.Stream == device.StreamMetaD2H:
		m.onMetaD2H(p)
	case p.Stream == device.StreamObjectTracker:
		if p.Tracklets != nil {
			m.tracklets = p.Tracklets
		}
	case p.Stream == device.StreamSecondStage:
		if p.NNData != nil {
			m.secondStage = append(m.secondStage, p.NNData)
		}
	default:
		m.logError("Unhandled stream '%v'", p.Stream)
	}
}

func (m *Monitor) frameOf(p *device.DataPacket) *device.ImgFrame {
	if p.Frame == nil {
		m.logError("Invalid packet data on stream '%v'", p.Stream)
		m.frameError(p.Stream)
	}
	return p.Frame
}

func (m *Monitor) frameError(stream string) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.FrameErrors.WithLabelValues(stream).Inc()
	}
}

// The NN preview, with detections (and tracklets, or second stage results) drawn on top
func (m *Monitor) onPreview(p *device.DataPacket) {
	frame := m.frameOf(p)
	if frame == nil {
		return
	}
	var imgDetections device.Detections = &device.ImgDetections{}
	if m.latest != nil {
		imgDetections = m.latest.ImgDetections()
	}

	var fp *packets.FramePacket
	var items []*packets.Detection
	var err error
	var canvas *overlay.Canvas

	if m.hasStream(device.StreamObjectTracker) && m.tracklets != nil {
		var tp *packets.TrackerPacket
		if tp, err = packets.NewTrackerPacket(p.Stream, frame, m.tracklets); err == nil {
			m.handler.AddTracklets(tp)
			canvas = overlay.NewCanvas(tp.Frame)
			m.handler.AnnotateCanvas(m.latest, canvas, false)
			m.handler.DrawTracklets(canvas, tp.Tracklets)
			fp, items = &tp.FramePacket, tp.Items()
		}
	} else if m.opts.SecondStage != nil && len(m.secondStage) != 0 {
		var sp *packets.TwoStagePacket
		if sp, err = packets.NewTwoStagePacket(p.Stream, frame, imgDetections, m.secondStage, m.opts.TwoStageLabels); err == nil {
			m.handler.AddDetections(sp, m.latest, sp.Frame.Width, sp.Frame.Height, false)
			canvas = overlay.NewCanvas(sp.Frame)
			m.handler.AnnotateCanvas(m.latest, canvas, false)
			nnfamily.DrawSecondStage(canvas, m.opts.SecondStage, sp.Items())
			fp, items = &sp.FramePacket, sp.Items()
		}
	} else {
		var dp *packets.DetectionPacket
		if dp, err = packets.NewDetectionPacket(p.Stream, frame, imgDetections); err == nil {
			m.handler.AddDetections(dp, m.latest, dp.Frame.Width, dp.Frame.Height, false)
			canvas = overlay.NewCanvas(dp.Frame)
			m.handler.AnnotateCanvas(m.latest, canvas, false)
			fp, items = &dp.FramePacket, dp.Items()
		}
	}
	if err != nil {
		m.logError("Failed to decode %v frame: %v", p.Stream, err)
		m.frameError(p.Stream)
		return
	}
	m.lastItems[p.Stream] = len(items)
	canvas.Text(m.fpsText(p.Stream), 25, 50, overlay.Black)
	m.publish(fp.Name, frame.SequenceNum, canvas.Finish())
}

// left, right, and disparity
func (m *Monitor) onMono(p *device.DataPacket) {
	frame := m.frameOf(p)
	if frame == nil {
		return
	}
	img, err := frame.ToRGB()
	if err != nil {
		m.logError("Failed to decode %v frame: %v", p.Stream, err)
		m.frameError(p.Stream)
		return
	}
	canvas := overlay.NewCanvas(img)
	canvas.Text(p.Stream, 25, 25, overlay.Black)
	canvas.Text(m.fpsText(p.Stream), 25, 50, overlay.Black)
	if m.opts.DrawBBDepth {
		m.handler.AnnotateCanvas(m.latest, canvas, true)
	}
	m.publish(p.Stream, frame.SequenceNum, canvas.Finish())
}

// depth_raw, depth_color_h, depth_mm_h, depth_sipp
func (m *Monitor) onDepth(p *device.DataPacket) {
	frame := m.frameOf(p)
	if frame == nil {
		return
	}
	var img *cimg.Image
	var err error
	textColor := overlay.White
	switch frame.Type {
	case device.FrameTypeRaw16:
		var depth []uint16
		if depth, err = frame.Depth(); err == nil {
			img, err = overlay.ColorizeDepth(depth, frame.Width, frame.Height)
		}
	case device.FrameTypeGray8:
		img, err = frame.ToRGB()
		textColor = overlay.Red
	default:
		img, err = frame.ToRGB()
	}
	if err != nil {
		m.logError("Failed to decode %v frame: %v", p.Stream, err)
		m.frameError(p.Stream)
		return
	}
	canvas := overlay.NewCanvas(img)
	canvas.Text(p.Stream, 25, 25, textColor)
	canvas.Text(m.fpsText(p.Stream), 25, 50, textColor)
	if m.opts.DrawBBDepth {
		m.handler.AnnotateCanvas(m.latest, canvas, true)
	}
	m.publish(p.Stream, frame.SequenceNum, canvas.Finish())
}

// Depth map with the regions that the device averaged for spatial coordinates
func (m *Monitor) onSpatialBB(p *device.DataPacket) {
	frame := m.frameOf(p)
	if frame == nil {
		return
	}
	depth, err := frame.Depth()
	var img *cimg.Image
	if err == nil {
		img, err = overlay.ColorizeDepth(depth, frame.Width, frame.Height)
	}
	if err != nil {
		m.logError("Failed to decode %v frame: %v", p.Stream, err)
		m.frameError(p.Stream)
		return
	}
	sp := packets.NewSpatialBbMappingPacket(p.Stream, frame, img, p.SpatialConfig)
	canvas := overlay.NewCanvas(sp.Frame)
	nnfamily.DrawSpatialROIs(canvas, sp.Config)
	canvas.Text(m.fpsText(p.Stream), 25, 50, overlay.White)
	m.publish(sp.Name, frame.SequenceNum, canvas.Finish())
}

// Still captures from the color camera, already encoded as JPEG
func (m *Monitor) onJpeg(p *device.DataPacket) {
	img, err := cimg.Decompress(p.Raw)
	if err != nil {
		m.logError("Invalid JPEG on %v: %v", p.Stream, err)
		m.frameError(p.Stream)
		return
	}
	m.Log.Infof("Received %v JPEG %v x %v (%v bytes)", p.Stream, img.Width, img.Height, len(p.Raw))
	if m.opts.Preview != nil && m.opts.PreviewStream == p.Stream {
		m.opts.Preview.Latest.SetJPEG(p.Raw)
	}
	if m.opts.DumpDir != "" && m.mustDump(p.Stream) {
		m.dumpJPEG(p.Stream, time.Now().UnixMilli(), p.Raw)
	}
}

// Encoded video is written as-is
func (m *Monitor) onVideo(p *device.DataPacket) {
	if m.opts.Video == nil || m.videoFull {
		return
	}
	if m.opts.VideoMaxBytes > 0 && m.videoBytes+int64(len(p.Raw)) > m.opts.VideoMaxBytes {
		m.Log.Warnf("Video has reached %v. No longer recording video.", kibi.FormatBytes(m.videoBytes))
		m.videoFull = true
		return
	}
	n, err := m.opts.Video.Write(p.Raw)
	m.videoBytes += int64(n)
	if err != nil {
		m.logError("Failed to write video: %v", err)
	}
}

type metaD2H struct {
	Sensors struct {
		Temperature struct {
			CSS  float64 `json:"css"`
			MSS  float64 `json:"mss"`
			UPA0 float64 `json:"upa0"`
			UPA1 float64 `json:"upa1"`
		} `json:"temperature"`
	} `json:"sensors"`
}

// Device health report
func (m *Monitor) onMetaD2H(p *device.DataPacket) {
	meta := metaD2H{}
	if err := json.Unmarshal(p.Raw, &meta); err != nil {
		m.logError("Invalid %v packet: %v", p.Stream, err)
		return
	}
	t := &meta.Sensors.Temperature
	m.Log.Infof("meta_d2h Temp CSS:%6.2f MSS:%6.2f UPA:%6.2f DSS:%6.2f", t.CSS, t.MSS, t.UPA0, t.UPA1)
}

func (m *Monitor) fpsText(stream string) string {
	return fmt.Sprintf("fps: %v", int(m.fps.FPS(stream)))
}

func (m *Monitor) publish(stream string, seq int64, img *cimg.Image) {
	if m.opts.Preview != nil && m.opts.PreviewStream == stream {
		if err := m.opts.Preview.Latest.Publish(img); err != nil {
			m.logError("Failed to compress preview frame: %v", err)
		}
	}
	if m.opts.DumpDir != "" && m.mustDump(stream) {
		jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling444, 90, 0))
		if err != nil {
			m.logError("Failed to compress %v frame: %v", stream, err)
			return
		}
		m.dumpJPEG(stream, seq, jpg)
	}
}

func (m *Monitor) mustDump(stream string) bool {
	now := time.Now()
	if now.Sub(m.lastDumpAt[stream]) < m.opts.DumpInterval {
		return false
	}
	m.lastDumpAt[stream] = now
	return true
}

func (m *Monitor) dumpJPEG(stream string, seq int64, jpg []byte) {
	dir := filepath.Join(m.opts.DumpDir, stream)
	if err := os.MkdirAll(dir, 0770); err != nil {
		m.logError("Failed to create dump directory: %v", err)
		return
	}
	filename := filepath.Join(dir, fmt.Sprintf("%08d.jpg", seq))
	if err := os.WriteFile(filename, jpg, 0660); err != nil {
		m.logError("Failed to write %v: %v", filename, err)
	}
}
