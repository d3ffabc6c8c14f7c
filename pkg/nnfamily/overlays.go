package nnfamily

import (
	"fmt"

	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/depthview/pkg/overlay"
	"github.com/cyclopcam/depthview/pkg/packets"
)

// TrackletBox returns the pixel box of a tracklet's region of interest
func TrackletBox(t *device.Tracklet, width, height int) nn.Box {
	b := t.ROI.Scale(float32(width), float32(height))
	return nn.MakeBox(
		float32(int(b.TopLeft.X)),
		float32(int(b.TopLeft.Y)),
		float32(int(b.BottomRight.X)),
		float32(int(b.BottomRight.Y)),
	)
}

// AddTracklets adds one detection per tracklet to the packet, in tracker order
func (h *Handler) AddTracklets(p *packets.TrackerPacket) {
	for _, t := range p.Tracklets.Tracklets {
		box := TrackletBox(t, p.Frame.Width, p.Frame.Height)
		label, _ := nn.LabelText(h.labels, t.Label)
		p.AddDetection(t.SrcImgDetection, [4]float32{box.TopLeft.X, box.TopLeft.Y, box.BottomRight.X, box.BottomRight.Y}, label, overlay.Blue)
	}
}

// DrawTracklets draws the tracker output: the box, a dot at its center, the tracker ID,
// the label, and the tracking status.
func (h *Handler) DrawTracklets(c *overlay.Canvas, tracklets *device.Tracklets) {
	if tracklets == nil {
		return
	}
	for _, t := range tracklets.Tracklets {
		box := TrackletBox(t, c.Width(), c.Height())
		x1, y1 := float64(box.TopLeft.X), float64(box.TopLeft.Y)
		x2, y2 := float64(box.BottomRight.X), float64(box.BottomRight.Y)
		c.Rect(x1, y1, x2, y2, overlay.Blue)

		mx := float64(int(x1 + (x2-x1)/2))
		my := float64(int(y1 + (y2-y1)/2))
		c.Circle(mx, my, 1, overlay.Blue, true)
		c.Text(fmt.Sprintf("ID %v", t.ID), mx, my, overlay.Blue)

		label, ok := nn.LabelText(h.labels, t.Label)
		if !ok {
			h.log.Warnf("Tracklet %v has label index %v, which is out of range", t.ID, t.Label)
		}
		c.Text(label, x1, y2-40, overlay.Blue)
		c.Text(string(t.Status), x1, y2-20, overlay.Blue)
	}
}

// DrawSpatialROIs outlines the regions of the depth map that the device averaged to produce
// spatial coordinates.
func DrawSpatialROIs(c *overlay.Canvas, config *device.SpatialLocationCalculatorConfig) {
	if config == nil {
		return
	}
	for i, box := range config.Denormalize(c.Width(), c.Height()) {
		r := box.Rect()
		c.Rect(float64(r.X), float64(r.Y), float64(r.X2()), float64(r.Y2()), overlay.White)
		roi := config.ROIs[i]
		if roi.DepthUpperThreshold != 0 {
			c.Text(fmt.Sprintf("%v-%v mm", roi.DepthLowerThreshold, roi.DepthUpperThreshold), float64(r.X)+2, float64(r.Y)+14, overlay.White)
		}
	}
}

// AddDetections adds every detection of 'res' to a packet, including the ones below the
// drawing threshold. A TwoStagePacket pairs them positionally with the second stage results,
// so none may be skipped and the order must not change.
func (h *Handler) AddDetections(p packets.DetectionAdder, res *Result, width, height int, isDepth bool) {
	if res == nil {
		return
	}
	for _, det := range res.Detections {
		box := h.PixelBox(&det.ImgDetection, width, height, isDepth)
		label, _ := nn.LabelText(h.labels, det.Label)
		p.AddDetection(&det.ImgDetection, [4]float32{box.TopLeft.X, box.TopLeft.Y, box.BottomRight.X, box.BottomRight.Y}, label, overlay.LabelColor(det.Label))
	}
}

// DrawSecondStage writes the second stage result of each detection under its box
func DrawSecondStage(c *overlay.Canvas, second *Handler, dets []*packets.Detection) {
	for _, d := range dets {
		if d.NNData == nil {
			continue
		}
		txt := second.Describe(second.Decode(d.NNData))
		if txt == "" {
			continue
		}
		c.Label(txt, float64(d.TopLeft.X), float64(d.BottomRight.Y)+14, overlay.White, d.Color)
	}
}
