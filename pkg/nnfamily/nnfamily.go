package nnfamily

import (
	"fmt"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/depthview/pkg/overlay"
	"github.com/cyclopcam/logs"
)

// Package nnfamily turns raw network output into results, and draws those results.
// The way that we do this depends on the family of the network, which is chosen
// once at startup.

// Options that affect decoding and drawing
type Options struct {
	ConfidenceThreshold float32             // Detections at or below this are not drawn
	PaddingFactor       float64             // Depth boxes are shrunk to this fraction of their size
	CalcDistToBB        bool                // Detector output includes distance, and we draw it
	NNToDepth           device.DepthMapping // Placement of the NN input inside the depth frame
}

func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: 0.5,
		PaddingFactor:       0.3,
	}
}

// Thresholds of the recognition networks
const (
	AgeGenderThreshold = 0.8
	EmotionThreshold   = 0.7
)

// Layer names of the age/gender network
const (
	LayerAge    = "age_conv3"
	LayerGender = "prob"
)

var EmotionLabels = []string{"neutral", "happy", "sad", "surprise", "anger"}

type strategy struct {
	decode   func(h *Handler, data *device.NNData, res *Result)
	annotate func(h *Handler, c *overlay.Canvas, res *Result, isDepth bool)
	describe func(res *Result) string
}

var strategies = map[nn.Family]strategy{
	nn.FamilyMobileNet: {decodeDetections, annotateDetections, describeDetections},
	nn.FamilyYOLO:      {decodeDetections, annotateDetections, describeDetections},
	nn.FamilyAgeGender: {decodeAgeGender, annotateAgeGender, describeAgeGender},
	nn.FamilyEmotion:   {decodeEmotion, annotateEmotion, describeEmotion},
	nn.FamilyLandmarks: {decodeLandmarks, annotateLandmarks, describeLandmarks},
	nn.FamilyRaw:       {decodeRaw, nil, describeRaw},
}

// Handler decodes and draws the output of one kind of network.
// A Handler is immutable, and safe to use from multiple goroutines.
type Handler struct {
	family   nn.Family
	labels   []string
	opts     Options
	log      logs.Log
	strategy strategy
}

// Select creates the handler for a model.
// The model name decides for the recognition models. Otherwise the metadata's NN_family decides.
// Anything else is treated as raw output, which we only log.
func Select(modelName string, config *nn.ModelConfig, opts Options, log logs.Log) *Handler {
	return New(nn.DetectFamily(modelName, config), config.Labels(), opts, log)
}

func New(family nn.Family, labels []string, opts Options, log logs.Log) *Handler {
	s, ok := strategies[family]
	if !ok {
		family = nn.FamilyRaw
		s = strategies[family]
	}
	return &Handler{
		family:   family,
		labels:   labels,
		opts:     opts,
		log:      log,
		strategy: s,
	}
}

func (h *Handler) Family() nn.Family {
	return h.family
}

func (h *Handler) Labels() []string {
	return h.labels
}

func (h *Handler) Options() Options {
	return h.opts
}

// Decode the output of one inference
func (h *Handler) Decode(data *device.NNData) *Result {
	res := &Result{
		Family:      h.family,
		SequenceNum: data.SequenceNum,
	}
	h.strategy.decode(h, data, res)
	return res
}

// Annotate draws the result onto the frame, and returns the frame.
// If isDepth is true, the frame is a depth map, and detector boxes are mapped and shrunk to
// show the region that the device averaged to compute spatial coordinates.
func (h *Handler) Annotate(res *Result, frame *cimg.Image, isDepth bool) *cimg.Image {
	if res == nil || h.strategy.annotate == nil {
		return frame
	}
	c := overlay.NewCanvas(frame)
	h.strategy.annotate(h, c, res, isDepth)
	return c.Finish()
}

// AnnotateCanvas is Annotate, for callers that are drawing other things on the same frame
func (h *Handler) AnnotateCanvas(res *Result, c *overlay.Canvas, isDepth bool) {
	if res == nil || h.strategy.annotate == nil {
		return
	}
	h.strategy.annotate(h, c, res, isDepth)
}

// Describe returns a one line summary of the result. This is what we show for a second stage network.
func (h *Handler) Describe(res *Result) string {
	if res == nil {
		return ""
	}
	return h.strategy.describe(res)
}

// PixelBox returns the box of a detection in frame pixels.
// In depth mode this is the full mapped box, before shrinking.
func (h *Handler) PixelBox(det *device.ImgDetection, width, height int, isDepth bool) nn.Box {
	if isDepth {
		return h.opts.NNToDepth.MapBox(det.Box())
	}
	w, h2 := float32(width), float32(height)
	return nn.MakeBox(
		float32(int(det.XMin*w)),
		float32(int(det.YMin*h2)),
		float32(int(det.XMax*w)),
		float32(int(det.YMax*h2)),
	)
}

// Visible returns true if the detection is confident enough to draw
func (h *Handler) Visible(det *device.ImgDetection) bool {
	return det.Confidence > h.opts.ConfidenceThreshold
}

func (h *Handler) entrySize(layer *device.Layer) int {
	if n := len(layer.Dims); n != 0 {
		last := layer.Dims[n-1]
		if last == 7 || last == 10 {
			return last
		}
	}
	if h.opts.CalcDistToBB {
		return 10
	}
	return 7
}

// Detector output is a list of fixed size entries:
// [id, label, confidence, xmin, ymin, xmax, ymax] and optionally [distance_x, distance_y, distance_z] in meters.
// The list is terminated by an entry with id -1 or confidence 0.
func decodeDetections(h *Handler, data *device.NNData, res *Result) {
	if len(data.Layers) == 0 {
		return
	}
	layer := &data.Layers[0]
	size := h.entrySize(layer)
	res.HasSpatial = size == 10
	for i := 0; i+size <= len(layer.Data); i += size {
		e := layer.Data[i : i+size]
		id, label, conf := e[0], int(e[1]), e[2]
		if id == -1 || conf == 0 || (len(h.labels) != 0 && label > len(h.labels)) {
			break
		}
		det := &device.SpatialImgDetection{
			ImgDetection: device.ImgDetection{
				Label:      label,
				Confidence: conf,
				XMin:       e[3],
				YMin:       e[4],
				XMax:       e[5],
				YMax:       e[6],
			},
		}
		if size == 10 {
			det.SpatialCoordinates = device.Point3f{X: e[7] * 1000, Y: e[8] * 1000, Z: e[9] * 1000}
		}
		res.Detections = append(res.Detections, det)
	}
}

func annotateDetections(h *Handler, c *overlay.Canvas, res *Result, isDepth bool) {
	for _, det := range res.Detections {
		if !h.Visible(&det.ImgDetection) {
			continue
		}
		box := h.PixelBox(&det.ImgDetection, c.Width(), c.Height(), isDepth)
		col := overlay.Red
		if isDepth {
			avg := box.Shrink(h.opts.PaddingFactor)
			c.Rect(float64(avg.TopLeft.X), float64(avg.TopLeft.Y), float64(avg.BottomRight.X), float64(avg.BottomRight.Y), overlay.Blue)
			col = overlay.White
		}
		x1, y1 := float64(box.TopLeft.X), float64(box.TopLeft.Y)
		c.Rect(x1, y1, float64(box.BottomRight.X), float64(box.BottomRight.Y), col)

		label, ok := nn.LabelText(h.labels, det.Label)
		if !ok {
			h.log.Warnf("Label index %v is out of range. Not applying text to rectangle.", det.Label)
			continue
		}
		c.Text(label, x1, y1+20, col)
		c.Text(fmt.Sprintf("%.2f %%", 100*det.Confidence), x1, y1+40, col)
		if h.opts.CalcDistToBB {
			s := det.SpatialCoordinates
			c.Text(fmt.Sprintf("x:%7.3f m", s.X/1000), x1, y1+60, col)
			c.Text(fmt.Sprintf("y:%7.3f m", s.Y/1000), x1, y1+80, col)
			c.Text(fmt.Sprintf("z:%7.3f m", s.Z/1000), x1, y1+100, col)
		}
	}
}

func describeDetections(res *Result) string {
	return fmt.Sprintf("%v detections", len(res.Detections))
}

func decodeAgeGender(h *Handler, data *device.NNData, res *Result) {
	age := data.Layer(LayerAge)
	gender := data.Layer(LayerGender)
	if age == nil || gender == nil || len(age.Data) < 1 || len(gender.Data) < 2 {
		h.log.Warnf("Age/gender output is missing layers %v and %v", LayerAge, LayerGender)
		return
	}
	female, male := gender.Data[0], gender.Data[1]
	if female > AgeGenderThreshold || male > AgeGenderThreshold {
		g := "male"
		if female > male {
			g = "female"
		}
		res.AgeGender = &AgeGender{
			Age:    int(age.Data[0] * 100),
			Gender: g,
		}
	}
}

func annotateAgeGender(h *Handler, c *overlay.Canvas, res *Result, isDepth bool) {
	if res.AgeGender == nil {
		return
	}
	c.Text(fmt.Sprintf("Age: %v", res.AgeGender.Age), 2, 12, overlay.Red)
	c.Text("G: "+res.AgeGender.Gender, 2, 32, overlay.Red)
}

func describeAgeGender(res *Result) string {
	if res.AgeGender == nil {
		return ""
	}
	return fmt.Sprintf("%v, %v", res.AgeGender.Age, res.AgeGender.Gender)
}

func decodeEmotion(h *Handler, data *device.NNData, res *Result) {
	values := data.FirstLayer()
	if len(values) < len(EmotionLabels) {
		h.log.Warnf("Emotion output has %v values, expected %v", len(values), len(EmotionLabels))
		return
	}
	best := 0
	for i := 1; i < len(EmotionLabels); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	if values[best] > EmotionThreshold {
		res.Emotion = &Emotion{
			Label:      EmotionLabels[best],
			Confidence: values[best],
		}
	}
}

func annotateEmotion(h *Handler, c *overlay.Canvas, res *Result, isDepth bool) {
	if res.Emotion == nil {
		return
	}
	c.Text(res.Emotion.Label, 10, 12, overlay.Red)
}

func describeEmotion(res *Result) string {
	if res.Emotion == nil {
		return ""
	}
	return res.Emotion.Label
}

func decodeLandmarks(h *Handler, data *device.NNData, res *Result) {
	values := data.FirstLayer()
	for i := 0; i < len(values); i += 2 {
		if i+1 == len(values) {
			res.Landmarks = append(res.Landmarks, Landmark{X: values[i], Y: math32.NaN()})
			break
		}
		res.Landmarks = append(res.Landmarks, Landmark{X: values[i], Y: values[i+1], Valid: true})
	}
}

func isFinite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

func annotateLandmarks(h *Handler, c *overlay.Canvas, res *Result, isDepth bool) {
	w, ht := float32(c.Width()), float32(c.Height())
	for i, lm := range res.Landmarks {
		if !lm.Valid || !isFinite(lm.X) || !isFinite(lm.Y) {
			h.log.Warnf("Skipping malformed landmark %v (%v, %v)", i, lm.X, lm.Y)
			continue
		}
		x := float32(int(lm.X * w))
		y := float32(int(lm.Y * ht))
		c.Circle(float64(x), float64(y), 3, overlay.Red, false)
	}
}

func describeLandmarks(res *Result) string {
	return fmt.Sprintf("%v landmarks", len(res.Landmarks))
}

func decodeRaw(h *Handler, data *device.NNData, res *Result) {
	parts := []string{}
	for _, layer := range data.Layers {
		if len(layer.Data) == 0 {
			parts = append(parts, fmt.Sprintf("%v %v (empty)", layer.Name, layer.Dims))
			continue
		}
		lo, hi := layer.Data[0], layer.Data[0]
		for _, v := range layer.Data {
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
		parts = append(parts, fmt.Sprintf("%v %v [%.3f .. %.3f]", layer.Name, layer.Dims, lo, hi))
	}
	res.Summary = strings.Join(parts, ", ")
	h.log.Debugf("Received NN packet %v: %v", data.SequenceNum, res.Summary)
}

func describeRaw(res *Result) string {
	return res.Summary
}
