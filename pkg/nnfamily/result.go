package nnfamily

import (
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
)

// AgeGender is the output of the age/gender recognition network
type AgeGender struct {
	Age    int    `json:"age"`
	Gender string `json:"gender"` // "female" or "male"
}

// Emotion is the output of the emotion recognition network
type Emotion struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Landmark is a normalized facial landmark.
// Valid is false when the network output had an odd number of values and this is the leftover.
type Landmark struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Valid bool    `json:"valid"`
}

// Result is the decoded output of one inference.
// Only the fields that belong to the handler's family are populated.
type Result struct {
	Family      nn.Family                     `json:"family"`
	SequenceNum int64                         `json:"sequenceNum"`
	Detections  []*device.SpatialImgDetection `json:"detections,omitempty"`
	HasSpatial  bool                          `json:"hasSpatial,omitempty"` // Detections carry spatial coordinates
	AgeGender   *AgeGender                    `json:"ageGender,omitempty"`
	Emotion     *Emotion                      `json:"emotion,omitempty"`
	Landmarks   []Landmark                    `json:"landmarks,omitempty"`
	Summary     string                        `json:"summary,omitempty"` // raw family
}

// ImgDetections returns the detections as the device would have delivered them from an
// on-device detection network. The concrete type reveals whether spatial data is present.
func (r *Result) ImgDetections() device.Detections {
	if r.HasSpatial {
		return &device.SpatialImgDetections{Detections: r.Detections}
	}
	items := make([]*device.ImgDetection, len(r.Detections))
	for i, d := range r.Detections {
		items[i] = &d.ImgDetection
	}
	return &device.ImgDetections{Detections: items}
}

// IsEmpty returns true if there is nothing to draw
func (r *Result) IsEmpty() bool {
	return r == nil || (len(r.Detections) == 0 && r.AgeGender == nil && r.Emotion == nil && len(r.Landmarks) == 0)
}
