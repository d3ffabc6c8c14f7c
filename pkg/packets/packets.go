package packets

import (
	"image/color"
	"slices"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
)

// Packets pair a device frame with the host side image that we draw on, plus whatever
// results the device produced for that frame. A packet lives for one frame only.

// Detection is one recognized object within a frame.
// Tracklet and NNData are only populated by TrackerPacket and TwoStagePacket respectively.
type Detection struct {
	ImgDetection *device.ImgDetection // Borrowed from the device. May be nil for tracklets with no source detection.
	Label        string
	Color        color.RGBA
	TopLeft      nn.Point
	BottomRight  nn.Point
	Tracklet     *device.Tracklet
	NNData       *device.NNData
}

func newDetection(imgDet *device.ImgDetection, bbox [4]float32, label string, color color.RGBA) *Detection {
	return &Detection{
		ImgDetection: imgDet,
		Label:        label,
		Color:        color,
		TopLeft:      nn.Point{X: bbox[0], Y: bbox[1]},
		BottomRight:  nn.Point{X: bbox[2], Y: bbox[3]},
	}
}

// Centroid is the exact midpoint of the two corners
func (d *Detection) Centroid() nn.Point {
	return nn.Midpoint(d.TopLeft, d.BottomRight)
}

func (d *Detection) Box() nn.Box {
	return nn.Box{TopLeft: d.TopLeft, BottomRight: d.BottomRight}
}

// DetectionAdder is implemented by every packet that collects detections.
// AddDetection must be called once per object, in the order that the device delivered them.
type DetectionAdder interface {
	AddDetection(imgDet *device.ImgDetection, bbox [4]float32, label string, color color.RGBA)
	Items() []*Detection
}

// FramePacket is a device frame, and the RGB image that we decoded from it
type FramePacket struct {
	Name     string
	ImgFrame *device.ImgFrame // Borrowed from the device
	Frame    *cimg.Image      // Owned by the packet
}

// NewFramePacket decodes the device frame into a new RGB image
func NewFramePacket(name string, imgFrame *device.ImgFrame) (*FramePacket, error) {
	img, err := imgFrame.ToRGB()
	if err != nil {
		return nil, err
	}
	return &FramePacket{
		Name:     name,
		ImgFrame: imgFrame,
		Frame:    img,
	}, nil
}

// SpatialBbMappingPacket is a depth frame, plus the regions of the depth map that were
// averaged to produce spatial coordinates.
type SpatialBbMappingPacket struct {
	FramePacket
	Config *device.SpatialLocationCalculatorConfig
}

// NewSpatialBbMappingPacket takes ownership of 'depthFrame', which is normally a colorized
// rendition of imgFrame.
func NewSpatialBbMappingPacket(name string, imgFrame *device.ImgFrame, depthFrame *cimg.Image, config *device.SpatialLocationCalculatorConfig) *SpatialBbMappingPacket {
	return &SpatialBbMappingPacket{
		FramePacket: FramePacket{
			Name:     name,
			ImgFrame: imgFrame,
			Frame:    depthFrame,
		},
		Config: config,
	}
}

// DetectionPacket is the output of a detection network
type DetectionPacket struct {
	FramePacket
	ImgDetections device.Detections
	Detections    []*Detection
}

func NewDetectionPacket(name string, imgFrame *device.ImgFrame, imgDetections device.Detections) (*DetectionPacket, error) {
	fp, err := NewFramePacket(name, imgFrame)
	if err != nil {
		return nil, err
	}
	return &DetectionPacket{
		FramePacket:   *fp,
		ImgDetections: imgDetections,
	}, nil
}

// IsSpatialDetection is decided by the type of detection list that the device sent us
func (p *DetectionPacket) IsSpatialDetection() bool {
	_, ok := p.ImgDetections.(*device.SpatialImgDetections)
	return ok
}

func (p *DetectionPacket) AddDetection(imgDet *device.ImgDetection, bbox [4]float32, label string, color color.RGBA) {
	p.Detections = append(p.Detections, newDetection(imgDet, bbox, label, color))
}

func (p *DetectionPacket) Items() []*Detection {
	return p.Detections
}

// Spatials returns the spatial coordinates of 'det', if the device computed them
func (p *DetectionPacket) Spatials(det *device.ImgDetection) (device.Point3f, bool) {
	if sd, ok := p.ImgDetections.(*device.SpatialImgDetections); ok {
		if s := sd.Spatial(det); s != nil {
			return s.SpatialCoordinates, true
		}
	}
	return device.Point3f{}, false
}

// TrackerPacket is the output of the object tracker
type TrackerPacket struct {
	FramePacket
	Tracklets  *device.Tracklets
	Detections []*Detection
}

func NewTrackerPacket(name string, imgFrame *device.ImgFrame, tracklets *device.Tracklets) (*TrackerPacket, error) {
	fp, err := NewFramePacket(name, imgFrame)
	if err != nil {
		return nil, err
	}
	if tracklets == nil {
		tracklets = &device.Tracklets{}
	}
	return &TrackerPacket{
		FramePacket: *fp,
		Tracklets:   tracklets,
	}, nil
}

// IsSpatialDetection returns true if any coordinate of the first tracklet is non-zero.
// A device without spatial data reports (0,0,0), so an object that is genuinely at the
// origin is reported as non-spatial.
func (p *TrackerPacket) IsSpatialDetection() bool {
	if len(p.Tracklets.Tracklets) == 0 {
		return false
	}
	c := p.Tracklets.Tracklets[0].SpatialCoordinates
	return c.X != 0 || c.Y != 0 || c.Z != 0
}

// findTracklet returns the tracklet that was produced from 'det', or nil.
// The comparison is by value, because detections can be decoded more than once
// (eg from a replay) and so pointer identity is not stable.
func (p *TrackerPacket) findTracklet(det *device.ImgDetection) *device.Tracklet {
	if det == nil {
		return nil
	}
	for _, t := range p.Tracklets.Tracklets {
		if t.SrcImgDetection != nil && (t.SrcImgDetection == det || *t.SrcImgDetection == *det) {
			return t
		}
	}
	return nil
}

// Spatials returns the spatial coordinates of the tracklet that was produced from 'det'.
// If there is no such tracklet, the second return value is false.
func (p *TrackerPacket) Spatials(det *device.ImgDetection) (device.Point3f, bool) {
	if t := p.findTracklet(det); t != nil {
		return t.SpatialCoordinates, true
	}
	return device.Point3f{}, false
}

func (p *TrackerPacket) AddDetection(imgDet *device.ImgDetection, bbox [4]float32, label string, color color.RGBA) {
	d := newDetection(imgDet, bbox, label, color)
	d.Tracklet = p.findTracklet(imgDet)
	p.Detections = append(p.Detections, d)
}

func (p *TrackerPacket) Items() []*Detection {
	return p.Detections
}

// TwoStagePacket is the output of a detector followed by a second network that runs on
// each detected object. The device delivers the second stage results in the same order as
// the detections, but only for detections whose label is in Labels.
type TwoStagePacket struct {
	DetectionPacket
	NNData []*device.NNData
	Labels []int // If nil, every label goes through the second stage

	cursor int
}

func NewTwoStagePacket(name string, imgFrame *device.ImgFrame, imgDetections device.Detections, nnData []*device.NNData, labels []int) (*TwoStagePacket, error) {
	dp, err := NewDetectionPacket(name, imgFrame, imgDetections)
	if err != nil {
		return nil, err
	}
	return &TwoStagePacket{
		DetectionPacket: *dp,
		NNData:          nnData,
		Labels:          labels,
	}, nil
}

// AddDetection attaches the next unclaimed second stage result to the detection.
// Detections must be added in the order that the device produced them.
func (p *TwoStagePacket) AddDetection(imgDet *device.ImgDetection, bbox [4]float32, label string, color color.RGBA) {
	d := newDetection(imgDet, bbox, label, color)
	if p.Labels == nil || slices.Contains(p.Labels, imgDet.Label) {
		if p.cursor < len(p.NNData) {
			d.NNData = p.NNData[p.cursor]
		}
		p.cursor++
	}
	p.Detections = append(p.Detections, d)
}

func (p *TwoStagePacket) Items() []*Detection {
	return p.Detections
}

// Claimed returns the number of second stage results that have been consumed (or would have
// been, if the device had delivered enough of them)
func (p *TwoStagePacket) Claimed() int {
	return p.cursor
}
