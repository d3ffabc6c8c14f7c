package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/depthview/pkg/nn"
)

// The types in this file mirror the messages that the device SDK hands to the host.
// They are owned by the device layer. Packets borrow them, and must not mutate them.

// FrameType is the pixel layout of an ImgFrame
type FrameType int

const (
	FrameTypeBGR888p FrameType = iota // planar BGR (CHW), the native NN preview format
	FrameTypeBGR888i                  // interleaved BGR (HWC)
	FrameTypeRGB888i                  // interleaved RGB (HWC)
	FrameTypeGray8                    // mono cameras, 8-bit disparity
	FrameTypeRaw16                    // depth in millimeters, little endian uint16
	FrameTypeNV12                     // high quality color video
)

var ErrNotColorFrame = errors.New("Frame is not convertible to RGB")

// ImgFrame is a single image from one of the device's output streams
type ImgFrame struct {
	Stream      string    `json:"stream"`
	Type        FrameType `json:"type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	SequenceNum int64     `json:"sequenceNum"`
	Timestamp   time.Time `json:"timestamp"`
	Data        []byte    `json:"data"`
}

func (f *ImgFrame) expectSize(n int) error {
	if len(f.Data) < n {
		return fmt.Errorf("Frame %v is truncated: %v bytes, expected %v", f.Stream, len(f.Data), n)
	}
	return nil
}

// ToRGB decodes the device frame into a new, tightly packed, row-major HxWx3 RGB image.
// The returned image is independent of the frame's memory.
func (f *ImgFrame) ToRGB() (*cimg.Image, error) {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("Frame %v has invalid dimensions %vx%v", f.Stream, w, h)
	}
	img := cimg.NewImage(w, h, cimg.PixelFormatRGB)
	plane := w * h
	switch f.Type {
	case FrameTypeBGR888p:
		if err := f.expectSize(plane * 3); err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			dst := img.Pixels[y*img.Stride:]
			for x := 0; x < w; x++ {
				i := y*w + x
				dst[x*3+0] = f.Data[2*plane+i]
				dst[x*3+1] = f.Data[plane+i]
				dst[x*3+2] = f.Data[i]
			}
		}
	case FrameTypeBGR888i, FrameTypeRGB888i:
		if err := f.expectSize(plane * 3); err != nil {
			return nil, err
		}
		swap := f.Type == FrameTypeBGR888i
		for y := 0; y < h; y++ {
			src := f.Data[y*w*3 : (y+1)*w*3]
			dst := img.Pixels[y*img.Stride : y*img.Stride+w*3]
			copy(dst, src)
			if swap {
				for x := 0; x < w; x++ {
					dst[x*3+0], dst[x*3+2] = dst[x*3+2], dst[x*3+0]
				}
			}
		}
	case FrameTypeGray8:
		if err := f.expectSize(plane); err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			dst := img.Pixels[y*img.Stride:]
			for x := 0; x < w; x++ {
				v := f.Data[y*w+x]
				dst[x*3+0] = v
				dst[x*3+1] = v
				dst[x*3+2] = v
			}
		}
	case FrameTypeNV12:
		if err := f.expectSize(plane + plane/2); err != nil {
			return nil, err
		}
		nv12ToRGB(w, h, f.Data[:plane], f.Data[plane:], img.Pixels, img.Stride)
	default:
		return nil, ErrNotColorFrame
	}
	return img, nil
}

// Depth returns the frame as millimeter depth values (only valid for FrameTypeRaw16)
func (f *ImgFrame) Depth() ([]uint16, error) {
	if f.Type != FrameTypeRaw16 {
		return nil, fmt.Errorf("Frame %v is not a depth frame", f.Stream)
	}
	n := f.Width * f.Height
	if err := f.expectSize(n * 2); err != nil {
		return nil, err
	}
	depth := make([]uint16, n)
	for i := range depth {
		depth[i] = binary.LittleEndian.Uint16(f.Data[i*2:])
	}
	return depth, nil
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// BT.601 limited range, fixed point
func nv12ToRGB(width, height int, yPlane, uv []byte, rgb []byte, stride int) {
	for y := 0; y < height; y++ {
		dst := rgb[y*stride:]
		uvRow := uv[(y/2)*width:]
		for x := 0; x < width; x++ {
			c := int(yPlane[y*width+x]) - 16
			d := int(uvRow[(x/2)*2]) - 128
			e := int(uvRow[(x/2)*2+1]) - 128
			dst[x*3+0] = clampByte((298*c + 409*e + 128) >> 8)
			dst[x*3+1] = clampByte((298*c - 100*d - 208*e + 128) >> 8)
			dst[x*3+2] = clampByte((298*c + 516*d + 128) >> 8)
		}
	}
}

// Point3f is a spatial coordinate in millimeters, relative to the device
type Point3f struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// ImgDetection is one object detected by an on-device detection network.
// Coordinates are normalized to [0,1].
type ImgDetection struct {
	Label      int     `json:"label"`
	Confidence float32 `json:"confidence"`
	XMin       float32 `json:"xmin"`
	YMin       float32 `json:"ymin"`
	XMax       float32 `json:"xmax"`
	YMax       float32 `json:"ymax"`
}

func (d *ImgDetection) Box() nn.Box {
	return nn.MakeBox(d.XMin, d.YMin, d.XMax, d.YMax)
}

// SpatialImgDetection is an ImgDetection with a 3D position computed from the depth map
type SpatialImgDetection struct {
	ImgDetection
	SpatialCoordinates Point3f `json:"spatialCoordinates"`
}

// Detections is a list of detections delivered by the device.
// The concrete type tells you whether spatial data is present.
type Detections interface {
	Items() []*ImgDetection
}

type ImgDetections struct {
	Detections []*ImgDetection `json:"detections"`
}

func (d *ImgDetections) Items() []*ImgDetection {
	return d.Detections
}

type SpatialImgDetections struct {
	Detections []*SpatialImgDetection `json:"detections"`
}

func (d *SpatialImgDetections) Items() []*ImgDetection {
	items := make([]*ImgDetection, len(d.Detections))
	for i, sd := range d.Detections {
		items[i] = &sd.ImgDetection
	}
	return items
}

// Spatial returns the spatial detection that wraps 'det', or nil
func (d *SpatialImgDetections) Spatial(det *ImgDetection) *SpatialImgDetection {
	for _, sd := range d.Detections {
		if &sd.ImgDetection == det {
			return sd
		}
	}
	return nil
}

// TrackingStatus is the lifecycle state of a tracklet
type TrackingStatus string

const (
	TrackingStatusNew     TrackingStatus = "NEW"
	TrackingStatusTracked TrackingStatus = "TRACKED"
	TrackingStatusLost    TrackingStatus = "LOST"
	TrackingStatusRemoved TrackingStatus = "REMOVED"
)

// Tracklet is an object identity maintained by the on-device tracker
type Tracklet struct {
	ID                 int            `json:"id"`
	Label              int            `json:"label"`
	Status             TrackingStatus `json:"status"`
	ROI                nn.Box         `json:"roi"` // normalized
	SpatialCoordinates Point3f        `json:"spatialCoordinates"`
	SrcImgDetection    *ImgDetection  `json:"srcImgDetection,omitempty"`
}

type Tracklets struct {
	Tracklets []*Tracklet `json:"tracklets"`
}

// Layer is one output tensor of a neural network
type Layer struct {
	Name string    `json:"name"`
	Dims []int     `json:"dims"`
	Data []float32 `json:"data"`
}

// NNData is the raw output of one inference on the device
type NNData struct {
	SequenceNum int64   `json:"sequenceNum"`
	Layers      []Layer `json:"layers"`
}

// Layer returns the named output layer, or nil
func (n *NNData) Layer(name string) *Layer {
	for i := range n.Layers {
		if n.Layers[i].Name == name {
			return &n.Layers[i]
		}
	}
	return nil
}

// FirstLayer returns the data of the first output layer (or nil if there are no layers)
func (n *NNData) FirstLayer() []float32 {
	if len(n.Layers) == 0 {
		return nil
	}
	return n.Layers[0].Data
}

// SpatialROI is one region of the depth map that was averaged to produce a spatial coordinate
type SpatialROI struct {
	ROI                 nn.Box `json:"roi"` // normalized
	DepthLowerThreshold int    `json:"depthLowerThreshold"`
	DepthUpperThreshold int    `json:"depthUpperThreshold"`
}

// SpatialLocationCalculatorConfig maps detections onto the depth map
type SpatialLocationCalculatorConfig struct {
	ROIs []SpatialROI `json:"rois"`
}

// Denormalize returns the ROIs in pixel coordinates of a frame of the given size
func (c *SpatialLocationCalculatorConfig) Denormalize(width, height int) []nn.Box {
	boxes := make([]nn.Box, 0, len(c.ROIs))
	for _, r := range c.ROIs {
		boxes = append(boxes, r.ROI.Scale(float32(width), float32(height)))
	}
	return boxes
}

// DepthMapping describes where the NN input image lies inside the depth map, so that
// normalized NN coordinates can be drawn on a depth frame.
type DepthMapping struct {
	OffX float32 `json:"off_x"`
	OffY float32 `json:"off_y"`
	MaxW float32 `json:"max_w"`
	MaxH float32 `json:"max_h"`
}

// Map converts a normalized NN coordinate into a depth frame pixel.
// Results are truncated to whole pixels.
func (m DepthMapping) Map(p nn.Point) nn.Point {
	return nn.Point{
		X: float32(int(m.OffX + p.X*m.MaxW)),
		Y: float32(int(m.OffY + p.Y*m.MaxH)),
	}
}

// MapBox maps both corners of a normalized box into depth frame pixels
func (m DepthMapping) MapBox(b nn.Box) nn.Box {
	return nn.Box{
		TopLeft:     m.Map(b.TopLeft),
		BottomRight: m.Map(b.BottomRight),
	}
}
