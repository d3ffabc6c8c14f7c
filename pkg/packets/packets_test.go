package packets

import (
	"image/color"
	"testing"

	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/stretchr/testify/require"
)

var red = color.RGBA{255, 0, 0, 255}

func grayFrame(w, h int) *device.ImgFrame {
	return &device.ImgFrame{
		Stream: device.StreamPreview,
		Type:   device.FrameTypeGray8,
		Width:  w,
		Height: h,
		Data:   make([]byte, w*h),
	}
}

func TestCentroid(t *testing.T) {
	p, err := NewDetectionPacket("previewout", grayFrame(4, 4), &device.ImgDetections{})
	require.NoError(t, err)
	p.AddDetection(&device.ImgDetection{}, [4]float32{10, 20, 30, 40}, "a", red)
	p.AddDetection(&device.ImgDetection{}, [4]float32{0.1, 0.2, 0.4, 0.3}, "b", red)
	p.AddDetection(&device.ImgDetection{}, [4]float32{3, 3, 4, 4}, "c", red)

	require.Equal(t, nn.Point{X: 20, Y: 30}, p.Detections[0].Centroid())
	require.InDelta(t, 0.25, p.Detections[1].Centroid().X, 1e-6)
	require.InDelta(t, 0.25, p.Detections[1].Centroid().Y, 1e-6)
	// No truncation to integer
	require.Equal(t, nn.Point{X: 3.5, Y: 3.5}, p.Detections[2].Centroid())
	require.Equal(t, "b", p.Items()[1].Label)
}

func TestFramePacketOwnsFrame(t *testing.T) {
	src := grayFrame(2, 2)
	p, err := NewFramePacket("left", src)
	require.NoError(t, err)
	require.Equal(t, 2, p.Frame.Width)
	require.Equal(t, 2, p.Frame.Height)
	p.Frame.Pixels[0] = 99
	require.Equal(t, byte(0), src.Data[0])

	_, err = NewFramePacket("depth_raw", &device.ImgFrame{Type: device.FrameTypeRaw16, Width: 1, Height: 1, Data: []byte{0, 0}})
	require.Error(t, err)
}

func TestDetectionPacketSpatial(t *testing.T) {
	p, err := NewDetectionPacket("previewout", grayFrame(2, 2), &device.ImgDetections{})
	require.NoError(t, err)
	require.False(t, p.IsSpatialDetection())

	sd := &device.SpatialImgDetections{
		Detections: []*device.SpatialImgDetection{
			{SpatialCoordinates: device.Point3f{X: 0, Y: 0, Z: 0}},
		},
	}
	p, err = NewDetectionPacket("previewout", grayFrame(2, 2), sd)
	require.NoError(t, err)
	// The type decides, not the values
	require.True(t, p.IsSpatialDetection())

	sd.Detections[0].SpatialCoordinates = device.Point3f{X: 100, Y: -20, Z: 1500}
	pos, ok := p.Spatials(sd.Items()[0])
	require.True(t, ok)
	require.Equal(t, float32(1500), pos.Z)
	_, ok = p.Spatials(&device.ImgDetection{})
	require.False(t, ok)
}

func TestTrackerSpatial(t *testing.T) {
	det1 := &device.ImgDetection{Label: 1, Confidence: 0.9, XMin: 0.1, YMin: 0.1, XMax: 0.2, YMax: 0.2}
	det2 := &device.ImgDetection{Label: 2, Confidence: 0.8, XMin: 0.5, YMin: 0.5, XMax: 0.6, YMax: 0.6}
	tracklets := &device.Tracklets{
		Tracklets: []*device.Tracklet{
			{ID: 1, SrcImgDetection: det1, SpatialCoordinates: device.Point3f{X: 0, Y: 0, Z: 1200}},
			{ID: 2, SrcImgDetection: det2, SpatialCoordinates: device.Point3f{X: 5, Y: 6, Z: 7}},
		},
	}
	p, err := NewTrackerPacket("previewout", grayFrame(2, 2), tracklets)
	require.NoError(t, err)
	require.True(t, p.IsSpatialDetection())

	pos, ok := p.Spatials(det2)
	require.True(t, ok)
	require.Equal(t, device.Point3f{X: 5, Y: 6, Z: 7}, pos)

	// A copy of the detection still finds its tracklet
	copy2 := *det2
	pos, ok = p.Spatials(&copy2)
	require.True(t, ok)
	require.Equal(t, float32(7), pos.Z)

	_, ok = p.Spatials(&device.ImgDetection{Label: 3})
	require.False(t, ok)
	_, ok = p.Spatials(nil)
	require.False(t, ok)

	p.AddDetection(det2, [4]float32{1, 1, 2, 2}, "dog", red)
	p.AddDetection(&device.ImgDetection{Label: 9}, [4]float32{1, 1, 2, 2}, "nothing", red)
	require.Equal(t, 2, p.Detections[0].Tracklet.ID)
	require.Nil(t, p.Detections[1].Tracklet)
}

func TestTrackerSpatialAtOrigin(t *testing.T) {
	tracklets := &device.Tracklets{
		Tracklets: []*device.Tracklet{
			{ID: 1, SpatialCoordinates: device.Point3f{}},
			{ID: 2, SpatialCoordinates: device.Point3f{X: 1, Y: 2, Z: 3}},
		},
	}
	p, err := NewTrackerPacket("previewout", grayFrame(2, 2), tracklets)
	require.NoError(t, err)
	// Only the first tracklet is inspected. An object at exactly the origin looks non-spatial.
	require.False(t, p.IsSpatialDetection())

	p, err = NewTrackerPacket("previewout", grayFrame(2, 2), nil)
	require.NoError(t, err)
	require.False(t, p.IsSpatialDetection())
}

func TestTwoStageCursor(t *testing.T) {
	second := []*device.NNData{{SequenceNum: 100}, {SequenceNum: 101}, {SequenceNum: 102}}
	p, err := NewTwoStagePacket("previewout", grayFrame(2, 2), &device.ImgDetections{}, second, []int{1, 3})
	require.NoError(t, err)
	for _, label := range []int{1, 2, 3, 1} {
		p.AddDetection(&device.ImgDetection{Label: label}, [4]float32{0, 0, 1, 1}, "", red)
	}
	require.Equal(t, 4, len(p.Detections))
	require.Same(t, second[0], p.Detections[0].NNData)
	require.Nil(t, p.Detections[1].NNData)
	require.Same(t, second[1], p.Detections[2].NNData)
	require.Same(t, second[2], p.Detections[3].NNData)
	require.Equal(t, 3, p.Claimed())
}

func TestTwoStageNoAllowList(t *testing.T) {
	second := []*device.NNData{{SequenceNum: 1}, {SequenceNum: 2}}
	p, err := NewTwoStagePacket("previewout", grayFrame(2, 2), &device.ImgDetections{}, second, nil)
	require.NoError(t, err)
	for _, label := range []int{5, 6, 7} {
		p.AddDetection(&device.ImgDetection{Label: label}, [4]float32{0, 0, 1, 1}, "", red)
	}
	require.Same(t, second[0], p.Detections[0].NNData)
	require.Same(t, second[1], p.Detections[1].NNData)
	// The device delivered fewer results than detections. No wraparound.
	require.Nil(t, p.Detections[2].NNData)

	// A new packet starts from the first result again
	p2, err := NewTwoStagePacket("previewout", grayFrame(2, 2), &device.ImgDetections{}, second, nil)
	require.NoError(t, err)
	p2.AddDetection(&device.ImgDetection{Label: 1}, [4]float32{0, 0, 1, 1}, "", red)
	require.Same(t, second[0], p2.Detections[0].NNData)
}

func TestSpatialBbMappingPacket(t *testing.T) {
	src := &device.ImgFrame{Type: device.FrameTypeRaw16, Width: 2, Height: 2, Data: make([]byte, 8)}
	cfg := &device.SpatialLocationCalculatorConfig{}
	fp, err := NewFramePacket("gray", grayFrame(2, 2))
	require.NoError(t, err)
	p := NewSpatialBbMappingPacket("depth_raw", src, fp.Frame, cfg)
	require.Same(t, cfg, p.Config)
	require.Same(t, src, p.ImgFrame)
	require.Equal(t, "depth_raw", p.Name)
}
