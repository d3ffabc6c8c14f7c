package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/cyclopcam/depthview/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsOldest(t *testing.T) {
	q := NewOutputQueue[int]("test", 2)
	require.False(t, q.Send(1))
	require.False(t, q.Send(2))
	require.True(t, q.Send(3))
	require.Equal(t, 2, q.Len())
	require.EqualValues(t, 1, q.Dropped())

	v, ok := q.TryGet()
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, []int{3}, q.TryGetAll())

	_, ok = q.TryGet()
	require.False(t, ok)
	require.Equal(t, []int{}, q.TryGetAll())

	// A size of zero is bumped up to one
	q = NewOutputQueue[int]("tiny", 0)
	q.Send(5)
	q.Send(6)
	require.Equal(t, []int{6}, q.TryGetAll())
}

func TestFrameToRGB(t *testing.T) {
	// 2x1 planar BGR: pixel 0 = (b=1,g=2,r=3), pixel 1 = (b=4,g=5,r=6)
	f := &ImgFrame{Type: FrameTypeBGR888p, Width: 2, Height: 1, Data: []byte{1, 4, 2, 5, 3, 6}}
	img, err := f.ToRGB()
	require.NoError(t, err)
	require.Equal(t, []byte{3, 2, 1, 6, 5, 4}, img.Pixels[:6])

	f = &ImgFrame{Type: FrameTypeBGR888i, Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6}}
	img, err = f.ToRGB()
	require.NoError(t, err)
	require.Equal(t, []byte{3, 2, 1, 6, 5, 4}, img.Pixels[:6])
	// The source frame is untouched
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Data)

	f = &ImgFrame{Type: FrameTypeGray8, Width: 2, Height: 1, Data: []byte{7, 9}}
	img, err = f.ToRGB()
	require.NoError(t, err)
	require.Equal(t, []byte{7, 7, 7, 9, 9, 9}, img.Pixels[:6])

	// Mid grey NV12 stays grey
	f = &ImgFrame{Type: FrameTypeNV12, Width: 2, Height: 2, Data: []byte{126, 126, 126, 126, 128, 128}}
	img, err = f.ToRGB()
	require.NoError(t, err)
	require.Equal(t, img.Pixels[0], img.Pixels[1])
	require.Equal(t, img.Pixels[1], img.Pixels[2])

	f = &ImgFrame{Type: FrameTypeRGB888i, Width: 2, Height: 2, Data: []byte{1, 2, 3}}
	_, err = f.ToRGB()
	require.Error(t, err)

	f = &ImgFrame{Type: FrameTypeRaw16, Width: 1, Height: 1, Data: []byte{0, 0}}
	_, err = f.ToRGB()
	require.ErrorIs(t, err, ErrNotColorFrame)
}

func TestFrameDepth(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], 1500)
	binary.LittleEndian.PutUint16(data[2:], 0)
	f := &ImgFrame{Type: FrameTypeRaw16, Width: 2, Height: 1, Data: data}
	d, err := f.Depth()
	require.NoError(t, err)
	require.Equal(t, []uint16{1500, 0}, d)

	f.Type = FrameTypeGray8
	_, err = f.Depth()
	require.Error(t, err)
}

func TestSpatialDetections(t *testing.T) {
	dets := &SpatialImgDetections{
		Detections: []*SpatialImgDetection{
			{ImgDetection: ImgDetection{Label: 1}, SpatialCoordinates: Point3f{X: 1, Y: 2, Z: 3}},
			{ImgDetection: ImgDetection{Label: 2}, SpatialCoordinates: Point3f{X: 4, Y: 5, Z: 6}},
		},
	}
	items := dets.Items()
	require.Equal(t, 2, len(items))
	require.Equal(t, 2, items[1].Label)
	require.Equal(t, Point3f{X: 4, Y: 5, Z: 6}, dets.Spatial(items[1]).SpatialCoordinates)
	require.Nil(t, dets.Spatial(&ImgDetection{Label: 2}))

	var list Detections = &ImgDetections{Detections: []*ImgDetection{{Label: 3}}}
	require.Equal(t, 3, list.Items()[0].Label)
}

func TestDepthMapping(t *testing.T) {
	m := DepthMapping{OffX: 40, OffY: 20, MaxW: 560, MaxH: 360}
	b := m.MapBox(nn.MakeBox(0.5, 0.5, 0.999, 1))
	require.Equal(t, nn.MakeBox(320, 200, 599, 380), b)

	cfg := &SpatialLocationCalculatorConfig{ROIs: []SpatialROI{{ROI: nn.MakeBox(0.25, 0.5, 0.75, 1)}}}
	require.Equal(t, []nn.Box{nn.MakeBox(160, 200, 480, 400)}, cfg.Denormalize(640, 400))
}

func makeTestReplay(t *testing.T) *bytes.Buffer {
	buf := &bytes.Buffer{}
	w, err := NewReplayWriter(buf, ReplayHeader{
		Streams:   []string{StreamPreview, StreamMeta, StreamDepthRaw},
		NNToDepth: DepthMapping{MaxW: 640, MaxH: 400},
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * 100 * time.Millisecond
		require.NoError(t, w.WriteNN(offset, &NNData{SequenceNum: int64(i), Layers: []Layer{{Name: "out", Data: []float32{float32(i)}}}}))
		require.NoError(t, w.WritePacket(offset, &DataPacket{
			Stream: StreamPreview,
			Frame:  &ImgFrame{Stream: StreamPreview, Type: FrameTypeGray8, Width: 1, Height: 1, SequenceNum: int64(i), Data: []byte{byte(i)}},
		}))
	}
	return buf
}

func TestReplay(t *testing.T) {
	log := logs.NewTestingLog(t)
	rep, err := ReadReplay(log, makeTestReplay(t), false)
	require.NoError(t, err)
	require.Equal(t, DepthMapping{MaxW: 640, MaxH: 400}, rep.NNToDepthMapping())

	// Poll before pipeline creation
	_, err = rep.Poll()
	require.Error(t, err)

	// depth_color_h is not in the recording
	err = rep.CreatePipeline(map[string]any{"streams": []any{StreamPreview, StreamDepthColor}})
	require.ErrorIs(t, err, ErrPipelineCreate)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rep.now = func() time.Time { return now }
	require.NoError(t, rep.CreatePipeline(map[string]any{"streams": []any{StreamMeta, map[string]any{"name": StreamPreview, "max_fps": 10.0}}}))

	p, err := rep.Poll()
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	require.EqualValues(t, 0, p.NN[0].SequenceNum)
	require.EqualValues(t, 0, p.Data[0].Frame.SequenceNum)

	// Nothing new yet
	p, err = rep.Poll()
	require.NoError(t, err)
	require.Equal(t, 0, p.Len())

	// Jump past the end. The preview queue holds only the freshest frame, the NN queue two.
	now = now.Add(time.Second)
	p, err = rep.Poll()
	require.NoError(t, err)
	require.Equal(t, 1, len(p.Data))
	require.EqualValues(t, 2, p.Data[0].Frame.SequenceNum)
	require.Equal(t, 2, len(p.NN))
	require.EqualValues(t, 1, p.NN[0].SequenceNum)
	require.EqualValues(t, 2, p.NN[1].SequenceNum)

	require.NoError(t, rep.Close())
	require.NoError(t, rep.Close())
	_, err = rep.Poll()
	require.Error(t, err)
}

func TestReplayLoop(t *testing.T) {
	rep, err := ReadReplay(logs.NewTestingLog(t), makeTestReplay(t), true)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rep.now = func() time.Time { return now }
	require.NoError(t, rep.CreatePipeline(map[string]any{"streams": []any{StreamPreview}}))
	now = now.Add(time.Second)
	p, _ := rep.Poll()
	require.Equal(t, 1, len(p.Data))
	// After wrapping, the first record is due again immediately
	p, _ = rep.Poll()
	require.Equal(t, 1, len(p.Data))
	require.EqualValues(t, 0, p.Data[0].Frame.SequenceNum)
}

func TestReplayInvalid(t *testing.T) {
	log := logs.NewTestingLog(t)
	_, err := ReadReplay(log, bytes.NewBufferString(""), false)
	require.Error(t, err)
	_, err = ReadReplay(log, bytes.NewBufferString("{\"streams\":[]}\n{}\n"), false)
	require.Error(t, err)
	_, err = ReadReplay(log, bytes.NewBufferString("not json\n"), false)
	require.Error(t, err)

	_, err = OpenReplay(log, "/nonexistent/replay.jsonl", Options{}, false)
	require.True(t, errors.Is(err, ErrDeviceInit))
}
