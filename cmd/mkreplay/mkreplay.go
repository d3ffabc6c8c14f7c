package main

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/depthview/pkg/device"
	"github.com/cyclopcam/depthview/pkg/nn"
)

// mkreplay writes a synthetic replay: a box that circles the frame, detected by a mobilenet-style
// network, with a matching depth map. It's useful for running depthview without a device.

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("mkreplay", "Create a synthetic replay file for depthview")
	output := parser.String("o", "output", &argparse.Options{Help: "Output file. Use a .gz extension for compression.", Required: true})
	seconds := parser.Int("", "seconds", &argparse.Options{Help: "Length of the recording", Default: 10})
	fps := parser.Int("", "fps", &argparse.Options{Help: "Frame rate", Default: 15})
	width := parser.Int("", "width", &argparse.Options{Help: "Preview width", Default: 300})
	height := parser.Int("", "height", &argparse.Options{Help: "Preview height", Default: 300})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	f, err := os.Create(*output)
	check(err)
	defer f.Close()
	var w io.Writer = f
	if strings.HasSuffix(*output, ".gz") {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}

	rw, err := device.NewReplayWriter(w, device.ReplayHeader{
		Streams:   []string{device.StreamPreview, device.StreamDepthRaw, device.StreamLeft},
		NNToDepth: device.DepthMapping{OffX: 0, OffY: 0, MaxW: 1, MaxH: 1},
	})
	check(err)

	nFrames := *seconds * *fps
	for i := 0; i < nFrames; i++ {
		offset := time.Duration(i) * time.Second / time.Duration(*fps)
		seq := int64(i)
		angle := float32(i) / float32(nFrames) * 2 * math32.Pi
		cx := 0.5 + 0.3*math32.Cos(angle)
		cy := 0.5 + 0.3*math32.Sin(angle)
		box := nn.MakeBox(cx-0.1, cy-0.15, cx+0.1, cy+0.15)
		distance := 1.0 + 0.5*math32.Sin(angle*2)

		check(rw.WriteNN(offset, &device.NNData{
			SequenceNum: seq,
			Layers: []device.Layer{
				{
					Name: "detection_out",
					Dims: []int{1, 1, 2, 10},
					Data: []float32{
						0, 15, 0.9, box.TopLeft.X, box.TopLeft.Y, box.BottomRight.X, box.BottomRight.Y, (cx - 0.5) * distance, (cy - 0.5) * distance, distance,
						-1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
					},
				},
			},
		}))
		check(rw.WritePacket(offset, previewFrame(seq, *width, *height, box)))
		check(rw.WritePacket(offset, depthFrame(seq, *width, *height, box, distance)))
		check(rw.WritePacket(offset, monoFrame(seq, *width, *height, i)))
	}
	fmt.Printf("Wrote %v frames to %v\n", nFrames, *output)
}

func inside(box nn.Box, x, y, width, height int) bool {
	fx := (float32(x) + 0.5) / float32(width)
	fy := (float32(y) + 0.5) / float32(height)
	return fx >= box.TopLeft.X && fx < box.BottomRight.X && fy >= box.TopLeft.Y && fy < box.BottomRight.Y
}

// Planar BGR, gray background with a red box
func previewFrame(seq int64, width, height int, box nn.Box) *device.DataPacket {
	plane := width * height
	data := make([]byte, plane*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			b, g, r := byte(90), byte(90), byte(90)
			if inside(box, x, y, width, height) {
				b, g, r = 30, 30, 200
			}
			data[i] = b
			data[plane+i] = g
			data[2*plane+i] = r
		}
	}
	return &device.DataPacket{
		Stream: device.StreamPreview,
		Frame: &device.ImgFrame{
			Stream:      device.StreamPreview,
			Type:        device.FrameTypeBGR888p,
			Width:       width,
			Height:      height,
			SequenceNum: seq,
			Timestamp:   time.Unix(0, 0).Add(time.Duration(seq) * time.Millisecond),
			Data:        data,
		},
	}
}

// Background at 4 meters, with the box at 'distance' meters
func depthFrame(seq int64, width, height int, box nn.Box, distance float32) *device.DataPacket {
	data := make([]byte, width*height*2)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mm := uint16(4000)
			if inside(box, x, y, width, height) {
				mm = uint16(distance * 1000)
			}
			binary.LittleEndian.PutUint16(data[(y*width+x)*2:], mm)
		}
	}
	return &device.DataPacket{
		Stream: device.StreamDepthRaw,
		Frame: &device.ImgFrame{
			Stream:      device.StreamDepthRaw,
			Type:        device.FrameTypeRaw16,
			Width:       width,
			Height:      height,
			SequenceNum: seq,
			Data:        data,
		},
	}
}

// A moving gradient
func monoFrame(seq int64, width, height, frame int) *device.DataPacket {
	data := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = byte(x + y + frame*4)
		}
	}
	return &device.DataPacket{
		Stream: device.StreamLeft,
		Frame: &device.ImgFrame{
			Stream:      device.StreamLeft,
			Type:        device.FrameTypeGray8,
			Width:       width,
			Height:      height,
			SequenceNum: seq,
			Data:        data,
		},
	}
}
