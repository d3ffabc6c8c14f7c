package device

import (
	"errors"
)

// Package device is the boundary between the host and the camera board.
// Depth, inference, and rectification all run on the board. What we see here is
// the stream of messages that come back over the link.

var (
	ErrDeviceInit     = errors.New("Error initializing device")
	ErrPipelineCreate = errors.New("Pipeline is not created")
)

// Well known stream names
const (
	StreamPreview       = "previewout"
	StreamMeta          = "metaout"
	StreamLeft          = "left"
	StreamRight         = "right"
	StreamDisparity     = "disparity"
	StreamDepthRaw      = "depth_raw"
	StreamDepthColor    = "depth_color_h"
	StreamDepthMM       = "depth_mm_h"
	StreamDepthSipp     = "depth_sipp"
	StreamJpeg          = "jpegout"
	StreamVideo         = "video"
	StreamMetaD2H       = "meta_d2h"
	StreamObjectTracker = "object_tracker"
	StreamSpatialBB     = "sbb"
	StreamSecondStage   = "second_stage"
)

// DataPacket is a single message from one of the device's data streams.
// Exactly one of the payload fields is populated, depending on the stream.
type DataPacket struct {
	Stream        string                           `json:"stream"`
	Frame         *ImgFrame                        `json:"frame,omitempty"`
	Tracklets     *Tracklets                       `json:"tracklets,omitempty"`
	SpatialConfig *SpatialLocationCalculatorConfig `json:"spatialConfig,omitempty"`
	NNData        *NNData                          `json:"nnData,omitempty"`
	Raw           []byte                           `json:"raw,omitempty"`
}

// Packets is everything that was available at the time of a Poll
type Packets struct {
	NN   []*NNData
	Data []*DataPacket
}

func (p *Packets) Len() int {
	return len(p.NN) + len(p.Data)
}

// Options for opening a device
type Options struct {
	DeviceID  string // serial number or index. Empty = first available
	ForceUSB2 bool   // Limit the link to USB2 speeds
	CmdFile   string // Firmware command file. Empty = built in
}

// Device is an open camera board
type Device interface {
	// CreatePipeline configures the on-device graph from the merged configuration map
	CreatePipeline(config map[string]any) error

	// Poll returns every packet that has arrived since the last Poll. It never blocks.
	Poll() (Packets, error)

	// AvailableStreams lists the streams that the device can produce
	AvailableStreams() []string

	// NNToDepthMapping returns the placement of the NN input within the depth map
	NNToDepthMapping() DepthMapping

	// Close releases the device. You must call this before exiting, otherwise the
	// board can be left in a state where it needs to be power cycled.
	Close() error
}
