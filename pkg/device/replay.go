package device

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

// A replay file is a JSON-lines recording of a device session.
// The first line is a ReplayHeader. Every following line is a ReplayRecord.
// If the filename ends with .gz, the file is gzip compressed.

type ReplayHeader struct {
	Streams   []string     `json:"streams"`
	NNToDepth DepthMapping `json:"nnToDepth"`
}

type ReplayRecord struct {
	OffsetMS int64       `json:"offsetMS"` // Time since the start of the session
	NN       *NNData     `json:"nn,omitempty"`
	Packet   *DataPacket `json:"packet,omitempty"`
}

// Replay is a Device that plays back a recorded session in real time
type Replay struct {
	log        logs.Log
	header     ReplayHeader
	records    []ReplayRecord
	next       int
	start      time.Time
	loop       bool
	created    bool
	closed     bool
	nnQueue    *OutputQueue[*NNData]
	dataQueues map[string]*OutputQueue[*DataPacket]
	streams    []string // enabled streams, in pipeline order
	now        func() time.Time
}

// OpenReplay loads a replay file.
// A failure here is the equivalent of a device that could not be initialized.
func OpenReplay(log logs.Log, filename string, opts Options, loop bool) (*Replay, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceInit, err)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceInit, err)
		}
		defer gz.Close()
		r = gz
	}
	rep, err := ReadReplay(log, r, loop)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrDeviceInit, filename, err)
	}
	if opts.ForceUSB2 {
		log.Warnf("FORCE USB2 MODE (ignored during replay)")
	}
	if opts.DeviceID != "" {
		log.Infof("Device ID %v ignored during replay", opts.DeviceID)
	}
	log.Infof("Opened replay %v: %v records, streams %v", filename, len(rep.records), rep.header.Streams)
	return rep, nil
}

// ReadReplay parses a replay session from r
func ReadReplay(log logs.Log, r io.Reader, loop bool) (*Replay, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 256*1024*1024)
	rep := &Replay{
		log:        log,
		loop:       loop,
		dataQueues: map[string]*OutputQueue[*DataPacket]{},
		now:        time.Now,
	}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if lineNo == 1 {
			if err := json.Unmarshal(line, &rep.header); err != nil {
				return nil, fmt.Errorf("Invalid replay header: %w", err)
			}
			continue
		}
		rec := ReplayRecord{}
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("Invalid replay record on line %v: %w", lineNo, err)
		}
		if rec.NN == nil && rec.Packet == nil {
			return nil, fmt.Errorf("Empty replay record on line %v", lineNo)
		}
		rep.records = append(rep.records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if lineNo == 0 {
		return nil, fmt.Errorf("Replay is empty")
	}
	return rep, nil
}

func streamNamesFromConfig(config map[string]any) []string {
	names := []string{}
	list, _ := config["streams"].([]any)
	for _, s := range list {
		switch v := s.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func (r *Replay) CreatePipeline(config map[string]any) error {
	if r.closed {
		return fmt.Errorf("%w: device is closed", ErrPipelineCreate)
	}
	available := map[string]bool{}
	for _, s := range r.header.Streams {
		available[s] = true
	}
	r.streams = nil
	for _, name := range streamNamesFromConfig(config) {
		if name == StreamMeta {
			continue
		}
		if !available[name] {
			return fmt.Errorf("%w: stream '%v' is not available (available: %v)", ErrPipelineCreate, name, r.header.Streams)
		}
		r.streams = append(r.streams, name)
		size := 1
		if name == StreamVideo {
			// Encoded video must not drop packets, but we still bound the queue
			size = 30
		}
		r.dataQueues[name] = NewOutputQueue[*DataPacket](name, size)
	}
	r.nnQueue = NewOutputQueue[*NNData](StreamMeta, 2)
	r.start = r.now()
	r.next = 0
	r.created = true
	return nil
}

func (r *Replay) advance() {
	elapsed := r.now().Sub(r.start).Milliseconds()
	for r.next < len(r.records) && r.records[r.next].OffsetMS <= elapsed {
		rec := &r.records[r.next]
		if rec.NN != nil {
			r.nnQueue.Send(rec.NN)
		}
		if rec.Packet != nil {
			if q := r.dataQueues[rec.Packet.Stream]; q != nil {
				q.Send(rec.Packet)
			}
		}
		r.next++
	}
	if r.loop && r.next == len(r.records) && len(r.records) != 0 {
		r.start = r.now()
		r.next = 0
	}
}

func (r *Replay) Poll() (Packets, error) {
	if r.closed {
		return Packets{}, fmt.Errorf("Device is closed")
	}
	if !r.created {
		return Packets{}, fmt.Errorf("Pipeline has not been created")
	}
	r.advance()
	p := Packets{
		NN: r.nnQueue.TryGetAll(),
	}
	for _, name := range r.streams {
		p.Data = append(p.Data, r.dataQueues[name].TryGetAll()...)
	}
	return p, nil
}

func (r *Replay) AvailableStreams() []string {
	return r.header.Streams
}

func (r *Replay) NNToDepthMapping() DepthMapping {
	return r.header.NNToDepth
}

func (r *Replay) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.log.Infof("Replay device closed")
	return nil
}

// ReplayWriter produces replay files
type ReplayWriter struct {
	enc *json.Encoder
}

func NewReplayWriter(w io.Writer, header ReplayHeader) (*ReplayWriter, error) {
	rw := &ReplayWriter{
		enc: json.NewEncoder(w),
	}
	if err := rw.enc.Encode(header); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *ReplayWriter) WriteNN(offset time.Duration, nn *NNData) error {
	return w.enc.Encode(ReplayRecord{OffsetMS: offset.Milliseconds(), NN: nn})
}

func (w *ReplayWriter) WritePacket(offset time.Duration, packet *DataPacket) error {
	return w.enc.Encode(ReplayRecord{OffsetMS: offset.Milliseconds(), Packet: packet})
}

// Dropped returns the number of packets that were overwritten in our queues before Poll picked them up
func (r *Replay) Dropped() int64 {
	n := int64(0)
	if r.nnQueue != nil {
		n += r.nnQueue.Dropped()
	}
	for _, q := range r.dataQueues {
		n += q.Dropped()
	}
	return n
}
