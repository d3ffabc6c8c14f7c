package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Map is the pipeline configuration that we send to the device.
// It is a nested JSON-like document with the top level keys streams, depth, ai, ot, and board_config.
type Map = map[string]any

var (
	ErrInvalid       = errors.New("Invalid configuration")
	ErrModelNotFound = errors.New("Neural network files not found")
)

// Args are the command line inputs that feed into the default configuration
type Args struct {
	Streams         []any  // stream names, or {"name": ..., "max_fps": ...} objects
	CalibrationFile string // Stereo calibration file
	BlobFile        string // Compiled network
	BlobFileConfig  string // Network metadata JSON
	CalcDistToBB    bool   // Compute the spatial coordinates of each detection
	FullFOVNN       bool   // Squash the full field of view into the NN input, instead of cropping
	Shaves          int
	CMXSlices       int
	NCEs            int

	// board_config
	SwapLR         bool
	FieldOfView    float64
	RGBFieldOfView float64
	Baseline       float64 // cm between the stereo cameras
	RGBBaseline    float64 // cm between the left and color cameras
	StoreEEPROM    bool
	ClearEEPROM    bool
	OverrideEEPROM bool
}

// DefaultArgs returns the values that the CLI uses when a flag is not specified
func DefaultArgs() Args {
	return Args{
		Streams:        []any{"metaout", "previewout"},
		CalcDistToBB:   true,
		Shaves:         14,
		CMXSlices:      14,
		NCEs:           1,
		SwapLR:         true,
		FieldOfView:    71.86,
		RGBFieldOfView: 68.7938,
		Baseline:       9.0,
		RGBBaseline:    2.0,
	}
}

// Defaults builds the default configuration.
// Don't edit the result to change settings. Use a board file or an overwrite document instead.
func Defaults(args Args) Map {
	streams := make([]any, len(args.Streams))
	copy(streams, args.Streams)
	return Map{
		"streams": streams,
		"depth": Map{
			"calibration_file":     args.CalibrationFile,
			"padding_factor":       0.3,
			"depth_limit_m":        10.0, // for filtering during x,y,z calculation
			"confidence_threshold": 0.5,  // depth is calculated for boxes with confidence above this
		},
		"ai": Map{
			"blob_file":         args.BlobFile,
			"blob_file_config":  args.BlobFileConfig,
			"calc_dist_to_bb":   args.CalcDistToBB,
			"keep_aspect_ratio": !args.FullFOVNN,
			"shaves":            float64(args.Shaves),
			"cmx_slices":        float64(args.CMXSlices),
			"NCEs":              float64(args.NCEs),
		},
		"ot": Map{
			"max_tracklets":        20.0, // maximum supported by the device
			"confidence_threshold": 0.5,
		},
		"board_config": Map{
			"swap_left_and_right_cameras": args.SwapLR,
			"left_fov_deg":                args.FieldOfView,
			"rgb_fov_deg":                 args.RGBFieldOfView,
			"left_to_right_distance_cm":   args.Baseline,
			"left_to_rgb_distance_cm":     args.RGBBaseline,
			"store_to_eeprom":             args.StoreEEPROM,
			"clear_eeprom":                args.ClearEEPROM,
			"override_eeprom":             args.OverrideEEPROM,
		},
	}
}

// Merge src into dst, and return dst.
// Maps are merged recursively. Everything else in src (numbers, strings, lists) replaces the value in dst.
// dst never ends up sharing a map with src.
func Merge(src, dst Map) Map {
	for k, v := range src {
		if srcMap, ok := v.(Map); ok {
			dstMap, ok := dst[k].(Map)
			if !ok {
				dstMap = Map{}
				dst[k] = dstMap
			}
			Merge(srcMap, dstMap)
		} else if list, ok := v.([]any); ok {
			dst[k] = cloneList(list)
		} else {
			dst[k] = v
		}
	}
	return dst
}

// Maps inside the list are copied, so that stream entries such as {"name": "left", "max_fps": 5} are not shared
func cloneList(list []any) []any {
	c := make([]any, len(list))
	for i, v := range list {
		switch t := v.(type) {
		case Map:
			c[i] = Clone(t)
		case []any:
			c[i] = cloneList(t)
		default:
			c[i] = v
		}
	}
	return c
}

// Clone returns a deep copy of the configuration
func Clone(cfg Map) Map {
	return Merge(cfg, Map{})
}

// BoardPath finds a board file. 'board' is either a path, or the name of a board in boardsDir,
// in which case the file is boardsDir/<NAME>.json.
func BoardPath(board, boardsDir string) (string, error) {
	if _, err := os.Stat(board); err == nil {
		return board, nil
	}
	path := filepath.Join(boardsDir, strings.ToUpper(board)+".json")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: Board config not found: %v", ErrInvalid, path)
	}
	return path, nil
}

// LoadBoard loads a board configuration file
func LoadBoard(board, boardsDir string) (Map, error) {
	path, err := BoardPath(board, boardsDir)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: Error loading %v: %v", ErrInvalid, path, err)
	}
	m := Map{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: Error loading as JSON %v: %v", ErrInvalid, path, err)
	}
	return m, nil
}

// ParseOverwrite parses the JSON document given to --config-overwrite
func ParseOverwrite(s string) (Map, error) {
	m := Map{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("%w: config overwrite is not a valid JSON object: %v", ErrInvalid, err)
	}
	return m, nil
}

// Build produces the final configuration: defaults, then the board file (if any), then the
// overwrite document (if any).
func Build(args Args, board, boardsDir, overwrite string) (Map, error) {
	cfg := Defaults(args)
	if board != "" {
		b, err := LoadBoard(board, boardsDir)
		if err != nil {
			return nil, err
		}
		Merge(b, cfg)
	}
	if overwrite != "" {
		o, err := ParseOverwrite(overwrite)
		if err != nil {
			return nil, err
		}
		Merge(o, cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for combinations of settings that the device can't run
func Validate(cfg Map) error {
	if _, ok := cfg["streams"].([]any); !ok {
		return fmt.Errorf("%w: 'streams' must be a list", ErrInvalid)
	}
	names := StreamNames(cfg)
	if slices.Contains(names, "depth_sipp") && (slices.Contains(names, "depth_color_h") || slices.Contains(names, "depth_mm_h")) {
		return fmt.Errorf("%w: depth_sipp is mutually exclusive with depth_color_h and depth_mm_h", ErrInvalid)
	}
	return nil
}

// ParseStreams parses stream arguments of the form "name" or "name,fps"
func ParseStreams(args []string) ([]any, error) {
	streams := []any{}
	for _, a := range args {
		name, fps, hasFPS := strings.Cut(a, ",")
		if name == "" {
			return nil, fmt.Errorf("%w: empty stream name in '%v'", ErrInvalid, a)
		}
		if !hasFPS {
			streams = append(streams, name)
			continue
		}
		f, err := strconv.ParseFloat(fps, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("%w: invalid max_fps in stream '%v'", ErrInvalid, a)
		}
		streams = append(streams, Map{"name": name, "max_fps": f})
	}
	return streams, nil
}

// StreamNames returns the names of the configured streams, in order
func StreamNames(cfg Map) []string {
	names := []string{}
	list, _ := cfg["streams"].([]any)
	for _, s := range list {
		switch v := s.(type) {
		case string:
			names = append(names, v)
		case Map:
			if name, ok := v["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func HasStream(cfg Map, name string) bool {
	return slices.Contains(StreamNames(cfg), name)
}

// AddStream appends a stream, unless it is already present
func AddStream(cfg Map, name string) {
	if HasStream(cfg, name) {
		return
	}
	list, _ := cfg["streams"].([]any)
	cfg["streams"] = append(list, name)
}

// RemoveStream removes every occurrence of a stream
func RemoveStream(cfg Map, name string) {
	list, _ := cfg["streams"].([]any)
	keep := []any{}
	for _, s := range list {
		if n, ok := s.(string); ok && n == name {
			continue
		}
		if m, ok := s.(Map); ok && m["name"] == name {
			continue
		}
		keep = append(keep, s)
	}
	cfg["streams"] = keep
}

// Get returns the value at a dotted path such as "depth.padding_factor"
func Get(cfg Map, path string) (any, bool) {
	var cur any = cfg
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func Float(cfg Map, path string, def float64) float64 {
	v, _ := Get(cfg, path)
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return def
}

func Bool(cfg Map, path string, def bool) bool {
	if b, ok := getTyped[bool](cfg, path); ok {
		return b
	}
	return def
}

func String(cfg Map, path string, def string) string {
	if s, ok := getTyped[string](cfg, path); ok {
		return s
	}
	return def
}

func getTyped[T any](cfg Map, path string) (T, bool) {
	v, _ := Get(cfg, path)
	t, ok := v.(T)
	return t, ok
}
