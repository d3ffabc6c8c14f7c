package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Package nn holds the host-side description of the neural network that runs on the device:
// its metadata file, its family, its labels, and the geometry types used for detections.

const DefaultConfidenceThreshold = 0.5

// Family is the broad category of a neural network, which decides how we decode and draw its output
type Family string

const (
	FamilyMobileNet Family = "mobilenet"
	FamilyYOLO      Family = "YOLO"
	FamilyAgeGender Family = "age-gender"
	FamilyEmotion   Family = "emotion"
	FamilyLandmarks Family = "landmarks"
	FamilyRaw       Family = "raw"
)

// Models whose family is implied by their name, regardless of what the metadata file says
var modelNameFamilies = map[string]Family{
	"age-gender-recognition-retail-0013": FamilyAgeGender,
	"emotions-recognition-retail-0003":   FamilyEmotion,
	"facial-landmarks-35-adas-0002":      FamilyLandmarks,
	"landmarks-regression-retail-0009":   FamilyLandmarks,
}

// Default NN input sizes for the models we ship, for when the user doesn't specify one
var defaultInputDims = map[string]string{
	"mobilenet-ssd":                                "300x300",
	"face-detection-adas-0001":                     "672x384",
	"face-detection-retail-0004":                   "300x300",
	"pedestrian-detection-adas-0002":               "672x384",
	"person-detection-retail-0013":                 "544x320",
	"person-vehicle-bike-detection-crossroad-1016": "512x512",
	"vehicle-detection-adas-0002":                  "672x384",
	"vehicle-license-plate-detection-barrier-0106": "300x300",
	"tiny-yolo-v3":                                 "416x416",
	"yolo-v3":                                      "416x416",
}

// ModelConfig is the JSON metadata file that accompanies every blob
type ModelConfig struct {
	NNConfig NNConfig `json:"NN_config"`
	Mappings Mappings `json:"mappings"`
}

type NNConfig struct {
	Family              string           `json:"NN_family,omitempty"`        // eg "mobilenet" or "YOLO"
	OutputFormat        string           `json:"output_format,omitempty"`    // eg "detection"
	ConfidenceThreshold *float32         `json:"confidence_threshold,omitempty"`
	Specific            SpecificMetadata `json:"NN_specific_metadata"`
}

// SpecificMetadata is only populated for the YOLO family
type SpecificMetadata struct {
	Classes             int              `json:"classes,omitempty"`
	Coordinates         int              `json:"coordinates,omitempty"`
	Anchors             []float32        `json:"anchors,omitempty"`
	AnchorMasks         map[string][]int `json:"anchor_masks,omitempty"`
	IOUThreshold        float32          `json:"iou_threshold,omitempty"`
	ConfidenceThreshold *float32         `json:"confidence_threshold,omitempty"`
}

type Mappings struct {
	Labels []string `json:"labels"`
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("Invalid model config %v: %w", filename, err)
	}
	return config, nil
}

// Labels returns the ordered label list (may be empty)
func (c *ModelConfig) Labels() []string {
	if c == nil {
		return nil
	}
	return c.Mappings.Labels
}

// ConfidenceThreshold returns the family-specific threshold if present, then the generic
// one, and finally DefaultConfidenceThreshold.
func (c *ModelConfig) ConfidenceThreshold() float32 {
	if c != nil {
		if c.NNConfig.Specific.ConfidenceThreshold != nil {
			return *c.NNConfig.Specific.ConfidenceThreshold
		}
		if c.NNConfig.ConfidenceThreshold != nil {
			return *c.NNConfig.ConfidenceThreshold
		}
	}
	return DefaultConfidenceThreshold
}

// IsDetector returns true if the network produces bounding boxes
func (f Family) IsDetector() bool {
	return f == FamilyMobileNet || f == FamilyYOLO
}

// DetectFamily decides the family of a model.
// The model name takes precedence, because the recognition models have no NN_family in their metadata.
func DetectFamily(modelName string, config *ModelConfig) Family {
	if f, ok := modelNameFamilies[modelName]; ok {
		return f
	}
	if config != nil {
		switch strings.ToLower(config.NNConfig.Family) {
		case "mobilenet":
			return FamilyMobileNet
		case "yolo":
			return FamilyYOLO
		}
	}
	return FamilyRaw
}

// LabelText returns the text for a label index, and false if the index is out of range.
// If there are no labels at all, the index itself is returned as text.
func LabelText(labels []string, label int) (string, bool) {
	if len(labels) == 0 {
		return strconv.Itoa(label), true
	}
	if label < 0 || label >= len(labels) {
		return strconv.Itoa(label), false
	}
	return labels[label], true
}

// ParseInputSize parses a "WIDTHxHEIGHT" string
func ParseInputSize(s string) (width, height int, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("Invalid NN input size '%v'. Use the format <width>x<height>", s)
	}
	width, err1 := strconv.Atoi(parts[0])
	height, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("Invalid NN input size '%v'. Use the format <width>x<height>", s)
	}
	return width, height, nil
}

// InputSize returns the NN input size of a model. If override is not empty, then it is parsed
// instead of looking up our table of known models.
func InputSize(modelName, override string) (width, height int, err error) {
	if override != "" {
		return ParseInputSize(override)
	}
	dims, ok := defaultInputDims[modelName]
	if !ok {
		return 0, 0, fmt.Errorf("Unable to determine the NN input size of '%v'. Specify it in the format <width>x<height>", modelName)
	}
	return ParseInputSize(dims)
}
