package nn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCentroid(t *testing.T) {
	b := MakeBox(10, 20, 30, 41)
	require.Equal(t, Point{X: 20, Y: 30.5}, b.Center())

	b = MakeBox(0.25, 0.5, 0.75, 1)
	require.Equal(t, Point{X: 0.5, Y: 0.75}, b.Center())
}

func TestShrink(t *testing.T) {
	b := MakeBox(100, 100, 200, 300)
	s := b.Shrink(0.3)
	// 100 * 0.7 / 2 = 35, 200 * 0.7 / 2 = 70
	require.Equal(t, MakeBox(135, 170, 165, 230), s)
	require.Equal(t, b.Center(), s.Center())

	// A padding factor of 1 leaves the box alone
	require.Equal(t, b, b.Shrink(1))
}

func TestBoxRect(t *testing.T) {
	r := MakeBox(0.2, 0.4, 0.6, 0.9).Scale(100, 10).Rect()
	require.Equal(t, Rect{X: 20, Y: 4, Width: 40, Height: 5}, r)
}

func TestDetectFamily(t *testing.T) {
	cfg := &ModelConfig{}
	cfg.NNConfig.Family = "mobilenet"
	require.Equal(t, FamilyMobileNet, DetectFamily("mobilenet-ssd", cfg))
	cfg.NNConfig.Family = "YOLO"
	require.Equal(t, FamilyYOLO, DetectFamily("tiny-yolo-v3", cfg))
	require.Equal(t, FamilyAgeGender, DetectFamily("age-gender-recognition-retail-0013", cfg))
	require.Equal(t, FamilyEmotion, DetectFamily("emotions-recognition-retail-0003", nil))
	require.Equal(t, FamilyLandmarks, DetectFamily("landmarks-regression-retail-0009", nil))
	require.Equal(t, FamilyRaw, DetectFamily("something-else", nil))
	require.True(t, FamilyYOLO.IsDetector())
	require.False(t, FamilyEmotion.IsDetector())
}

func TestLabelText(t *testing.T) {
	labels := []string{"background", "person"}
	txt, ok := LabelText(labels, 1)
	require.True(t, ok)
	require.Equal(t, "person", txt)

	txt, ok = LabelText(labels, 2)
	require.False(t, ok)
	require.Equal(t, "2", txt)

	txt, ok = LabelText(nil, 7)
	require.True(t, ok)
	require.Equal(t, "7", txt)
}

func TestInputSize(t *testing.T) {
	w, h, err := InputSize("mobilenet-ssd", "")
	require.NoError(t, err)
	require.Equal(t, 300, w)
	require.Equal(t, 300, h)

	w, h, err = InputSize("mobilenet-ssd", "640x352")
	require.NoError(t, err)
	require.Equal(t, 640, w)
	require.Equal(t, 352, h)

	_, _, err = InputSize("unknown-model", "")
	require.Error(t, err)
	_, _, err = InputSize("", "640by352")
	require.Error(t, err)
}

func TestLoadModelConfig(t *testing.T) {
	js := `{
		"NN_config": {
			"output_format": "detection",
			"NN_family": "YOLO",
			"NN_specific_metadata": {
				"classes": 80,
				"coordinates": 4,
				"anchors": [10,14, 23,27, 37,58, 81,82, 135,169, 344,319],
				"anchor_masks": {"side26": [1,2,3], "side13": [3,4,5]},
				"iou_threshold": 0.5,
				"confidence_threshold": 0.4
			}
		},
		"mappings": {"labels": ["person", "bicycle"]}
	}`
	filename := filepath.Join(t.TempDir(), "tiny-yolo-v3.json")
	require.NoError(t, os.WriteFile(filename, []byte(js), 0644))
	cfg, err := LoadModelConfig(filename)
	require.NoError(t, err)
	require.Equal(t, "YOLO", cfg.NNConfig.Family)
	require.Equal(t, "detection", cfg.NNConfig.OutputFormat)
	require.Equal(t, 80, cfg.NNConfig.Specific.Classes)
	require.Equal(t, []int{3, 4, 5}, cfg.NNConfig.Specific.AnchorMasks["side13"])
	require.Equal(t, float32(0.4), cfg.ConfidenceThreshold())
	require.Equal(t, []string{"person", "bicycle"}, cfg.Labels())

	var nilCfg *ModelConfig
	require.Equal(t, float32(DefaultConfidenceThreshold), nilCfg.ConfidenceThreshold())
}
