package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ModelFiles are the files on disk that describe a network
type ModelFiles struct {
	Blob   string // Compiled network
	Config string // Metadata JSON (labels, family, thresholds)
}

// ModelPaths returns the conventional location of a model's files:
// <nnDir>/<model>/<model>.blob and <nnDir>/<model>/<model>[_depth].json.
// The _depth metadata is used when the device computes spatial coordinates for each detection.
func ModelPaths(nnDir, model string, calcDistToBB bool) ModelFiles {
	base := filepath.Join(nnDir, model, model)
	suffix := ""
	if calcDistToBB {
		suffix = "_depth"
	}
	return ModelFiles{
		Blob:   base + ".blob",
		Config: base + suffix + ".json",
	}
}

// ResolveModel is ModelPaths, but fails with ErrModelNotFound if either file is missing
func ResolveModel(nnDir, model string, calcDistToBB bool) (ModelFiles, error) {
	files := ModelPaths(nnDir, model, calcDistToBB)
	if _, err := os.Stat(files.Blob); err != nil {
		return files, fmt.Errorf("%w: NN blob not found in: %v", ErrModelNotFound, files.Blob)
	}
	if _, err := os.Stat(files.Config); err != nil {
		return files, fmt.Errorf("%w: NN json not found in: %v", ErrModelNotFound, files.Config)
	}
	return files, nil
}
