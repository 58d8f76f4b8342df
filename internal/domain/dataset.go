package domain

import (
	"path/filepath"
	"strings"
)

// DatasetExtensions lists the dataset file extensions a layer may be
// stored in, in lookup order.
var DatasetExtensions = []string{".geojson", ".json", ".db", ".sqlite"}

// IsDatasetFile returns true if path has a dataset extension.
func IsDatasetFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range DatasetExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LayerFromDatasetPath derives the layer name from a dataset file path,
// e.g. "data/region.geojson" is layer "region".
func LayerFromDatasetPath(path string) (Layer, bool) {
	if !IsDatasetFile(path) {
		return "", false
	}
	base := filepath.Base(path)
	layer := strings.TrimSuffix(base, filepath.Ext(base))
	if layer == "" {
		return "", false
	}
	return layer, true
}
