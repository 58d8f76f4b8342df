package domain

// Layer names a polygon dataset such as "country" or "region".
type Layer = string

// LayerCountry is the layer with deferred, fallback-only dispatch.
const LayerCountry Layer = "country"

// DefaultLayers is the layer set loaded when none is configured.
var DefaultLayers = []Layer{
	LayerCountry,
	"macrocounty",
	"macroregion",
	"region",
}

// IntersectLayers returns the requested layers that are also configured,
// keeping the order of requested and dropping duplicates. Unknown layers are
// silently ignored. A nil requested slice selects every configured layer.
func IntersectLayers(requested, configured []Layer) []Layer {
	if requested == nil {
		out := make([]Layer, len(configured))
		copy(out, configured)
		return out
	}

	known := make(map[Layer]bool, len(configured))
	for _, l := range configured {
		known[l] = true
	}

	out := make([]Layer, 0, len(requested))
	seen := make(map[Layer]bool, len(requested))
	for _, l := range requested {
		if !known[l] || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// WithoutCountry returns layers with the country layer removed.
func WithoutCountry(layers []Layer) []Layer {
	out := make([]Layer, 0, len(layers))
	for _, l := range layers {
		if l != LayerCountry {
			out = append(out, l)
		}
	}
	return out
}

// ContainsLayer reports whether layer is in layers.
func ContainsLayer(layers []Layer, layer Layer) bool {
	for _, l := range layers {
		if l == layer {
			return true
		}
	}
	return false
}
