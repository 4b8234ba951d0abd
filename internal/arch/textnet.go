package arch

// TextNet backbone variants used by the FAST detectors.
const (
	TextNetTiny  Name = "textnet_tiny"
	TextNetSmall Name = "textnet_small"
	TextNetBase  Name = "textnet_base"
)

var textNetConfigs = map[Name]Config{
	TextNetTiny: {
		Mean:       recognitionMean,
		Std:        recognitionStd,
		InputShape: Shape{H: 32, W: 32, C: 3},
		URL:        "https://doctr-static.mindee.com/models?id=v0.8.1/textnet_tiny-fe9cc245.zip&src=0",
		Vocab:      "french",
	},
	TextNetSmall: {
		Mean:       recognitionMean,
		Std:        recognitionStd,
		InputShape: Shape{H: 32, W: 32, C: 3},
		URL:        "https://doctr-static.mindee.com/models?id=v0.8.1/textnet_small-29c39c82.zip&src=0",
		Vocab:      "french",
	},
	TextNetBase: {
		Mean:       recognitionMean,
		Std:        recognitionStd,
		InputShape: Shape{H: 32, W: 32, C: 3},
		URL:        "https://doctr-static.mindee.com/models?id=v0.8.1/textnet_base-168aa82c.zip&src=0",
		Vocab:      "french",
	},
}

// TextNetConfig returns the backbone configuration for a TextNet variant.
func TextNetConfig(name Name) (Config, bool) {
	c, ok := textNetConfigs[name]
	return c, ok
}

// BackboneOf maps a FAST detector name to its TextNet backbone.
func BackboneOf(name Name) (Name, bool) {
	switch name {
	case "fast_tiny":
		return TextNetTiny, true
	case "fast_small":
		return TextNetSmall, true
	case "fast_base":
		return TextNetBase, true
	}
	return "", false
}
