package domain

// ============================================================================
// Value Objects
// ============================================================================

// SAM 2.1 backbone variants the LangSAM runtime knows how to build.
const (
	VariantHieraTiny     = "sam2.1_hiera_tiny"
	VariantHieraSmall    = "sam2.1_hiera_small"
	VariantHieraBasePlus = "sam2.1_hiera_base_plus"
	VariantHieraLarge    = "sam2.1_hiera_large"

	DefaultVariant = VariantHieraSmall
)

// KnownVariants lists every variant in build order, smallest first.
var KnownVariants = []string{
	VariantHieraTiny,
	VariantHieraSmall,
	VariantHieraBasePlus,
	VariantHieraLarge,
}

const (
	DefaultBoxThreshold  = 0.3
	DefaultTextThreshold = 0.25

	// DefaultMaxImagePixels matches Pillow's decompression bomb threshold.
	DefaultMaxImagePixels = 178956970
)

// ============================================================================
// Entities
// ============================================================================

// PredictionRequest is the decoded form of one /predict call.
type PredictionRequest struct {
	ModelType     string // empty keeps the currently loaded variant
	BoxThreshold  float64
	TextThreshold float64
	TextPrompt    string
	Image         []byte
}

// PredictionResult holds the normalized detector output for one image.
type PredictionResult struct {
	Boxes BoxArray
}

// ModelStatus is a point-in-time view of the loaded model.
type ModelStatus struct {
	Variant         string
	Healthy         bool
	AllowSwitch     bool
	AllowedVariants []string
}

// SegmentResult is what the model returns for each image in a batch.
type SegmentResult struct {
	Boxes     BoxesValue
	MaskCount int
	Scores    []float64
	Labels    []string
}
