package domain

import "errors"

// ============================================================================
// Request Errors
// ============================================================================

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrPayloadTooLarge = errors.New("request body too large")
	ErrInvalidImage    = errors.New("invalid image data")
)

// ============================================================================
// Model Handle Errors
// ============================================================================

var (
	ErrUnknownVariant        = errors.New("unknown sam_type")
	ErrVariantSwitchDisabled = errors.New("switching sam_type is disabled on this server")
	ErrModelBuild            = errors.New("failed to build model")
	ErrModelUnavailable      = errors.New("model runtime unavailable")
)

// ============================================================================
// Result Errors
// ============================================================================

var (
	// ErrUnexpectedBoxes is returned when the model hands back boxes that are
	// neither a plain numeric array nor a tensor.
	ErrUnexpectedBoxes = errors.New("unexpected type for boxes, expected numeric array or tensor")
	ErrEncoding        = errors.New("error encoding boxes")
)
