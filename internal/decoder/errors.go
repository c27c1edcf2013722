package decoder

import "errors"

// Sentinel errors returned by Decode, as plain errors.New values.
var (
	// ErrShapeMismatch is returned when a logits matrix's column count
	// does not equal the alphabet size.
	ErrShapeMismatch = errors.New("decoder: logits column count does not match alphabet size")

	// ErrEmptyLogits is returned when Decode is given zero frames.
	ErrEmptyLogits = errors.New("decoder: logits matrix has no frames")
)
