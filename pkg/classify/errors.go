package classify

import "errors"

// Sentinel errors for common conditions.
var (
	// ErrDecode is returned when uploaded bytes are not a supported image.
	ErrDecode = errors.New("classify: cannot decode image")

	// ErrEmptyFrame is returned when asked to classify a frame with no pixels.
	ErrEmptyFrame = errors.New("classify: empty frame")

	// ErrNoClasses is returned when the class list is empty.
	ErrNoClasses = errors.New("classify: class names required")

	// ErrDuplicateClass is returned when a class name appears twice.
	ErrDuplicateClass = errors.New("classify: duplicate class name")

	// ErrMissingWeights is returned when the head weights lack a tensor.
	ErrMissingWeights = errors.New("classify: missing head weights")

	// ErrShapeMismatch is returned when stored weights do not fit the
	// configured classes or the backbone output.
	ErrShapeMismatch = errors.New("classify: weight shape mismatch")
)
