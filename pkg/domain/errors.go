package domain

import "errors"

// Sentinel errors shared by the store, app and transport layers. Callers wrap
// them with context via fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrNoHeaders       = errors.New("no usable header row")
)

// ImportError wraps any failure raised during a batch import. The batch is
// rolled back in full and the underlying message is reported verbatim.
type ImportError struct {
	Err error
}

func (e *ImportError) Error() string {
	return "import failed: " + e.Err.Error()
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
