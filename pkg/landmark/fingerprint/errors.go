package fingerprint

import "errors"

// Error kinds shared by the whole pipeline. Callers wrap them with context
// and classify with errors.Is.
var (
	// ErrDecode reports malformed or unreadable audio.
	ErrDecode = errors.New("audio decode failed")
	// ErrInsufficientSignal reports input too short or too quiet to fingerprint.
	ErrInsufficientSignal = errors.New("insufficient signal")
	// ErrStorage reports a failed insert or lookup in the fingerprint store.
	ErrStorage = errors.New("fingerprint storage failed")
)
