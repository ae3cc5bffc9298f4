package playrec

import "errors"

var (
	// ErrInvalidTransition is recorded when a request is not valid in the current state.
	ErrInvalidTransition = errors.New("playrec: invalid state transition")
	// ErrModeConflict is recorded when play is requested during a recording session or vice versa.
	ErrModeConflict = errors.New("playrec: session is in the other mode")
	ErrNoLocation   = errors.New("playrec: no resource location set")
	ErrLocationBusy = errors.New("playrec: location can only change while idle")
	ErrClosed       = errors.New("playrec: player recorder closed")
	// ErrPermissionDenied is returned by a PermissionProvider that refuses capture.
	ErrPermissionDenied    = errors.New("playrec: record permission denied")
	ErrUnsupportedLocation = errors.New("playrec: unsupported resource location")
	ErrCanceled            = errors.New("playrec: preparation canceled")
	ErrNoEngine            = errors.New("playrec: no engine factory configured")
)
