//go:build !linux

package media

import "errors"

// NewSession reports that no OS media session is available; callers fall
// back to NewNoOpSession.
func NewSession() (Session, error) {
	return nil, errors.New("media session not supported on this platform")
}
