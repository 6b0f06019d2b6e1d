package upstream

import "errors"

var (
	// ErrBadPayload means the response body could not be decoded even after
	// control-byte sanitization.
	ErrBadPayload = errors.New("malformed upstream payload")

	// ErrBadStatus means the provider answered with a status field that is
	// neither OK nor the not-modified marker.
	ErrBadStatus = errors.New("upstream returned non-OK status")
)
