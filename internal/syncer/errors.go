package syncer

import (
	"errors"

	"github.com/avolkov/zencache/internal/store"
)

// Errors returned by a sync cycle. Check with errors.Is:
//
//	if errors.Is(err, syncer.ErrTransport) {
//	    // network leg failed, cache untouched, safe to retry
//	}
var (
	// ErrTransport is returned on network failure, timeout, or a non-200
	// response from the diff endpoint. The cache and watermark are
	// untouched.
	ErrTransport = errors.New("diff request failed")

	// ErrMalformedResponse is returned when the response body is not
	// valid JSON. Handled exactly like a transport failure.
	ErrMalformedResponse = errors.New("malformed diff response")
)

// IsRetryable reports whether a failed cycle may succeed on retry with the
// same watermark. Transport and malformed-response failures leave no local
// state behind; storage failures may indicate a wedged database and need
// caller attention first.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedResponse)
}

// IsStorage reports whether the failure came from the persistence layer.
func IsStorage(err error) bool {
	return errors.Is(err, store.ErrStorage)
}
