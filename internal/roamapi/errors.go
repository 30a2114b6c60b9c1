package roamapi

import "errors"

// Error kinds for remote graph operations. Every error returned by this
// package wraps exactly one of these sentinels, so call sites dispatch with
// errors.Is rather than string matching.
var (
	// ErrAPI is the generic remote failure kind (5xx, unmatched statuses,
	// transport errors after retries).
	ErrAPI = errors.New("roam api error")

	// ErrAuthentication covers HTTP 401 and missing credentials at
	// construction. Never swallowed anywhere.
	ErrAuthentication = errors.New("authentication error")

	// ErrRateLimit covers HTTP 429 after the rate-limit retry loop gives up.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrInvalidQuery covers HTTP 400, sanitizer rejections, and redirects
	// that cannot be parsed.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrPageNotFound and ErrBlockNotFound mark resource absence on
	// required code paths.
	ErrPageNotFound  = errors.New("page not found")
	ErrBlockNotFound = errors.New("block not found")
)

// recoverable reports whether an error may be degraded to an empty result at
// a best-effort enrichment call site. Authentication and invalid-query
// failures are never recoverable.
func recoverable(err error) bool {
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrInvalidQuery) {
		return false
	}
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrAPI) ||
		errors.Is(err, ErrPageNotFound) || errors.Is(err, ErrBlockNotFound)
}
