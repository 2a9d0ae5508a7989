package portal

import "errors"

// Sentinel errors returned by sessions. Callers match them with errors.Is.
var (
	// ErrInvalidCriteria is returned for missing or malformed query filters.
	ErrInvalidCriteria = errors.New("portal: invalid criteria")

	// ErrLogin is returned when the portal rejects the credentials.
	ErrLogin = errors.New("portal: login failed")

	// ErrNavigation is returned when an expected page, form or control
	// cannot be reached.
	ErrNavigation = errors.New("portal: navigation failed")

	// ErrChallengeTimeout is returned when a manual challenge is not solved
	// within the configured bound.
	ErrChallengeTimeout = errors.New("portal: timed out waiting for manual challenge")

	// ErrDownload is returned when a row's document cannot be fetched.
	ErrDownload = errors.New("portal: download failed")
)
