package interfaces

import "errors"

// Sentinel errors crossing component boundaries. Recoverable conditions
// (session expiry, transient portal failures, single-target scrape errors)
// are handled internally and never surface as these.
var (
	// ErrInvalidCredentials is terminal - the portal rejected the login and
	// the attempt must not be retried.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPortalUnavailable is returned after bounded retries with backoff
	// have been exhausted.
	ErrPortalUnavailable = errors.New("portal unavailable")

	// ErrSessionExpired signals the portal bounced a navigation back to the
	// login surface. SessionController recovers from this transparently; it
	// only escapes when re-authentication itself fails.
	ErrSessionExpired = errors.New("session expired")

	// ErrJobAlreadyRunning is returned by the job registry when a scrape job
	// is started while another one holds the single running slot.
	ErrJobAlreadyRunning = errors.New("a scrape job is already running")

	// ErrJobNotFound is returned for status/cancel requests against an
	// unknown job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobCancelled is returned by a scrape run that stopped at a target
	// boundary because cancellation was requested.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrEmptyDataset distinguishes "nothing has been scraped yet" from a
	// search that matched no universities.
	ErrEmptyDataset = errors.New("no scraped data available")

	// ErrCacheMiss is returned when a cache key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
)
