package activitypub

import "errors"

// Error taxonomy for the federation exchange layer. The web layer maps these
// to HTTP statuses with errors.Is; delivery failures are never surfaced as
// errors to callers, only as job state.
var (
	// ErrSignatureInvalid covers bad, missing, or unverifiable HTTP signatures.
	ErrSignatureInvalid = errors.New("http signature invalid")

	// ErrClockSkew marks a Date header too far from current time (replay mitigation).
	ErrClockSkew = errors.New("date header outside allowed clock skew")

	// ErrMalformedActivity marks unparseable JSON or missing required fields.
	ErrMalformedActivity = errors.New("malformed activity")

	// ErrActorUnresolvable marks a failed remote actor or key fetch.
	ErrActorUnresolvable = errors.New("actor unresolvable")

	// ErrAlreadyFollowing marks a follow request for an existing edge.
	ErrAlreadyFollowing = errors.New("already following")

	// ErrNotFollowing marks an unfollow request with no matching edge.
	ErrNotFollowing = errors.New("not following")
)
