package core

import "errors"

// Engine error constants
var (
	// ErrConflict is returned by CompareAndApply when the stored version
	// does not match the expected version. It is recovered locally by the
	// producer's retry loop and never surfaces to callers on its own.
	ErrConflict = errors.New("version conflict")

	// ErrConcurrentModification is returned when the mutation retry budget
	// is exhausted. It is the only user-visible failure of the engine and
	// is retryable by the caller.
	ErrConcurrentModification = errors.New("concurrent modification, retry")

	// ErrStaleClient is returned by DeltasSince when a reconnecting
	// client's last known version is behind the retained delta log. It is
	// healed by forcing a full snapshot fetch, not surfaced to the user.
	ErrStaleClient = errors.New("client version behind retained delta log")

	// ErrOrderNotFound is returned when an order is not known to the store
	// or the repository.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderArchived is returned for mutations against a terminated
	// (closed or cancelled) order.
	ErrOrderArchived = errors.New("order is archived")

	// ErrUnknownTopic is returned for subscription requests naming a topic
	// outside the supported addressable forms.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrUnauthorizedSubscription is returned when a connection's identity
	// cannot access the requested topic. The subscription is rejected; the
	// connection is not torn down.
	ErrUnauthorizedSubscription = errors.New("unauthorized subscription")

	// ErrInvalidMutation is returned when a mutation intent cannot be
	// applied to the current order state (for example modifying a dish
	// that is not on the order).
	ErrInvalidMutation = errors.New("invalid mutation")
)
