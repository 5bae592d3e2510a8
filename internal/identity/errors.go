package identity

import "errors"

var (
	// ErrDuplicateIdentity means another login raced ahead and created
	// the same (provider, provider_user_id) link. Expected and
	// transient: callers re-resolve via exact lookup instead of
	// surfacing it, because the race's outcome is exactly the state
	// this call wanted.
	ErrDuplicateIdentity = errors.New("duplicate provider identity")

	// ErrConsolidationFailed wraps any persistence error on the login
	// hot path. The login route must fail the attempt rather than
	// proceed with an unresolved identity.
	ErrConsolidationFailed = errors.New("identity consolidation failed")

	// ErrMergeConflict means reassigning an identity row during a merge
	// would itself violate the (provider, provider_user_id) uniqueness
	// constraint. Resolved by dropping the duplicate's copy.
	ErrMergeConflict = errors.New("identity merge conflict")
)
