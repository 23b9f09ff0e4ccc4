package sentinel

import "errors"

// Sentinel errors for infrastructure and domain facts. Stores and services return
// these (optionally wrapped) so transport layers can translate them into HTTP
// responses without inspecting error strings.
//
// - ErrValidation: malformed input to record or a query surface
// - ErrNotFound: entity does not exist in a store
// - ErrStoreUnavailable: persistence could not durably commit; the caller must
//   treat the audited action as NOT recorded
// - ErrArchiveFailed: bundle write or hash verification failed; hot entries are
//   retained
// - ErrRangeBusy: the requested sequence range is being archived or verified by
//   another job
// - ErrUnauthorized: missing, expired, or malformed credentials
//
// A compromised integrity chain is not an error: it is a checkpoint status that
// requires operator escalation and can never be silently cleared.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrArchiveFailed    = errors.New("archive failed")
	ErrRangeBusy        = errors.New("range busy")
	ErrUnauthorized     = errors.New("unauthorized")
)
