package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the ledger return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record or account does not exist in the store/ledger
// - ErrAlreadyExists: a registry slot for the discriminant was already created
// - ErrInvalidState: record in wrong state for the requested operation
// - ErrInsufficient: account holds less value than a leg requires
// - ErrUnavailable: backing service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrInsufficient  = errors.New("insufficient balance")
	ErrUnavailable   = errors.New("unavailable")
)
