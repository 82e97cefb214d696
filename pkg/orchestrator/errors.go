package orchestrator

import "errors"

var (
	// ErrInvalidExtent means the requested footprint is outside the
	// configured bounds.
	ErrInvalidExtent = errors.New("extent outside allowed bounds")
	// ErrRequestExpired means the confirmation arrived after the
	// tracked request was already consumed or never existed.
	ErrRequestExpired = errors.New("build request expired")
	// ErrPlanNotReady means confirmation arrived before the planner
	// produced a blueprint for the request.
	ErrPlanNotReady = errors.New("plan is not ready yet")
	// ErrDebitFailed means the ledger rejected the debit for a reason
	// other than an overdraw.
	ErrDebitFailed = errors.New("debit failed")
	// ErrRecordCreation means the record store rejected the build. The
	// debit is always credited back before this surfaces.
	ErrRecordCreation = errors.New("record creation failed")
	// ErrRecordNotPending is returned when re-confirming a record that
	// is not in the pending state.
	ErrRecordNotPending = errors.New("record is not pending")
)
