package revenue

import "errors"

var (
	ErrInvalidAmount         = errors.New("revenue: amount must be positive")
	ErrInvalidPercent        = errors.New("revenue: rev share percent must be within [0, 100]")
	ErrInvalidDay            = errors.New("revenue: final day must be positive")
	ErrRoundAlreadyFinalized = errors.New("revenue: round already finalized")
	ErrUnknownFinalizePolicy = errors.New("revenue: unknown finalize policy")
	ErrUnknownStrategy       = errors.New("revenue: unknown reward strategy")
	ErrQuoterRequired        = errors.New("revenue: quoter is required")
)
