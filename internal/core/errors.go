package core

import "errors"

var (
	// ErrInsufficientEnergy means a consumption request's demand, after the
	// self and market phases, exceeds the total pool quantity. The whole
	// call is rejected with no mutation.
	ErrInsufficientEnergy = errors.New("insufficient energy tokens available")

	// ErrInvalidOwnership means a distribution was attempted while active
	// ownership shares do not total 10000 basis points.
	ErrInvalidOwnership = errors.New("total ownership must be 10000 basis points")

	// ErrNoCommunityAccount means an operation needed the community
	// pseudo-account (self-consumption credit, battery discharge) but no
	// community device is configured.
	ErrNoCommunityAccount = errors.New("community account not configured")

	// ErrNotAuthorized means the caller lacks privilege for an admin or
	// bridge operation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNoDebt means a settlement targeted a debtor whose balance is not
	// negative.
	ErrNoDebt = errors.New("no debt to settle")

	// ErrSettlementExceedsDebt means a settlement amount is larger than the
	// debtor's outstanding debt.
	ErrSettlementExceedsDebt = errors.New("settlement exceeds outstanding debt")

	// ErrInvalidAmount means a quantity or amount was zero or negative where
	// a positive value is required.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
)
