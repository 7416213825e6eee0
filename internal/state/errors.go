package state

import "errors"

var (
	// Registry errors
	ErrNilAddress        = errors.New("member address cannot be nil")
	ErrMemberExists      = errors.New("member already exists")
	ErrUnknownMember     = errors.New("unknown member")
	ErrDeviceAssigned    = errors.New("device already assigned")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrOwnershipExceeded = errors.New("total ownership exceeds 10000 basis points")
	ErrInvalidShare      = errors.New("ownership share out of range")

	// Battery errors
	ErrAlreadyConfigured   = errors.New("battery already configured")
	ErrInvalidBatteryState = errors.New("invalid battery state")
)
