package banner

import "errors"

// Domain errors for the Banner aggregate
var (
	ErrBannerNotFound     = errors.New("banner not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCategory    = errors.New("invalid banner category")
	ErrInvalidStatus      = errors.New("invalid banner status")
	ErrInvalidName        = errors.New("banner name cannot be empty")
	ErrScheduleRequired   = errors.New("scheduled banner requires a schedule time")
	ErrScheduleNotAllowed = errors.New("schedule time is only allowed for scheduled banners")
	ErrInvalidRunningNo   = errors.New("running number must be a positive integer")
	ErrNotPublished       = errors.New("running number can only be assigned to a published banner")
	ErrRankingViolation   = errors.New("running numbers must be dense and unique within a category")
	ErrTransactionFailed  = errors.New("transaction failed")
)
