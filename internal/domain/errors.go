package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrZeroAddress      = errors.New("zero address")
	ErrInvalidEventID   = errors.New("invalid event id")
	ErrInvalidState     = errors.New("invalid market state")
	ErrUnknownOutcome   = errors.New("unknown outcome")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrDuplicateBet     = errors.New("duplicate bet")
	ErrNoStake          = errors.New("no stake")
	ErrLosingBet        = errors.New("losing bet")
	ErrEmptyWinningPool = errors.New("empty winning pool")
	ErrReentrantCall    = errors.New("reentrant call")
	ErrTransferFailed   = errors.New("transfer failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrLockHeld         = errors.New("lock already held")
)
