package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")

	// Market lifecycle.
	ErrInvalidDuration       = errors.New("invalid market duration")
	ErrMarketNotActive       = errors.New("market is not active")
	ErrMarketAlreadyResolved = errors.New("market is already resolved")
	ErrMarketNotResolved     = errors.New("market is not resolved yet")
	ErrMarketNotExpired      = errors.New("market has not expired yet")
	ErrMarketAlreadyStarted  = errors.New("market has already started")
	ErrInitialPriceNotSet    = errors.New("initial price not set")
	ErrFeedNotRegistered     = errors.New("price feed not registered")

	// Positions and value movement.
	ErrBetAmountTooLow         = errors.New("bet amount is too low")
	ErrInvalidSide             = errors.New("invalid side")
	ErrEmptyPosition           = errors.New("position has no shares")
	ErrPositionMismatch        = errors.New("position does not belong to market")
	ErrAlreadyClaimed          = errors.New("winnings already claimed")
	ErrInsufficientFunds       = errors.New("insufficient balance")
	ErrInsufficientUserFunds   = errors.New("insufficient user funds")
	ErrInsufficientMarketFunds = errors.New("insufficient funds in the market")
	ErrAmountOverflow          = errors.New("amount overflows market totals")

	// Protocol fee.
	ErrTeamFeeTimelockNotExpired = errors.New("team fee timelock has not expired")
	ErrTeamFeeAlreadyPaid        = errors.New("team fee already withdrawn")

	// Oracle.
	ErrPriceFetchFailed = errors.New("failed to fetch price")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrPriceStale       = errors.New("price is stale")
)
