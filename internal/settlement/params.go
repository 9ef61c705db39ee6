package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol constants. They are not configurable.
const (
	// MinBetAmount is the smallest stake PlaceBet accepts.
	MinBetAmount uint64 = 1_000_000
	// MarketCreationFee is charged to the creator and paid to the protocol
	// wallet. It never enters the market pool.
	MarketCreationFee uint64 = 100_000_000

	// WinnersPoolBps is the share of settled funds paid out to winners.
	WinnersPoolBps uint64 = 9_500
	// ProtocolFeeBps is the share of the fee base the authority withdraws.
	ProtocolFeeBps uint64 = 500
	bpsDenominator uint64 = 10_000

	// FeeUnlockDelay is added to a market's end time to get the earliest
	// protocol fee withdrawal.
	FeeUnlockDelay = 7 * 24 * time.Hour
)

// CreationPolicy controls who may create markets.
type CreationPolicy string

const (
	CreationOpen            CreationPolicy = "open"
	CreationSingleAuthority CreationPolicy = "single_authority"
)

// FeeBase selects what the protocol fee is computed from.
type FeeBase string

const (
	// FeeBaseSettled uses the pool snapshot taken at resolution.
	FeeBaseSettled FeeBase = "settled"
	// FeeBaseRemaining uses whatever the market holds at withdrawal time.
	FeeBaseRemaining FeeBase = "remaining"
)

// Params is the immutable engine configuration.
type Params struct {
	CreationPolicy    CreationPolicy
	CreationAuthority common.Address
	ProtocolWallet    common.Address
	ResolverAddress   common.Address

	MaxPriceAge   time.Duration
	CancelWindow  time.Duration
	EnforceExpiry bool
	FeeBase       FeeBase
}

// DefaultParams returns the production defaults. Addresses are left zero and
// must be filled in.
func DefaultParams() Params {
	return Params{
		CreationPolicy: CreationSingleAuthority,
		MaxPriceAge:    300 * time.Second,
		CancelWindow:   6 * time.Hour,
		EnforceExpiry:  true,
		FeeBase:        FeeBaseSettled,
	}
}

// Validate reports every problem with p at once.
func (p Params) Validate() error {
	var errs []string

	switch p.CreationPolicy {
	case CreationOpen:
	case CreationSingleAuthority:
		if p.CreationAuthority == (common.Address{}) {
			errs = append(errs, "creation_authority is required for single_authority policy")
		}
	default:
		errs = append(errs, fmt.Sprintf("creation_policy %q must be open or single_authority", p.CreationPolicy))
	}
	if p.ProtocolWallet == (common.Address{}) {
		errs = append(errs, "protocol_wallet is required")
	}
	if p.MaxPriceAge <= 0 {
		errs = append(errs, "max_price_age must be positive")
	}
	if p.CancelWindow < 0 {
		errs = append(errs, "cancel_window must not be negative")
	}
	switch p.FeeBase {
	case FeeBaseSettled, FeeBaseRemaining:
	default:
		errs = append(errs, fmt.Sprintf("fee_base %q must be settled or remaining", p.FeeBase))
	}

	if len(errs) > 0 {
		return errors.New("settlement: invalid params: " + strings.Join(errs, "; "))
	}
	return nil
}
