// Package chainlink reads prices from Chainlink aggregator contracts over
// JSON-RPC.
package chainlink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

const aggregatorABI = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

// FeedResolver maps a feed ID to its registration.
type FeedResolver interface {
	Get(ctx context.Context, id string) (domain.Feed, error)
}

// Round is one latestRoundData result.
type Round struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// Oracle implements domain.Oracle by calling latestRoundData on the
// aggregator registered as the feed's source. Successful reads are written
// through to cache when one is set.
type Oracle struct {
	caller ethereum.ContractCaller
	feeds  FeedResolver
	cache  domain.PriceCache
	clock  domain.Clock
}

// Dial connects to rpcURL and returns an Oracle with a close func.
func Dial(ctx context.Context, rpcURL string, feeds FeedResolver, cache domain.PriceCache, clock domain.Clock) (*Oracle, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chainlink: dial %s: %w", rpcURL, err)
	}
	return New(client, feeds, cache, clock), client.Close, nil
}

// New creates an Oracle over an existing contract caller. cache may be nil.
func New(caller ethereum.ContractCaller, feeds FeedResolver, cache domain.PriceCache, clock domain.Clock) *Oracle {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Oracle{caller: caller, feeds: feeds, cache: cache, clock: clock}
}

// GetPrice implements domain.Oracle. The price is the raw aggregator answer
// in the feed's own decimals.
func (o *Oracle) GetPrice(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceQuote, error) {
	feed, err := o.feeds.Get(ctx, feedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceQuote{}, fmt.Errorf("chainlink: feed %s: %w", feedID, domain.ErrPriceUnavailable)
		}
		return domain.PriceQuote{}, fmt.Errorf("chainlink: feed %s: %w", feedID, err)
	}

	round, err := o.LatestRound(ctx, feed.Source)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("chainlink: %s: %w: %w", feedID, domain.ErrPriceUnavailable, err)
	}
	if round.UpdatedAt.Unix() == 0 || round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return domain.PriceQuote{}, fmt.Errorf("chainlink: %s round %s incomplete: %w", feedID, round.RoundID, domain.ErrPriceStale)
	}
	if maxAge > 0 && o.clock.Now().Sub(round.UpdatedAt) > maxAge {
		return domain.PriceQuote{}, fmt.Errorf("chainlink: %s updated %s: %w", feedID, round.UpdatedAt.Format(time.RFC3339), domain.ErrPriceStale)
	}
	if !round.Answer.IsInt64() {
		return domain.PriceQuote{}, fmt.Errorf("chainlink: %s answer %s out of range: %w", feedID, round.Answer, domain.ErrPriceUnavailable)
	}

	q := domain.PriceQuote{FeedID: feedID, Price: round.Answer.Int64(), PublishedAt: round.UpdatedAt}
	if o.cache != nil {
		// Write-through is best effort.
		_ = o.cache.SetPrice(ctx, feedID, q.Price, q.PublishedAt)
	}
	return q, nil
}

// LatestRound calls latestRoundData on aggregator.
func (o *Oracle) LatestRound(ctx context.Context, aggregator common.Address) (Round, error) {
	out, err := o.call(ctx, aggregator, "latestRoundData")
	if err != nil {
		return Round{}, err
	}
	if len(out) != 5 {
		return Round{}, fmt.Errorf("chainlink: latestRoundData returned %d values", len(out))
	}
	roundID, ok1 := out[0].(*big.Int)
	answer, ok2 := out[1].(*big.Int)
	startedAt, ok3 := out[2].(*big.Int)
	updatedAt, ok4 := out[3].(*big.Int)
	answeredIn, ok5 := out[4].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Round{}, fmt.Errorf("chainlink: latestRoundData: unexpected types")
	}
	return Round{
		RoundID:         roundID,
		Answer:          answer,
		StartedAt:       time.Unix(startedAt.Int64(), 0).UTC(),
		UpdatedAt:       time.Unix(updatedAt.Int64(), 0).UTC(),
		AnsweredInRound: answeredIn,
	}, nil
}

// Decimals reads the aggregator's answer precision.
func (o *Oracle) Decimals(ctx context.Context, aggregator common.Address) (uint8, error) {
	out, err := o.call(ctx, aggregator, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink: decimals: unexpected type %T", out[0])
	}
	return d, nil
}

func (o *Oracle) call(ctx context.Context, to common.Address, method string) ([]any, error) {
	data, err := parsedABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("chainlink: pack %s: %w", method, err)
	}
	raw, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainlink: call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := parsedABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chainlink: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chainlink: %s returned nothing", method)
	}
	return out, nil
}
