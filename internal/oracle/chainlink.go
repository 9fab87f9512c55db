package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkFeed maps a symbol to an aggregator contract.
type ChainlinkFeed struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
	// Invert is set for XXX/USD aggregators so the result is USD/XXX.
	Invert bool `mapstructure:"invert"`
}

// DefaultChainlinkFeeds returns the Ethereum mainnet USD FX aggregators.
func DefaultChainlinkFeeds() []ChainlinkFeed {
	return []ChainlinkFeed{
		{Symbol: "CAD", Address: "0xa34317DB73e77d453b1B8d04550c44D10e981C8e", Decimals: 8},
		{Symbol: "EUR", Address: "0xb49f677943BC038e9857d61E7d053CaA2C1734C1", Decimals: 8, Invert: true},
		{Symbol: "GBP", Address: "0x5c0Ab2d9b5a7ed9f470386e82BB36A3613cDd4b5", Decimals: 8, Invert: true},
		{Symbol: "JPY", Address: "0xBcE206caE7f0ec07b545EddE332A47C2F75bbeb3", Decimals: 8},
		{Symbol: "AUD", Address: "0x77F9710E7d0A19669A13c055F62cd80d313dF022", Decimals: 8, Invert: true},
	}
}

// ChainlinkOptions parameterise the on-chain source.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   []ChainlinkFeed
	MaxAge  time.Duration
	Timeout time.Duration
}

type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Chainlink reads aggregator answers over Ethereum JSON-RPC.
type Chainlink struct {
	opts   ChainlinkOptions
	feeds  map[string]ChainlinkFeed
	logger zerolog.Logger
	clock  func() time.Time

	caller    contractCaller
	clientMux sync.Mutex
}

// NewChainlink builds a Chainlink source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	if opts.Feeds == nil {
		opts.Feeds = DefaultChainlinkFeeds()
	}
	feeds := make(map[string]ChainlinkFeed, len(opts.Feeds))
	for _, f := range opts.Feeds {
		if f.Decimals == 0 {
			f.Decimals = 8
		}
		feeds[strings.ToUpper(f.Symbol)] = f
	}
	return &Chainlink{
		opts:   opts,
		feeds:  feeds,
		logger: logger.With().Str("component", "chainlink_source").Logger(),
		clock:  time.Now,
	}
}

// Name implements Source.
func (c *Chainlink) Name() string { return "chainlink" }

// Fetch implements Source.
func (c *Chainlink) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	feed, ok := c.feeds[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("chainlink: %w: %s", ErrUnsupportedSymbol, symbol)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}
	addr := common.HexToAddress(feed.Address)
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("chainlink %s: %w", feed.Symbol, err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("chainlink %s: decode: %w", feed.Symbol, err)
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode latestRoundData updatedAt")
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("chainlink %s: non-positive answer %s", feed.Symbol, answer)
	}
	if c.opts.MaxAge > 0 {
		age := c.clock().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > c.opts.MaxAge {
			return decimal.Decimal{}, fmt.Errorf("chainlink %s: answer is stale (%s old)", feed.Symbol, age.Round(time.Second))
		}
	}

	value := decimal.NewFromBigInt(answer, -feed.Decimals)
	if feed.Invert {
		value = decimal.NewFromInt(1).DivRound(value, 12)
	}
	c.logger.Debug().Str("symbol", feed.Symbol).Str("value", value.String()).Msg("aggregator answer")
	return value, nil
}

func (c *Chainlink) getCaller(ctx context.Context) (contractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ Source = (*Chainlink)(nil)
