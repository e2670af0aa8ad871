package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// LogClient captures the subset of ethclient used by the fetcher.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies LogClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(ctx context.Context, rpcURL string) (*RPCClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial evm rpc: %v", ErrNodeUnavailable, err)
	}
	return &RPCClient{Client: c}, nil
}

// LogFilter selects the logs of one event emitted by one contract. A nil ToBlock means the
// chain head at query time.
type LogFilter struct {
	Address   common.Address
	Topic0    common.Hash
	FromBlock uint64
	ToBlock   *uint64
}

// NewLogFilter builds a filter and rejects inverted ranges.
func NewLogFilter(address common.Address, topic0 common.Hash, from uint64, to *uint64) (LogFilter, error) {
	f := LogFilter{Address: address, Topic0: topic0, FromBlock: from, ToBlock: to}
	if err := f.Validate(); err != nil {
		return LogFilter{}, err
	}
	return f, nil
}

// Validate checks the block range.
func (f LogFilter) Validate() error {
	if f.ToBlock != nil && f.FromBlock > *f.ToBlock {
		return fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, f.FromBlock, *f.ToBlock)
	}
	return nil
}

func (f LogFilter) query(from uint64, to *uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{f.Address},
		Topics:    [][]common.Hash{{f.Topic0}},
	}
	if to != nil {
		q.ToBlock = new(big.Int).SetUint64(*to)
	}
	return q
}

// Fetcher retrieves raw logs. It performs no decoding and no client-side filtering beyond
// dropping logs the node marks as removed.
type Fetcher struct {
	client  LogClient
	timeout time.Duration
	maxSpan uint64
}

// NewFetcher builds a fetcher. A zero timeout disables the per-call deadline; a zero maxSpan
// queries the whole range in one call.
func NewFetcher(client LogClient, timeout time.Duration, maxSpan uint64) *Fetcher {
	return &Fetcher{client: client, timeout: timeout, maxSpan: maxSpan}
}

// Head returns the latest block number.
func (f *Fetcher) Head(ctx context.Context) (uint64, error) {
	ctx, cancel := f.callContext(ctx)
	defer cancel()
	n, err := f.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrNodeUnavailable, err)
	}
	return n, nil
}

// FetchLogs returns every log matching filter.
func (f *Fetcher) FetchLogs(ctx context.Context, filter LogFilter) ([]types.Log, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if f.maxSpan == 0 {
		return f.filter(ctx, filter, filter.FromBlock, filter.ToBlock)
	}

	to := filter.ToBlock
	if to == nil {
		head, err := f.Head(ctx)
		if err != nil {
			return nil, err
		}
		if head < filter.FromBlock {
			return nil, nil
		}
		to = &head
	}

	var logs []types.Log
	for start := filter.FromBlock; start <= *to; {
		end := start + f.maxSpan - 1
		if end > *to || end < start {
			end = *to
		}
		chunk, err := f.filter(ctx, filter, start, &end)
		if err != nil {
			return nil, err
		}
		logs = append(logs, chunk...)
		if end == *to {
			break
		}
		start = end + 1
	}
	return logs, nil
}

func (f *Fetcher) filter(ctx context.Context, filter LogFilter, from uint64, to *uint64) ([]types.Log, error) {
	ctx, cancel := f.callContext(ctx)
	defer cancel()
	raw, err := f.client.FilterLogs(ctx, filter.query(from, to))
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs from %d to %s: %v", ErrNodeUnavailable, from, blockLabel(to), err)
	}
	logs := raw[:0]
	for _, lg := range raw {
		if lg.Removed {
			continue
		}
		logs = append(logs, lg)
	}
	return logs, nil
}

func (f *Fetcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

func blockLabel(n *uint64) string {
	if n == nil {
		return "latest"
	}
	return strconv.FormatUint(*n, 10)
}

// BlockRef is a block number, the chain head ("latest"), or an offset below the head
// ("latest-N").
type BlockRef struct {
	Number uint64
	Latest bool
	Offset uint64
}

// Block returns a BlockRef for a fixed height.
func Block(n uint64) BlockRef {
	return BlockRef{Number: n}
}

// Latest returns a BlockRef for the chain head.
func Latest() BlockRef {
	return BlockRef{Latest: true}
}

// ParseBlockRef accepts "", "latest", "latest-N" or a decimal height. The empty string is the
// caller's default and parses as latest.
func ParseBlockRef(s string) (BlockRef, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "latest" {
		return Latest(), nil
	}
	if strings.HasPrefix(s, "latest-") {
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "latest-"), 10, 64)
		if err != nil {
			return BlockRef{}, fmt.Errorf("%w: parse block %q: %v", ErrConfig, s, err)
		}
		return BlockRef{Latest: true, Offset: n}, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockRef{}, fmt.Errorf("%w: parse block %q: %v", ErrConfig, s, err)
	}
	return Block(n), nil
}

func (b BlockRef) String() string {
	switch {
	case !b.Latest:
		return strconv.FormatUint(b.Number, 10)
	case b.Offset == 0:
		return "latest"
	default:
		return "latest-" + strconv.FormatUint(b.Offset, 10)
	}
}

// UnmarshalJSON accepts a JSON number or a string understood by ParseBlockRef.
func (b *BlockRef) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = Block(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("block must be a number or string: %w", err)
	}
	ref, err := ParseBlockRef(s)
	if err != nil {
		return err
	}
	*b = ref
	return nil
}

// MarshalJSON encodes fixed heights as numbers and head-relative refs as strings.
func (b BlockRef) MarshalJSON() ([]byte, error) {
	if !b.Latest {
		return json.Marshal(b.Number)
	}
	return json.Marshal(b.String())
}

// ResolveRange turns from/to refs into a filter range. A plain "latest" upper bound stays nil
// so the node resolves it; head-relative refs cost one BlockNumber call.
func (f *Fetcher) ResolveRange(ctx context.Context, from, to BlockRef) (uint64, *uint64, error) {
	var head *uint64
	resolve := func(ref BlockRef) (uint64, error) {
		if !ref.Latest {
			return ref.Number, nil
		}
		if head == nil {
			h, err := f.Head(ctx)
			if err != nil {
				return 0, err
			}
			head = &h
		}
		if ref.Offset > *head {
			return 0, nil
		}
		return *head - ref.Offset, nil
	}

	start, err := resolve(from)
	if err != nil {
		return 0, nil, err
	}
	var end *uint64
	if to.Latest && to.Offset == 0 {
		if head != nil {
			h := *head
			end = &h
		}
	} else {
		n, err := resolve(to)
		if err != nil {
			return 0, nil, err
		}
		end = &n
	}
	if end != nil && start > *end {
		return 0, nil, fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, start, *end)
	}
	return start, end, nil
}
