package evm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrConfig marks a run request or interface description that cannot be ingested.
	ErrConfig = errors.New("config error")
	// ErrInvalidRange is returned when fromBlock is above toBlock.
	ErrInvalidRange = errors.New("invalid block range")
	// ErrNodeUnavailable wraps node transport failures and timeouts; callers may retry.
	ErrNodeUnavailable = errors.New("node unavailable")
	// ErrMalformedLog signals a log whose topics or data do not fit the event's parameter list.
	ErrMalformedLog = errors.New("malformed log")
)

// IsRetryable reports whether err is a transient node failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNodeUnavailable)
}

// HashedTopic is the topic word of an indexed reference-type parameter (string, bytes, array,
// tuple). Only the keccak256 of the original value is on chain.
type HashedTopic struct {
	Hash common.Hash
}

func (h HashedTopic) String() string {
	return h.Hash.Hex()
}

// Record is one decoded log. Fields hold parameter name -> value in declaration order.
type Record struct {
	EventName   string
	Fields      *orderedmap.OrderedMap[string, any]
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}
