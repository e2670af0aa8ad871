package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/ethereum/go-ethereum/common"
)

// RunRequest asks for one bounded ingestion of an event emitted by a contract. Nil block refs
// fall back to the runner defaults.
type RunRequest struct {
	Contract  string          `json:"contract_address"`
	ABI       json.RawMessage `json:"abi"`
	EventName string          `json:"event_name"`
	FromBlock *evm.BlockRef   `json:"from_block,omitempty"`
	ToBlock   *evm.BlockRef   `json:"to_block,omitempty"`
}

// Validate checks the request shape. It does not parse the ABI.
func (r RunRequest) Validate() error {
	if !common.IsHexAddress(strings.TrimSpace(r.Contract)) {
		return fmt.Errorf("%w: contract_address %q is not a hex address", evm.ErrConfig, r.Contract)
	}
	if raw := bytes.TrimSpace(r.ABI); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: abi is required", evm.ErrConfig)
	}
	if strings.TrimSpace(r.EventName) == "" {
		return fmt.Errorf("%w: event_name is required", evm.ErrConfig)
	}
	return nil
}

// Address returns the contract address.
func (r RunRequest) Address() common.Address {
	return common.HexToAddress(strings.TrimSpace(r.Contract))
}
