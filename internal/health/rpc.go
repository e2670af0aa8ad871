package health

import (
	"context"
	"fmt"

	"github.com/devblac/abi-indexer/internal/source/evm"
)

// NodePing returns a check that asks the node for its head block.
func NodePing(client evm.LogClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("%w: no node client", evm.ErrNodeUnavailable)
		}
		if _, err := client.BlockNumber(ctx); err != nil {
			return fmt.Errorf("%w: %v", evm.ErrNodeUnavailable, err)
		}
		return nil
	}
}
