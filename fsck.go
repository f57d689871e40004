package keg

import (
	"fmt"

	"github.com/ngdp/keg/store"
)

// Fsck sweeps the local object store for stale temp files left by
// interrupted writes, and, when verify is set, removes any finalized
// object whose content no longer hashes to its own key.
func (c *Client) Fsck(verify bool) (*store.RepairReport, error) {
	report, err := c.store.Sweep(verify)
	if err != nil {
		return nil, fmt.Errorf("keg: %w", err)
	}
	return report, nil
}
