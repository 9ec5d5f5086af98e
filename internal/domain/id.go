package domain

import "fmt"

// DedupKey = "<tx_hash>:<asset_id>:<quantity>"
//
// Keying by tx hash collapses two identical fills (same asset, same
// quantity) settled in a single transaction; that collision class is
// accepted.
func DedupKey(txHash, assetID string, quantity int) string {
	return fmt.Sprintf("%s:%s:%d", txHash, assetID, quantity)
}

// RecordKey derives the dedup key for one asset unit sale. The key must
// be rebuildable from the persisted CSV, and categories without a
// quantity column drop the quantity on disk, so the key pins it to 1
// there.
func (c Category) RecordKey(txHash, assetID string, quantity int) string {
	if !c.WithQuantity {
		quantity = 1
	}
	return DedupKey(txHash, assetID, quantity)
}
