package handling

import (
	"crypto/sha256"
	"encoding/hex"

	"screentimed/internal/domain"
)

// AnonymizeNetworkID hashes a raw network identifier with a per-item
// salt. Only the hash is ever persisted, so the category configuration
// never exposes which networks a family uses.
func AnonymizeNetworkID(salt, rawNetworkID string) string {
	sum := sha256.Sum256([]byte(salt + rawNetworkID))
	return hex.EncodeToString(sum[:])
}

// matchesAnyNetwork re-hashes the raw id with each item's own salt and
// compares against the stored hash.
func matchesAnyNetwork(items []domain.CategoryNetwork, rawNetworkID string) bool {
	for _, item := range items {
		if AnonymizeNetworkID(item.Salt, rawNetworkID) == item.HashedID {
			return true
		}
	}
	return false
}
