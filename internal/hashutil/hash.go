// Package hashutil provides the content-hashing primitives shared by the
// bundle store, snapshot builder, and config store. Every "contentHash"
// mentioned in the routing snapshot design is produced here so that hash
// derivation stays in one place.
package hashutil

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Sum returns the lower-case hex BLAKE2b-256 digest of data.
func Sum(data []byte) string {
	digest := blake2b.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// SumString is a convenience wrapper around Sum for string inputs.
func SumString(data string) string {
	return Sum([]byte(data))
}

// SumJSON canonicalizes v (via encoding/json, whose map key ordering is
// already deterministic) and returns its content hash. Used for configHash
// and snapshot integrity, where the input is a Go value rather than raw
// bytes.
func SumJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Sum(data), nil
}

// SumSorted joins the given strings in sorted order with "|" and hashes the
// result. Used for sourceSig = contentHash(sort(bundleHashes).join("|")).
func SumSorted(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	joined := ""
	for i, v := range sorted {
		if i > 0 {
			joined += "|"
		}
		joined += v
	}
	return SumString(joined)
}
