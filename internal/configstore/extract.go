package configstore

import "github.com/tidwall/gjson"

// extractBundleHashes pulls every bundleHash referenced by a serialized
// routing snapshot: one per command route and one per listener route.
// Using gjson here avoids unmarshalling the snapshot into the full
// CommandRoute/ListenerRoute Go types just to read one field across two
// differently-shaped collections (a map and an array).
func extractBundleHashes(snapshotJSON string) []string {
	var hashes []string

	commands := gjson.Get(snapshotJSON, "commands")
	if commands.IsObject() {
		commands.ForEach(func(_, route gjson.Result) bool {
			if h := route.Get("bundleHash"); h.Exists() && h.String() != "" {
				hashes = append(hashes, h.String())
			}
			return true
		})
	}

	listeners := gjson.Get(snapshotJSON, "listeners")
	if listeners.IsArray() {
		listeners.ForEach(func(_, route gjson.Result) bool {
			if h := route.Get("bundleHash"); h.Exists() && h.String() != "" {
				hashes = append(hashes, h.String())
			}
			return true
		})
	}

	return hashes
}
