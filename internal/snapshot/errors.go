package snapshot

import "errors"

var (
	// ErrTemplateNotFound is returned by a ConfigSource that has no
	// template for the requested configId.
	ErrTemplateNotFound = errors.New("snapshot: config template not found")
	// ErrBuildFailed wraps the single-service bundling failure that failed
	// an entire rebuild. A snapshot is all-or-nothing: routing is never
	// partial.
	ErrBuildFailed = errors.New("snapshot: build failed")
)
