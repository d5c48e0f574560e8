// Package snapshot builds, caches, and invalidates per-chat routing
// snapshots: the immutable map from command tokens and listener order to
// content-addressed service bundles that the dispatcher consults on every
// event.
package snapshot

import (
	"encoding/json"
	"time"
)

// Kind distinguishes single-invocation services from stateful multi-step
// ones, which must accept both command and message events for the same
// active flow.
type Kind string

const (
	KindSingleShot Kind = "single-shot"
	KindMultiStep  Kind = "multi-step"
)

// RouteMeta is the display metadata attached to a route.
type RouteMeta struct {
	ID          string `json:"id"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
}

// CommandRoute binds a normalized command token to a service.
type CommandRoute struct {
	Token      string          `json:"token"`
	ServiceID  string          `json:"serviceId"`
	Kind       Kind            `json:"kind"`
	BundleHash string          `json:"bundleHash"`
	Config     json.RawMessage `json:"config,omitempty"`
	Meta       RouteMeta       `json:"meta"`
	Datasets   map[string]any  `json:"datasets,omitempty"`
	Net        []string        `json:"net,omitempty"`
}

// ListenerRoute receives any non-command message when no multi-step flow is
// active. Listeners are tried in declared order; the first non-empty
// response wins.
type ListenerRoute struct {
	ServiceID  string          `json:"serviceId"`
	Kind       Kind            `json:"kind"`
	BundleHash string          `json:"bundleHash"`
	Config     json.RawMessage `json:"config,omitempty"`
	Meta       RouteMeta       `json:"meta"`
	Datasets   map[string]any  `json:"datasets,omitempty"`
	Net        []string        `json:"net,omitempty"`
}

// Snapshot is the immutable routing table for one chat at one point in
// time. Everything a dispatch needs, besides the bundle's code itself, is
// present in this value; no further config lookups happen at dispatch time.
type Snapshot struct {
	Commands         map[string]CommandRoute `json:"commands"`
	Listeners        []ListenerRoute         `json:"listeners"`
	BuiltAt          time.Time               `json:"builtAt"`
	SchemaVersion    int                     `json:"schemaVersion"`
	SDKSchemaVersion int                     `json:"sdkSchemaVersion"`
	SourceSig        string                  `json:"sourceSig"`
	ConfigHash       string                  `json:"configHash"`
	Integrity        string                  `json:"integrity"`
}

// withoutIntegrity returns a shallow copy of the snapshot with Integrity
// zeroed, the value the integrity hash is computed over.
func (s Snapshot) withoutIntegrity() Snapshot {
	s.Integrity = ""
	return s
}
