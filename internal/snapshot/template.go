package snapshot

import (
	"context"
	"encoding/json"
)

// RuntimePlaceholderServiceID is the sentinel a config template uses when a
// service's identity is only known at manifest-introspection time (the
// runtime substitutes "mock_" + command for these, matching the source
// system's own placeholder convention).
const RuntimePlaceholderServiceID = "__RUNTIME__"

// ServiceDef is one declared service inside a configuration template,
// before bundling.
type ServiceDef struct {
	ServiceID   string          `json:"serviceId"`
	Command     string          `json:"command,omitempty"`
	Description string          `json:"description,omitempty"`
	Kind        Kind            `json:"kind"`
	IsListener  bool            `json:"isListener"`
	Source      string          `json:"source"`
	SourcePath  string          `json:"sourcePath,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Net         []string        `json:"net,omitempty"`
}

// Template is a declarative configuration: the set of services bound to
// command tokens plus listeners, before any bundling has happened.
type Template struct {
	ID       string       `json:"id"`
	Services []ServiceDef `json:"services"`
}

// ConfigSource is the external, out-of-scope collaborator that resolves a
// configId into a parsed Template. Its failures are handled by falling back
// to the built-in default template.
type ConfigSource interface {
	FetchTemplate(ctx context.Context, configID string) (Template, error)
}

// StaticConfigSource serves a fixed set of templates from memory, useful
// for tests and as the always-available default-template fallback.
type StaticConfigSource struct {
	Templates map[string]Template
}

// FetchTemplate implements ConfigSource.
func (s StaticConfigSource) FetchTemplate(_ context.Context, configID string) (Template, error) {
	t, ok := s.Templates[configID]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return t, nil
}
