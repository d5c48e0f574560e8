package sandboxhost

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveDeadlineClampsToBounds(t *testing.T) {
	assert.Equal(t, defaultTimeoutMs*time.Millisecond, effectiveDeadline(Capabilities{}))
	assert.Equal(t, minTimeoutMs*time.Millisecond, effectiveDeadline(Capabilities{TimeoutMs: 1}))
	assert.Equal(t, maxTimeoutMs*time.Millisecond, effectiveDeadline(Capabilities{TimeoutMs: 999999}))
	assert.Equal(t, 500*time.Millisecond, effectiveDeadline(Capabilities{TimeoutMs: 500}))
}

func TestFilterAllowedHostsStripsWildcardsAndCaps(t *testing.T) {
	hosts := filterAllowedHosts([]string{"*", "a.example", "b.example", "c.example", "d.example", "e.example", "f.example"})
	assert.Equal(t, []string{"a.example", "b.example", "c.example", "d.example", "e.example"}, hosts)
}

func writeEntry(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.js")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestInprocessEngineReturnsParsedJSONValue(t *testing.T) {
	entry := writeEntry(t, `function main(input) { return {kind: "reply", text: "hi " + input.name}; }`)
	h := New(Config{Mode: ModeInprocess}, nil)

	result := h.Run(context.Background(), entry, []byte(`{"name":"bob"}`), Capabilities{})
	require.True(t, result.OK)
	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "reply", value["kind"])
	assert.Equal(t, "hi bob", value["text"])
}

func TestInprocessEngineMissingEntryPointErrors(t *testing.T) {
	entry := writeEntry(t, `var notMain = function() {};`)
	h := New(Config{Mode: ModeInprocess}, nil)

	result := h.Run(context.Background(), entry, []byte(`{}`), Capabilities{})
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "not a function")
}

func TestInprocessEngineInvalidPayloadJSONErrors(t *testing.T) {
	entry := writeEntry(t, `function main(input) { return {}; }`)
	h := New(Config{Mode: ModeInprocess}, nil)

	result := h.Run(context.Background(), entry, []byte(`not-json`), Capabilities{})
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "invalid JSON")
}

func TestInprocessEngineThrowingScriptErrors(t *testing.T) {
	entry := writeEntry(t, `function main(input) { throw new Error("boom"); }`)
	h := New(Config{Mode: ModeInprocess}, nil)

	result := h.Run(context.Background(), entry, []byte(`{}`), Capabilities{})
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "boom")
}

func TestSubprocessEngineWithoutInterpreterPathErrors(t *testing.T) {
	h := New(Config{Mode: ModeSubprocess, InterpreterPath: ""}, nil)
	result := h.Run(context.Background(), "/tmp/whatever", []byte(`{}`), Capabilities{})
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "misconfigured")
}

func TestBuildEnvNeverForwardsFullParentEnvironment(t *testing.T) {
	t.Setenv("SOME_SECRET_TOKEN", "super-secret")
	env := buildEnv(Capabilities{})
	for _, kv := range env {
		assert.NotContains(t, kv, "super-secret")
	}
}

func TestBuildEnvIncludesAllowedHostsWhenNetCapabilityGranted(t *testing.T) {
	env := buildEnv(Capabilities{Net: []string{"api.example.com"}})
	found := false
	for _, kv := range env {
		if kv == "SANDBOX_ALLOWED_HOSTS=api.example.com" {
			found = true
		}
	}
	assert.True(t, found)
}
