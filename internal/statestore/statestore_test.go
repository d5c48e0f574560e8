package statestore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOnUnknownKeyReturnsEmptySnapshot(t *testing.T) {
	s := New()
	snap := s.Get("chat:1")
	assert.Empty(t, snap.Value)
	assert.Empty(t, snap.ActiveFlow)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestApplyReplaceOverwrites(t *testing.T) {
	s := New()
	s.Apply("chat:1", DirectiveReplace, map[string]any{"step": 1})
	snap := s.Apply("chat:1", DirectiveReplace, map[string]any{"step": 2})
	require.Equal(t, 2, snap.Value["step"])
	assert.Equal(t, uint64(2), snap.Version)
}

func TestApplyMergeKeepsExistingKeys(t *testing.T) {
	s := New()
	s.Apply("chat:1", DirectiveReplace, map[string]any{"a": 1, "b": 2})
	snap := s.Apply("chat:1", DirectiveMerge, map[string]any{"b": 3, "c": 4})
	assert.Equal(t, 1, snap.Value["a"])
	assert.Equal(t, 3, snap.Value["b"])
	assert.Equal(t, 4, snap.Value["c"])
}

func TestApplyClearWipesValueAndActiveFlow(t *testing.T) {
	s := New()
	s.Apply("chat:1", DirectiveReplace, map[string]any{"a": 1})
	s.SetActiveFlow("chat:1", "flow-1")

	snap := s.Apply("chat:1", DirectiveClear, nil)
	assert.Empty(t, snap.Value)
	assert.Empty(t, s.ActiveFlow("chat:1"))
}

func TestSnapshotIsACopyNotALiveView(t *testing.T) {
	s := New()
	s.Apply("chat:1", DirectiveReplace, map[string]any{"a": 1})
	snap := s.Get("chat:1")
	snap.Value["a"] = 999

	fresh := s.Get("chat:1")
	assert.Equal(t, 1, fresh.Value["a"])
}

func TestActiveFlowRoundTrip(t *testing.T) {
	s := New()
	assert.Empty(t, s.ActiveFlow("chat:1"))
	s.SetActiveFlow("chat:1", "awaiting-name")
	assert.Equal(t, "awaiting-name", s.ActiveFlow("chat:1"))
	s.SetActiveFlow("chat:1", "")
	assert.Empty(t, s.ActiveFlow("chat:1"))
}

func TestDeleteRemovesEntryEntirely(t *testing.T) {
	s := New()
	s.Apply("chat:1", DirectiveReplace, map[string]any{"a": 1})
	s.SetActiveFlow("chat:1", "flow-1")
	s.Delete("chat:1")

	snap := s.Get("chat:1")
	assert.Empty(t, snap.Value)
	assert.Empty(t, snap.ActiveFlow)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestConcurrentAccessAcrossDistinctKeysDoesNotRace(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "chat:" + string(rune('a'+i%26))
			s.Apply(key, DirectiveMerge, map[string]any{"n": i})
		}(i)
	}
	wg.Wait()
}
