package snapshot

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/bundlestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/configstore"
)

func newTestBuilder(t *testing.T, source ConfigSource) *Builder {
	t.Helper()
	cs, err := configstore.Open(context.Background(), "file::memory:?cache=shared", configstore.DefaultPoolConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	bs := bundlestore.New(cs.DB(), nil)
	return NewBuilder(cs, bs, source, "default", nil, nil)
}

func helloTemplate() Template {
	return Template{
		ID: "default",
		Services: []ServiceDef{
			{
				ServiceID: "hello-svc",
				Command:   "/Hello@mybot",
				Kind:      KindSingleShot,
				Source:    `function main(input) { return {kind:"reply", text:"hi"}; }`,
			},
		},
	}
}

func TestBuildNormalizesCommandTokens(t *testing.T) {
	source := StaticConfigSource{Templates: map[string]Template{"default": helloTemplate()}}
	b := newTestBuilder(t, source)

	snap, err := b.Build(context.Background(), "chat-1", BuildOptions{})
	require.NoError(t, err)
	require.Contains(t, snap.Commands, "hello")
	require.NotContains(t, snap.Commands, "/Hello@mybot")
}

func TestBuildIsCachedOnSecondCallForSameChat(t *testing.T) {
	source := StaticConfigSource{Templates: map[string]Template{"default": helloTemplate()}}
	b := newTestBuilder(t, source)
	ctx := context.Background()

	first, err := b.Build(ctx, "chat-1", BuildOptions{})
	require.NoError(t, err)
	second, err := b.Build(ctx, "chat-1", BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, first.BuiltAt, second.BuiltAt)
}

func TestBuildReusesPersistentCacheAcrossChatsWithIdenticalConfig(t *testing.T) {
	source := StaticConfigSource{Templates: map[string]Template{"default": helloTemplate()}}
	b := newTestBuilder(t, source)
	ctx := context.Background()

	snapA, err := b.Build(ctx, "chat-a", BuildOptions{})
	require.NoError(t, err)
	snapB, err := b.Build(ctx, "chat-b", BuildOptions{})
	require.NoError(t, err)

	require.Equal(t, snapA.ConfigHash, snapB.ConfigHash)
	require.Equal(t, snapA.SourceSig, snapB.SourceSig)

	var count int
	require.NoError(t, b.configs.DB().Get(&count, `SELECT COUNT(*) FROM snapshots_by_config`))
	require.Equal(t, 1, count)
}

func TestBuildComputesVerifiableIntegrityHash(t *testing.T) {
	source := StaticConfigSource{Templates: map[string]Template{"default": helloTemplate()}}
	b := newTestBuilder(t, source)

	snap, err := b.Build(context.Background(), "chat-1", BuildOptions{})
	require.NoError(t, err)
	require.True(t, verifyIntegrity(snap))
}

func TestBuildFallsBackToDefaultTemplateOnFetchFailure(t *testing.T) {
	source := StaticConfigSource{Templates: map[string]Template{"default": helloTemplate()}}
	b := newTestBuilder(t, source)
	ctx := context.Background()

	require.NoError(t, b.configs.UpsertChatConfig(ctx, configstore.ChatConfig{
		ChatID:     "chat-missing",
		ConfigID:   "does-not-exist",
		ConfigJSON: `{}`,
		ConfigHash: "irrelevant",
	}))

	snap, err := b.Build(ctx, "chat-missing", BuildOptions{})
	require.NoError(t, err)
	require.Contains(t, snap.Commands, "hello")
}

func TestBuildRoutesListenersSeparatelyFromCommands(t *testing.T) {
	tmpl := helloTemplate()
	tmpl.Services = append(tmpl.Services, ServiceDef{
		ServiceID: "listener-svc",
		IsListener: true,
		Kind:      KindSingleShot,
		Source:    `function main(input) { return {kind:"none"}; }`,
	})
	source := StaticConfigSource{Templates: map[string]Template{"default": tmpl}}
	b := newTestBuilder(t, source)

	snap, err := b.Build(context.Background(), "chat-1", BuildOptions{})
	require.NoError(t, err)
	require.Len(t, snap.Listeners, 1)
	require.Len(t, snap.Commands, 1)
}

func TestNormalizeTokenStripsSlashAndBotSuffix(t *testing.T) {
	require.Equal(t, "hello", normalizeToken("/Hello@mybot"))
	require.Equal(t, "start", normalizeToken("START"))
}

func TestDetectHasNpmFlagsNonRelativeImports(t *testing.T) {
	require.True(t, detectHasNpm(`const axios = require("axios");`))
	require.False(t, detectHasNpm(`const util = require("./util");`))
	require.False(t, detectHasNpm(`import fs from "node:fs";`))
}

func TestDiscoverDatasetRefsFindsNestedRefs(t *testing.T) {
	config := json.RawMessage(`{"widgets":[{"dataset":{"ref":"ext://prices"}},{"other":1}]}`)
	refs := discoverDatasetRefs(config)
	require.Len(t, refs, 1)
	require.Equal(t, "ext://prices", refs[0].Ref)
}
