package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/bundlestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/configstore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/hashutil"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

const (
	schemaVersion    = 1
	sdkSchemaVersion = 1
)

// BuildOptions modifies a single build call.
type BuildOptions struct {
	// Force skips both cache tiers and always rebuilds from the template.
	Force bool
}

// Builder implements the three-tier-cached routing snapshot build
// described by the runtime's data flow: memory cache, persistent cache,
// rebuild-from-template.
type Builder struct {
	configs      *configstore.Store
	bundles      *bundlestore.Store
	source       ConfigSource
	defaultID    string
	mem          *memCache
	redis        *redisCache
	log          *logger.Logger
}

// NewBuilder constructs a Builder. redisClient may be nil to disable the
// optional L2 cache tier entirely.
func NewBuilder(configs *configstore.Store, bundles *bundlestore.Store, source ConfigSource, defaultTemplateID string, redisClient *redis.Client, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewDefault("snapshot")
	}
	return &Builder{
		configs:   configs,
		bundles:   bundles,
		source:    source,
		defaultID: defaultTemplateID,
		mem:       newMemCache(),
		redis:     newRedisCache(redisClient),
		log:       log,
	}
}

// Build returns the current routing snapshot for chatID, consulting the
// three cache tiers top-down unless opts.Force is set.
func (b *Builder) Build(ctx context.Context, chatID string, opts BuildOptions) (Snapshot, error) {
	configID, effectiveConfig, err := b.resolveEffectiveConfig(ctx, chatID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve effective config for chat %s: %w", chatID, err)
	}
	configHash, err := hashutil.SumJSON(effectiveConfig)
	if err != nil {
		return Snapshot{}, fmt.Errorf("hash effective config: %w", err)
	}

	if !opts.Force {
		if snap, ok := b.mem.get(chatID); ok && snap.ConfigHash == configHash {
			return snap, nil
		}

		if snap, ok, valid := b.tryPersistentTier(ctx, configHash); ok {
			if valid {
				b.mem.put(chatID, snap)
				return snap, nil
			}
			b.log.WithField("configHash", configHash).Warn("persistent snapshot cache entry failed integrity check, rebuilding")
		}

		if snap, ok := b.redis.get(ctx, configHash); ok {
			if verifyIntegrity(snap) {
				b.mem.put(chatID, snap)
				return snap, nil
			}
			b.log.WithField("configHash", configHash).Warn("redis snapshot cache entry failed integrity check, rebuilding")
		}
	}

	snap, err := b.rebuild(ctx, configID, effectiveConfig, configHash)
	if err != nil {
		return Snapshot{}, err
	}

	if err := b.persist(ctx, snap); err != nil {
		b.log.WithField("err", err.Error()).Warn("failed to persist rebuilt snapshot")
	}
	b.mem.put(chatID, snap)
	return snap, nil
}

func (b *Builder) tryPersistentTier(ctx context.Context, configHash string) (Snapshot, bool, bool) {
	rec, err := b.configs.GetSnapshot(ctx, configHash)
	if err != nil {
		return Snapshot{}, false, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(rec.SnapshotJSON), &snap); err != nil {
		return Snapshot{}, true, false
	}
	if snap.ConfigHash != configHash {
		return Snapshot{}, true, false
	}
	if snap.Integrity != rec.IntegrityHash {
		return Snapshot{}, true, false
	}
	if !verifyIntegrity(snap) {
		return Snapshot{}, true, false
	}
	return snap, true, true
}

func verifyIntegrity(snap Snapshot) bool {
	recomputed, err := hashutil.SumJSON(snap.withoutIntegrity())
	if err != nil {
		return false
	}
	return recomputed == snap.Integrity
}

func (b *Builder) persist(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := b.configs.PutSnapshot(ctx, configstore.SnapshotRecord{
		ConfigHash:    snap.ConfigHash,
		SnapshotJSON:  string(raw),
		IntegrityHash: snap.Integrity,
	}); err != nil {
		return err
	}
	b.redis.put(ctx, snap)
	return nil
}

// resolveEffectiveConfig determines the configId bound to chatID (default
// template if unbound) and the effective config document to hash: the
// chat's stored config JSON when present, else an empty override set.
func (b *Builder) resolveEffectiveConfig(ctx context.Context, chatID string) (string, map[string]any, error) {
	cc, err := b.configs.GetChatConfig(ctx, chatID)
	if err == configstore.ErrNotFound {
		return b.defaultID, map[string]any{"configId": b.defaultID}, nil
	}
	if err != nil {
		return "", nil, err
	}

	var overrides map[string]any
	if cc.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(cc.ConfigJSON), &overrides); err != nil {
			return "", nil, fmt.Errorf("parse stored chat config: %w", err)
		}
	}
	effective := map[string]any{"configId": cc.ConfigID, "overrides": overrides}
	return cc.ConfigID, effective, nil
}

func (b *Builder) rebuild(ctx context.Context, configID string, effectiveConfig map[string]any, configHash string) (Snapshot, error) {
	template, err := b.source.FetchTemplate(ctx, configID)
	if err != nil {
		b.log.WithField("configId", configID).WithField("err", err.Error()).Warn("config source fetch failed, falling back to default template")
		template, err = b.source.FetchTemplate(ctx, b.defaultID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: no template available (config and default both failed): %v", ErrBuildFailed, err)
		}
	}

	commands := make(map[string]CommandRoute)
	var listeners []ListenerRoute
	var bundleHashes []string

	for _, svc := range template.Services {
		route, bundleHash, err := b.bundleService(ctx, svc)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: bundle service %s: %v", ErrBuildFailed, svc.ServiceID, err)
		}
		bundleHashes = append(bundleHashes, bundleHash)

		if svc.IsListener {
			listeners = append(listeners, ListenerRoute{
				ServiceID:  route.ServiceID,
				Kind:       route.Kind,
				BundleHash: route.BundleHash,
				Config:     route.Config,
				Meta:       route.Meta,
				Datasets:   route.Datasets,
				Net:        route.Net,
			})
			continue
		}

		token := normalizeToken(svc.Command)
		if _, exists := commands[token]; exists {
			b.log.WithField("token", token).Warn("duplicate command token in config template, last one wins")
		}
		commands[token] = route
	}

	snap := Snapshot{
		Commands:         commands,
		Listeners:        listeners,
		BuiltAt:          time.Now().UTC(),
		SchemaVersion:    schemaVersion,
		SDKSchemaVersion: sdkSchemaVersion,
		ConfigHash:       configHash,
		SourceSig:        hashutil.SumSorted(bundleHashes),
	}

	integrity, err := hashutil.SumJSON(snap.withoutIntegrity())
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: compute integrity: %v", ErrBuildFailed, err)
	}
	snap.Integrity = integrity
	return snap, nil
}

func (b *Builder) bundleService(ctx context.Context, svc ServiceDef) (CommandRoute, string, error) {
	code := inlineSDK(svc.Source)
	hasNpm := detectHasNpm(code)
	bundleHash := hashutil.SumString(code)

	// The sandbox host launches a bundle from a file, so the bundled code is
	// written into a per-bundle temp directory keyed by its hash.
	bundleDir := filepath.Join(os.TempDir(), "botcore-bundles", bundleHash)
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return CommandRoute{}, "", err
	}
	entry := filepath.Join(bundleDir, "index.js")
	if err := os.WriteFile(entry, []byte(code), 0o644); err != nil {
		return CommandRoute{}, "", err
	}
	if err := b.bundles.Put(ctx, bundleHash, code, entry, hasNpm); err != nil {
		return CommandRoute{}, "", err
	}

	serviceID := svc.ServiceID
	if serviceID == RuntimePlaceholderServiceID {
		serviceID = "mock_" + svc.Command
	}

	fileDatasets := loadSiblingDatasets(svc.SourcePath, b.log)
	refs := discoverDatasetRefs(svc.Config)
	datasets := mergeDatasets(fileDatasets, refs)

	route := CommandRoute{
		Token:      normalizeToken(svc.Command),
		ServiceID:  serviceID,
		Kind:       svc.Kind,
		BundleHash: bundleHash,
		Config:     svc.Config,
		Meta: RouteMeta{
			ID:          serviceID,
			Command:     svc.Command,
			Description: svc.Description,
		},
		Datasets: datasets,
		Net:      svc.Net,
	}
	return route, bundleHash, nil
}

// inlineSDK would normally splice in the shared service-SDK runtime code
// ahead of the service source; the SDK surface itself is an out-of-scope
// collaborator, so this is a pass-through that exists to keep the seam
// explicit for when that collaborator is wired in.
func inlineSDK(source string) string {
	return source
}

// detectHasNpm is a conservative heuristic: any require()/import of a
// specifier that isn't relative or a Node builtin is treated as a
// third-party dependency, widening the sandbox's read capability to the
// interpreter's package cache.
func detectHasNpm(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		spec, ok := importSpecifier(line)
		if !ok {
			continue
		}
		if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "node:") {
			continue
		}
		return true
	}
	return false
}

func importSpecifier(line string) (string, bool) {
	markers := []string{`require("`, `require('`, `from "`, `from '`}
	for _, m := range markers {
		if idx := strings.Index(line, m); idx >= 0 {
			rest := line[idx+len(m):]
			if end := strings.IndexAny(rest, `"'`); end >= 0 {
				return rest[:end], true
			}
		}
	}
	return "", false
}

// normalizeToken lower-cases, strips a leading slash, and strips a trailing
// "@botname" suffix from a raw command token.
func normalizeToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.TrimPrefix(token, "/")
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return token
}

// GCOrphans deletes every bundle not referenced by any persisted snapshot.
func (b *Builder) GCOrphans(ctx context.Context) (bundlestore.GCResult, error) {
	return b.bundles.GCOrphans(ctx, b.configs)
}
