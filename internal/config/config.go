// Package config centralizes every environment read into a single record
// built once at process start, per the "ambient global config" design
// note: components take a *Config dependency, they never re-read the
// environment inside a request path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/sandboxhost"
)

// Config is the runtime's resolved environment.
type Config struct {
	// DefaultTemplateID is the config id used for never-bound chats.
	DefaultTemplateID string
	// LocalDBURL is the SQLite DSN for the config store.
	LocalDBURL string
	// ApprovalTimeout holds PUBKY_APPROVAL_TIMEOUT. The approval queue does
	// not read it: requests without a TTL get the queue's own 24h default.
	ApprovalTimeout time.Duration

	SandboxMode            sandboxhost.Mode
	SandboxInterpreterPath string
	SandboxMaxConcurrency  int

	AdminHTTPAddr  string
	AdminJWTSecret string

	SnapshotRedisURL string

	// ConfigTemplateDir is where FileConfigSource looks up "<configId>.json"
	// templates. ApprovalWriteDir is where the local approval Writer stand-in
	// persists approved writes. ApprovalSweepCron drives the expired-write
	// sweep schedule.
	ConfigTemplateDir string
	ApprovalWriteDir  string
	ApprovalSweepCron string
}

const (
	envDefaultTemplateID = "DEFAULT_TEMPLATE_ID"
	envLocalDBURL        = "LOCAL_DB_URL"
	envApprovalTimeout   = "PUBKY_APPROVAL_TIMEOUT"
	envSandboxMode       = "SANDBOX_MODE"
	envInterpreterPath   = "SANDBOX_INTERPRETER_PATH"
	envMaxConcurrency    = "SANDBOX_MAX_CONCURRENCY"
	envAdminHTTPAddr     = "ADMIN_HTTP_ADDR"
	envAdminJWTSecret    = "ADMIN_JWT_SECRET"
	envSnapshotRedisURL  = "SNAPSHOT_REDIS_URL"
	envConfigTemplateDir = "CONFIG_TEMPLATE_DIR"
	envApprovalWriteDir  = "APPROVAL_WRITE_DIR"
	envApprovalSweepCron = "APPROVAL_SWEEP_CRON"

	defaultApprovalTimeoutSeconds = 86400
)

// Load builds a Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		DefaultTemplateID:      getOr(envDefaultTemplateID, "default"),
		LocalDBURL:             getOr(envLocalDBURL, "botcore.sqlite"),
		SandboxMode:            sandboxhost.Mode(getOr(envSandboxMode, string(sandboxhost.ModeSubprocess))),
		SandboxInterpreterPath: os.Getenv(envInterpreterPath),
		AdminHTTPAddr:          getOr(envAdminHTTPAddr, ":8081"),
		AdminJWTSecret:         os.Getenv(envAdminJWTSecret),
		SnapshotRedisURL:       os.Getenv(envSnapshotRedisURL),
		ConfigTemplateDir:      getOr(envConfigTemplateDir, "templates"),
		ApprovalWriteDir:       getOr(envApprovalWriteDir, "approved-writes"),
		ApprovalSweepCron:      getOr(envApprovalSweepCron, "@every 1m"),
	}

	timeoutSeconds, err := getIntOr(envApprovalTimeout, defaultApprovalTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envApprovalTimeout, err)
	}
	cfg.ApprovalTimeout = time.Duration(timeoutSeconds) * time.Second

	maxConcurrency, err := getIntOr(envMaxConcurrency, 0)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envMaxConcurrency, err)
	}
	cfg.SandboxMaxConcurrency = maxConcurrency

	return cfg, nil
}

func getOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
