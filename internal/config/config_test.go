package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/sandboxhost"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "default", cfg.DefaultTemplateID)
	require.Equal(t, sandboxhost.ModeSubprocess, cfg.SandboxMode)
	require.Equal(t, 86400*time.Second, cfg.ApprovalTimeout)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("DEFAULT_TEMPLATE_ID", "custom")
	t.Setenv("SANDBOX_MODE", "inprocess")
	t.Setenv("PUBKY_APPROVAL_TIMEOUT", "60")
	t.Setenv("SANDBOX_MAX_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "custom", cfg.DefaultTemplateID)
	require.Equal(t, sandboxhost.ModeInprocess, cfg.SandboxMode)
	require.Equal(t, 60*time.Second, cfg.ApprovalTimeout)
	require.Equal(t, 8, cfg.SandboxMaxConcurrency)
}

func TestLoadRejectsInvalidTimeout(t *testing.T) {
	t.Setenv("PUBKY_APPROVAL_TIMEOUT", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}
