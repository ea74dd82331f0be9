package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, float64(10), cfg.Policy.QPS)
	require.Equal(t, 20, cfg.Policy.Burst)
	require.True(t, cfg.Policy.Watch)
	require.Equal(t, "DocumentChunk", cfg.Weaviate.ClassName)
	require.Equal(t, 30, cfg.Database.AuditRetentionDays)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RAGGATE_SERVER_PORT", "9090")
	t.Setenv("RAGGATE_LLM_MODEL", "gpt-4o")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
}
