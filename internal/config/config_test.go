package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	fn()
}

func TestLoad_MissingAPIKeyIsFatal(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	withEnv(t, map[string]string{"OPENAI_API_KEY": "sk-test"}, func() {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultUpstreamModel, cfg.UpstreamModel)
		assert.Equal(t, DefaultPort, cfg.Port)
		assert.Equal(t, DefaultLogDir, cfg.LogDir)
		assert.False(t, cfg.LogEvents)
		assert.Equal(t, 0, cfg.RequestTimeoutMS)
	})
}

func TestLoad_Overrides(t *testing.T) {
	withEnv(t, map[string]string{
		"OPENAI_API_KEY":      "sk-test",
		"OPENAI_MODEL":        "gpt-4.1-mini",
		"PORT":                "9090",
		"LOG_EVENTS":          "true",
		"LOG_DIR":             "/tmp/events",
		"REQUEST_TIMEOUT_MS":  "5000",
	}, func() {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1-mini", cfg.UpstreamModel)
		assert.Equal(t, 9090, cfg.Port)
		assert.True(t, cfg.LogEvents)
		assert.Equal(t, "/tmp/events", cfg.LogDir)
		assert.Equal(t, 5000, cfg.RequestTimeoutMS)
	})
}

func TestLoad_InvalidPort(t *testing.T) {
	withEnv(t, map[string]string{"OPENAI_API_KEY": "sk-test", "PORT": "notaport"}, func() {
		_, err := Load()
		require.Error(t, err)
	})
}

func TestManager_GetReturnsCachedValue(t *testing.T) {
	withEnv(t, map[string]string{"OPENAI_API_KEY": "sk-test"}, func() {
		m, err := NewManager()
		require.NoError(t, err)
		assert.Equal(t, DefaultUpstreamModel, m.Get().UpstreamModel)
	})
}
