package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("MEDIVOICE_TEST_OPENROUTER_KEY", "sk-env")
	path := writeConfig(t, `{
		"providers": {"openai": {"base_url": "https://openrouter.ai/api/v1", "model": "mistralai/mixtral-8x7b-instruct", "api_key_env": "MEDIVOICE_TEST_OPENROUTER_KEY"}},
		"databases": {"sqlite3": {"dsn": "data/medivoice.db"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "openai", cfg.BasicConfig.ReportProvider)
	assert.Equal(t, "openai", cfg.BasicConfig.SuggestProvider)
	assert.Equal(t, "adjacent", cfg.BasicConfig.DedupScope)
	assert.Equal(t, 60, cfg.BasicConfig.LLMTimeoutSeconds)
	assert.Equal(t, "sk-env", cfg.Providers["openai"].APIKey)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/medivoice.db"), cfg.Databases["sqlite3"].DSN)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "no databases",
			body: `{"providers": {"openai": {}}}`,
		},
		{
			name: "unknown report provider",
			body: `{"basic_config": {"report_provider": "claude"}, "providers": {"openai": {}}, "databases": {"sqlite3": {"dsn": ":memory:"}}}`,
		},
		{
			name: "bad dedup scope",
			body: `{"basic_config": {"dedup_scope": "global"}, "providers": {"openai": {}}, "databases": {"sqlite3": {"dsn": ":memory:"}}}`,
		},
		{
			name: "worker bounds",
			body: `{"basic_config": {"min_workers": 8, "max_workers": 2}, "providers": {"openai": {}}, "databases": {"sqlite3": {"dsn": ":memory:"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
