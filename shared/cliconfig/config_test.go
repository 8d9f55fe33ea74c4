package cliconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.DefaultWLM)
	assert.Equal(t, api.WLMUnknown, cfg.WLMType())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfgdir")

	cfg := &Config{
		ConfigDir:  dir,
		DefaultWLM: "pals",
		ScratchDir: "/scratch/cti",
		Remotes: map[string]Remote{
			"frontend01": {Hostname: "frontend01.cluster", User: "alice"},
		},
		Aliases: map[string]string{
			"lb": "launch --barrier",
		},
	}

	require.NoError(t, cfg.Save())

	loaded, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "pals", loaded.DefaultWLM)
	assert.Equal(t, "/scratch/cti", loaded.ScratchDir)
	assert.Equal(t, api.WLMPALS, loaded.WLMType())
	assert.Equal(t, "frontend01.cluster", loaded.Remotes["frontend01"].Hostname)
	assert.Equal(t, "launch --barrier", loaded.Aliases["lb"])
}

func TestConfigPathJoinsConfigDir(t *testing.T) {
	cfg := &Config{ConfigDir: "/home/user/.cti"}
	assert.Equal(t, "/home/user/.cti/config.yaml", cfg.ConfigPath("config.yaml"))
}

func TestWLMTypeUnrecognizedIsUnknown(t *testing.T) {
	cfg := &Config{DefaultWLM: "not-a-real-wlm"}
	assert.Equal(t, api.WLMUnknown, cfg.WLMType())
}
