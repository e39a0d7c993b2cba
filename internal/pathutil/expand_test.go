package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_HomeShortcut(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := Expand("~/.cosmo/mcp_config.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cosmo", "mcp_config.json"), got)
}

func TestExpand_EnvVar(t *testing.T) {
	t.Setenv("COSMO_PATH_TEST", "/tmp/cosmo-path")

	got, err := Expand("$COSMO_PATH_TEST/logs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/cosmo-path/logs"), got)
}

func TestExpand_HomeEnvTilde(t *testing.T) {
	t.Setenv("HOME", "~")

	got, err := Expand("~/.cosmo/config.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.NotEqual(t, byte('~'), got[0])
}

func TestExpand_EnvRefAndTildeUser(t *testing.T) {
	t.Setenv("COSMO_STATE_DIR", "/var/lib/cosmo")

	got, err := Expand("${env:COSMO_STATE_DIR}/tool_states.json")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cosmo/tool_states.json", got)

	got, err = Expand("~other/file")
	require.NoError(t, err)
	assert.Equal(t, "~other/file", got)
}

func TestExpand_Empty(t *testing.T) {
	got, err := Expand("   ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpandEnvRefs(t *testing.T) {
	t.Setenv("COSMO_TEST_TOKEN", "secret")

	assert.Equal(t, "Bearer secret", ExpandEnvRefs("Bearer ${env:COSMO_TEST_TOKEN}"))
	assert.Equal(t, "--dir=/data/", ExpandEnvRefs("--dir=/data/${env:COSMO_DEFINITELY_UNSET}"))
	assert.Equal(t, "$HOME stays", ExpandEnvRefs("$HOME stays"))
}

func TestExpandEnvRefsWith(t *testing.T) {
	lookup := func(name string) string {
		return map[string]string{"A": "1", "B": "2"}[name]
	}
	assert.Equal(t, "1-2-", ExpandEnvRefsWith("${env:A}-${env:B}-${env:C}", lookup))
}
