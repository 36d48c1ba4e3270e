package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestSourceLayering(t *testing.T) {
	dir := t.TempDir()
	global := writeTOML(t, dir, "marlin.toml", `
[server]
Port = 8080
HTTPCompression = true
`)
	override := writeTOML(t, dir, "http-localhost-Marlin.config", `
[server]
Port = 9090
`)

	s := NewSource()
	require.NoError(t, s.LoadFile(global))
	require.NoError(t, s.LoadOverride("http-localhost-Marlin.config", override))

	assert.Equal(t, 9090, s.Get("http-localhost-Marlin.config", "server", "Port").Int())
	assert.Equal(t, 8080, s.Get("", "server", "Port").Int())
	assert.True(t, s.Get("", "server", "HTTPCompression").Bool())
	assert.False(t, s.Get("", "server", "Missing").Present())
}

func TestSourceEnvOverridesAll(t *testing.T) {
	dir := t.TempDir()
	global := writeTOML(t, dir, "marlin.toml", `
[server]
Port = 8080
`)
	s := NewSource()
	require.NoError(t, s.LoadFile(global))

	t.Setenv("MARLIN_SERVER_PORT", "1025")
	assert.Equal(t, "1025", s.Get("", "server", "Port").String())
}

func TestPersistName(t *testing.T) {
	assert.Equal(t, "http-www_example_com-Marlin", persistBase("http://www.example.com/Marlin/"))
	assert.Equal(t, "http-www_example_com-Marlin.config", PersistName("http://www.example.com/Marlin/"))
	assert.Equal(t, "URLhttp-www_example_com-Marlin.config", PersistNameByURL("http://www.example.com/Marlin/"))
}

func TestEncryptDecryptValue(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := EncryptValue(key, "s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", enc)

	dec, err := DecryptValue(key, enc)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", dec)

	plain, err := DecryptValue(key, "not-encrypted")
	require.NoError(t, err)
	assert.Equal(t, "not-encrypted", plain)
}
