package rewrite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnjansen/marlin/config"
	"github.com/johnjansen/marlin/message"
)

func TestLoadRuleSetReadsAllMappedKinds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marlin.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[Rewrite]
Protocol = "http"
TargetProtocol = "https"
Extension = "jpg"
TargetExtension = "webp"
Route0 = "old"
TargetRoute0 = "new"
RemoveRoute = "debug, trace"
StartRoute = "v2"
`), 0o644))

	src := config.NewSource()
	require.NoError(t, src.LoadFile(path))

	rs := LoadRuleSet(src, "")

	assert.Equal(t, Mapping{Match: "http", Target: "https"}, rs.Protocol)
	assert.Equal(t, Mapping{Match: "jpg", Target: "webp"}, rs.Extension)
	assert.Equal(t, Mapping{Match: "old", Target: "new"}, rs.Route[0])
	assert.Equal(t, []string{"debug", "trace"}, rs.RemoveRoute)
	assert.Equal(t, "v2", rs.StartRoute)
}

func TestLoadRuleSetEmptySectionYieldsNoMappings(t *testing.T) {
	src := config.NewSource()
	rs := LoadRuleSet(src, "")
	assert.Equal(t, 0, rs.Evaluate(&message.Message{}))
}
