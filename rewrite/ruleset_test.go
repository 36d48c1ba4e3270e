package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/johnjansen/marlin/message"
)

func testMessage() *message.Message {
	return &message.Message{
		Scheme:  "http",
		Host:    "origin.example",
		Port:    80,
		Path:    "/old/a/b",
		Routing: []string{"a", "b"},
	}
}

func TestEvaluateProtocolServerPortSubstitution(t *testing.T) {
	rs := RuleSet{
		Protocol: Mapping{Match: "http", Target: "https"},
		Server:   Mapping{Match: "origin.example", Target: "backend.internal"},
		Port:     Mapping{Match: "80", Target: "8443"},
	}
	msg := testMessage()

	changes := rs.Evaluate(msg)

	assert.Equal(t, 3, changes)
	assert.Equal(t, "https", msg.Scheme)
	assert.Equal(t, "backend.internal", msg.Host)
	assert.Equal(t, 8443, msg.Port)
}

func TestEvaluatePathPrefixRewriteAlsoUpdatesRouting(t *testing.T) {
	rs := RuleSet{Path: Mapping{Match: "/old", Target: "/new"}}
	msg := testMessage()

	changes := rs.Evaluate(msg)

	assert.Equal(t, 1, changes)
	assert.Equal(t, "/new/a/b", msg.Path)
	assert.Equal(t, []string{"new", "a", "b"}, msg.Routing)
}

func TestEvaluateExtensionRewriteIsIndependentOfPath(t *testing.T) {
	rs := RuleSet{Extension: Mapping{Match: "jpg", Target: "webp"}}
	msg := testMessage()
	msg.Path = "/img/photo.jpg"
	msg.Routing = []string{"img", "photo.jpg"}

	changes := rs.Evaluate(msg)

	assert.Equal(t, 1, changes)
	assert.Equal(t, "/img/photo.webp", msg.Path)
	assert.Equal(t, []string{"img", "photo.webp"}, msg.Routing)
}

func TestEvaluatePathAndExtensionBothApply(t *testing.T) {
	rs := RuleSet{
		Path:      Mapping{Match: "/old", Target: "/new"},
		Extension: Mapping{Match: "jpg", Target: "webp"},
	}
	msg := testMessage()
	msg.Path = "/old/photo.jpg"

	changes := rs.Evaluate(msg)

	assert.Equal(t, 2, changes)
	assert.Equal(t, "/new/photo.webp", msg.Path)
}

func TestEvaluateExtensionNoMatchLeavesPathAlone(t *testing.T) {
	rs := RuleSet{Extension: Mapping{Match: "jpg", Target: "webp"}}
	msg := testMessage()
	msg.Path = "/img/photo.png"

	changes := rs.Evaluate(msg)

	assert.Equal(t, 0, changes)
	assert.Equal(t, "/img/photo.png", msg.Path)
}

func TestEvaluateRouteSubstitutionByIndex(t *testing.T) {
	rs := RuleSet{}
	rs.Route[1] = Mapping{Match: "b", Target: "beta"}
	msg := testMessage()

	changes := rs.Evaluate(msg)

	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"a", "beta"}, msg.Routing)
}

func TestEvaluateRemoveRouteDropsNamedSegments(t *testing.T) {
	rs := RuleSet{RemoveRoute: []string{"a"}}
	msg := testMessage()

	changes := rs.Evaluate(msg)

	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"b"}, msg.Routing)
}

func TestEvaluateStartRoutePrepends(t *testing.T) {
	rs := RuleSet{StartRoute: "v2"}
	msg := testMessage()

	changes := rs.Evaluate(msg)

	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"v2", "a", "b"}, msg.Routing)
}

func TestEvaluateNoMappingsReportsZeroChanges(t *testing.T) {
	rs := RuleSet{}
	msg := testMessage()

	assert.Equal(t, 0, rs.Evaluate(msg))
}
