package nat

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNone(t *testing.T) {
	n, err := Parse("none")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestParseExtIP(t *testing.T) {
	n, err := Parse("extip:203.0.113.5")
	require.NoError(t, err)
	ip, err := n.ExternalIP()
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", ip.String())
}

func TestParseExtIPInvalid(t *testing.T) {
	_, err := Parse("extip:not-an-ip")
	assert.Error(t, err)
}

func TestParseUnknownMechanism(t *testing.T) {
	_, err := Parse("carrier-pigeon")
	assert.Error(t, err)
}

func TestExtIPMappingIsNoop(t *testing.T) {
	n := ExtIP(net.ParseIP("198.51.100.1"))
	assert.NoError(t, n.AddMapping("udp", 7364, 7364, "test", 0))
	assert.NoError(t, n.DeleteMapping("udp", 7364, 7364))
}
