package proxyenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUseProxyNoProxySuffixMatch(t *testing.T) {
	t.Setenv("no_proxy", ".internal.example.com,other.com")
	ResetForTests()

	assert.False(t, UseProxy("svc.internal.example.com:443"))
	assert.False(t, UseProxy("internal.example.com"))
	assert.True(t, UseProxy("svc.example.com"))
	assert.False(t, UseProxy("other.com:80"))
}

func TestUseProxyLocalhostAlwaysDirect(t *testing.T) {
	t.Setenv("no_proxy", "")
	ResetForTests()
	assert.False(t, UseProxy("localhost:8080"))
	assert.False(t, UseProxy("127.0.0.1"))
}

func TestFromEnvironmentNoneSet(t *testing.T) {
	t.Setenv("http_proxy", "")
	t.Setenv("https_proxy", "")
	t.Setenv("no_proxy", "")
	ResetForTests()

	u, err := FromEnvironment("http", "example.com:80")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestFromEnvironmentSet(t *testing.T) {
	t.Setenv("http_proxy", "http://proxy.example.com:3128")
	t.Setenv("no_proxy", "")
	ResetForTests()

	u, err := FromEnvironment("http", "example.com:80")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "proxy.example.com:3128", u.Host)
}
