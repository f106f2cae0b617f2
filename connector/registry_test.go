package connector

import (
	"testing"

	"github.com/ridge/harbor/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddConnectionFactory(t *testing.T) {
	t.Parallel()

	http := newFactory("http/1.1")
	ssl := newFactory("ssl", "SSL-http/1.1")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{http, ssl}})

	assert.Equal(t, "http/1.1", c.DefaultProtocol())
	assert.Same(t, http, c.DefaultConnectionFactory())
	assert.Equal(t, []string{"http/1.1", "ssl", "ssl-http/1.1"}, c.Protocols())
	assert.Same(t, http, c.ConnectionFactory("HTTP/1.1"))
	assert.Same(t, ssl, c.ConnectionFactory("SSL-HTTP/1.1"))
	assert.Nil(t, c.ConnectionFactory("h2"))
	assert.Equal(t, []ConnectionFactory{http, ssl}, c.ConnectionFactories())
}

func TestAddReplacesBinding(t *testing.T) {
	t.Parallel()

	f1 := newFactory("a")
	f2 := newFactory("a")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{f1}})
	require.NoError(t, c.AddConnectionFactory(f2))

	assert.Same(t, f2, c.ConnectionFactory("a"))
	assert.Equal(t, []ConnectionFactory{f2}, c.ConnectionFactories())
	assert.Equal(t, "a", c.DefaultProtocol())
	assert.False(t, c.beans.Contains(f1))
}

func TestAddMovesToEnd(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	b := newFactory("b")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{a, b}})
	require.NoError(t, c.AddConnectionFactory(a))

	assert.Equal(t, []string{"b", "a"}, c.Protocols())
	assert.Equal(t, "a", c.DefaultProtocol())
}

func TestAddPartialDisplacement(t *testing.T) {
	t.Parallel()

	x := newFactory("x", "shared")
	y := newFactory("shared")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{x, y}})

	assert.Same(t, x, c.ConnectionFactory("x"))
	assert.Same(t, y, c.ConnectionFactory("shared"))
	assert.Equal(t, []ConnectionFactory{x, y}, c.ConnectionFactories())
	assert.True(t, c.beans.Contains(x))
	// displacing any binding of the default factory resets the default
	assert.Equal(t, "shared", c.DefaultProtocol())
}

func TestAddDisplacesDefault(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	b := newFactory("b", "a")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{a, b}})

	assert.Equal(t, "b", c.DefaultProtocol())
	assert.Same(t, b, c.DefaultConnectionFactory())
}

func TestAddFirstConnectionFactory(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	b := newFactory("b")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{a, b}})

	x := newFactory("x")
	require.NoError(t, c.AddFirstConnectionFactory(x))
	assert.Equal(t, []string{"x", "a", "b"}, c.Protocols())
	assert.Same(t, x, c.DefaultConnectionFactory())

	y := newFactory("y", "a")
	require.NoError(t, c.AddFirstConnectionFactory(y))
	assert.Equal(t, []string{"y", "a", "x", "b"}, c.Protocols())
	assert.Same(t, y, c.ConnectionFactory("a"))
	assert.Same(t, y, c.DefaultConnectionFactory())
	assert.False(t, c.beans.Contains(a))
}

func TestAddIfAbsentConnectionFactory(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	c := New(NewLocalTransport(), Config{})

	added, err := c.AddIfAbsentConnectionFactory(a)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "a", c.DefaultProtocol())

	added, err = c.AddIfAbsentConnectionFactory(newFactory("A", "b"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Same(t, a, c.ConnectionFactory("a"))
	assert.Nil(t, c.ConnectionFactory("b"))

	// only the primary protocol is bound
	added, err = c.AddIfAbsentConnectionFactory(newFactory("c", "d"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"a", "c"}, c.Protocols())
}

func TestRemoveConnectionFactory(t *testing.T) {
	t.Parallel()

	a := newFactory("a", "alias")
	b := newFactory("b")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{a, b}})

	assert.Nil(t, c.RemoveConnectionFactory("none"))
	assert.Same(t, a, c.RemoveConnectionFactory("A"))
	assert.Nil(t, c.ConnectionFactory("a"))
	assert.Equal(t, "a", c.DefaultProtocol())
	assert.Nil(t, c.DefaultConnectionFactory())
	assert.True(t, c.beans.Contains(a))

	assert.Same(t, a, c.RemoveConnectionFactory("alias"))
	assert.False(t, c.beans.Contains(a))
	assert.Equal(t, []string{"b"}, c.Protocols())
}

func TestSetConnectionFactories(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{a, newFactory("b")}})

	d := newFactory("d")
	require.NoError(t, c.SetConnectionFactories(nil, d, a))
	assert.Equal(t, []string{"d", "a"}, c.Protocols())
	assert.Equal(t, "a", c.DefaultProtocol())

	c.ClearConnectionFactories()
	assert.Empty(t, c.Protocols())
	assert.Empty(t, c.beans.All())
}

func TestSetDefaultProtocol(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	b := newFactory("b")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{a, b}, DefaultProtocol: "B"})

	assert.Equal(t, "b", c.DefaultProtocol())
	assert.Same(t, b, c.DefaultConnectionFactory())
	c.SetDefaultProtocol("A")
	assert.Same(t, a, c.DefaultConnectionFactory())
}

func TestConnectionFactoryOf(t *testing.T) {
	t.Parallel()

	plain := newFactory("plain")
	chained := newChained("chained", "plain")
	c := New(NewLocalTransport(), Config{Factories: []ConnectionFactory{plain, chained}})

	found, ok := ConnectionFactoryOf[Chained](c)
	require.True(t, ok)
	assert.Equal(t, chained, found)

	_, ok = ConnectionFactoryOf[Negotiating](c)
	assert.False(t, ok)
}

func TestRunningRegistryManagesFactories(t *testing.T) {
	t.Parallel()

	a := newFactory("a")
	c, _ := startLocal(t, Config{Factories: []ConnectionFactory{a}})
	assert.True(t, a.IsStarted())

	b := newFactory("b")
	require.NoError(t, c.AddConnectionFactory(b))
	assert.True(t, b.IsStarted())

	c.RemoveConnectionFactory("b")
	assert.True(t, b.IsStopped())

	x := newFactory("x")
	require.NoError(t, c.AddFirstConnectionFactory(x))
	assert.True(t, x.IsStarted())
	assert.Same(t, x, c.DefaultConnectionFactory())

	require.NoError(t, c.Stop(test.Context(t)))
	assert.True(t, a.IsStopped())
	assert.True(t, x.IsStopped())
}
