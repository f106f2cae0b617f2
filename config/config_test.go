package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ridge/harbor/tlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sample = `
logging:
  format: json
  verbose: true
stopTimeout: 10s
connectors:
  - name: public
    address: ":8443"
    acceptors: 2
    idleTimeout: 1m30s
    protocols: [detect, ssl, alpn, h2, http/1.1]
    defaultProtocol: detect
    tls:
      cert: tls.crt
      key: tls.key
    http:
      maxHeaderBytes: 65536
  - address: "localhost:9090"
static:
  - path: /static
    dir: ./public
    gzip: true
admin:
  connectors: [connector-1]
`

func TestParse(t *testing.T) {
	config, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, tlog.Config{Format: tlog.FormatJSON, Verbose: true}, config.Logging)
	assert.Equal(t, 10*time.Second, time.Duration(config.StopTimeout))

	require.Len(t, config.Connectors, 2)
	public := config.Connectors[0]
	assert.Equal(t, "public", public.Name)
	assert.Equal(t, ":8443", public.Address)
	assert.Equal(t, 2, public.Acceptors)
	assert.Equal(t, 90*time.Second, time.Duration(public.IdleTimeout))
	assert.Equal(t, []string{"detect", "ssl", "alpn", "h2", "http/1.1"}, public.Protocols)
	assert.Equal(t, "detect", public.DefaultProtocol)
	assert.Equal(t, &TLS{Cert: "tls.crt", Key: "tls.key"}, public.TLS)
	assert.Equal(t, 65536, public.HTTP.MaxHeaderBytes)

	second := config.Connectors[1]
	assert.Equal(t, "connector-1", second.Name)
	assert.Equal(t, DefaultProtocols, second.Protocols)
	assert.Nil(t, second.TLS)

	assert.Equal(t, []Static{{Path: "/static", Dir: "./public", Gzip: true}}, config.Static)
	assert.Equal(t, &Admin{Path: "/admin", Connectors: []string{"connector-1"}}, config.Admin)
}

func TestParseEmpty(t *testing.T) {
	config, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, config.Connectors)
}

func TestParseErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field":      "connectors:\n  - address: x\n    colour: red\n",
		"bad duration":       "stopTimeout: soon\n",
		"duplicate name":     "connectors:\n  - {name: a, address: x}\n  - {name: a, address: y}\n",
		"no address":         "connectors:\n  - name: a\n",
		"negative acceptors": "connectors:\n  - {address: x, acceptors: -1}\n",
		"half tls":           "connectors:\n  - {address: x, tls: {cert: a}}\n",
		"conflicting tls":    "connectors:\n  - {address: x, tls: {cert: a, key: b, selfSigned: true}}\n",
		"relative static":    "static:\n  - {path: static, dir: x}\n",
		"static without dir": "static:\n  - {path: /static}\n",
		"unknown admin":      "admin:\n  connectors: [nope]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harbor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, config.Connectors, 2)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = Load(empty)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(struct {
		Timeout Duration `yaml:"timeout"`
	}{Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, "timeout: 1.5s\n", string(out))
}
