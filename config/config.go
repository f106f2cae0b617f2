// Package config loads the YAML configuration of a harbor server.
//
//	logging:
//	  format: json
//	stopTimeout: 10s
//	connectors:
//	  - name: public
//	    address: ":8443"
//	    protocols: [detect, ssl, alpn, h2, http/1.1]
//	    tls:
//	      cert: /etc/harbor/tls.crt
//	      key: /etc/harbor/tls.key
//	  - name: admin
//	    address: "localhost:9090"
//	static:
//	  - path: /static
//	    dir: ./public
//	    gzip: true
//	admin:
//	  path: /admin
//	  connectors: [admin]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ridge/harbor/tlog"
	"gopkg.in/yaml.v3"
)

// Errors
var (
	ErrEmptyFile = errors.New("configuration file is empty")
	ErrInvalid   = errors.New("invalid configuration")
)

// Duration is a time.Duration written as a Go duration string ("1m30s")
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the configuration of a server
type Config struct {
	Logging     tlog.Config `yaml:"logging"`
	StopTimeout Duration    `yaml:"stopTimeout"`
	Connectors  []Connector `yaml:"connectors"`
	Static      []Static    `yaml:"static"`
	Admin       *Admin      `yaml:"admin"`
}

// Connector configures a connector
type Connector struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	// Acceptors is the number of acceptors, the default for the machine if 0
	Acceptors             int `yaml:"acceptors"`
	AcceptorPriorityDelta int `yaml:"acceptorPriorityDelta"`

	IdleTimeout Duration `yaml:"idleTimeout"`
	StopTimeout Duration `yaml:"stopTimeout"`

	// Protocols are the connection factories in order, DefaultProtocols if
	// empty
	Protocols       []string `yaml:"protocols"`
	DefaultProtocol string   `yaml:"defaultProtocol"`

	TLS  *TLS `yaml:"tls"`
	HTTP HTTP `yaml:"http"`
}

// DefaultProtocols are the protocols of connectors without protocols
var DefaultProtocols = []string{"http/1.1"}

// TLS configures the ssl protocol of a connector
type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	// SelfSigned generates a certificate for Hosts instead of loading one
	SelfSigned bool     `yaml:"selfSigned"`
	Hosts      []string `yaml:"hosts"`
}

// HTTP configures the HTTP protocols of a connector
type HTTP struct {
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout"`
	IdleTimeout       Duration `yaml:"idleTimeout"`
	MaxHeaderBytes    int      `yaml:"maxHeaderBytes"`

	// CORS allows cross-origin requests from any origin
	CORS bool `yaml:"cors"`

	// LogBodies logs request and response bodies at debug level
	LogBodies bool `yaml:"logBodies"`
}

// Static serves files of a directory under a context path
type Static struct {
	Path string `yaml:"path"`
	Dir  string `yaml:"dir"`
	Gzip bool   `yaml:"gzip"`
}

// Admin serves the management API under a context path
type Admin struct {
	Path string `yaml:"path"`

	// Connectors restrict the API to the named connectors, all if empty
	Connectors []string `yaml:"connectors"`
}

// Load reads the configuration from a YAML file
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	config, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Parse parses and validates a YAML configuration. Unknown fields are
// rejected.
func Parse(data []byte) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var config Config
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Connectors {
		conn := &c.Connectors[i]
		if conn.Name == "" {
			conn.Name = fmt.Sprintf("connector-%d", i)
		}
		if len(conn.Protocols) == 0 {
			conn.Protocols = append([]string(nil), DefaultProtocols...)
		}
	}
	if c.Admin != nil && c.Admin.Path == "" {
		c.Admin.Path = "/admin"
	}
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	names := map[string]bool{}
	for _, conn := range c.Connectors {
		if names[conn.Name] {
			return fmt.Errorf("%w: duplicate connector name %q", ErrInvalid, conn.Name)
		}
		names[conn.Name] = true

		if conn.Address == "" {
			return fmt.Errorf("%w: connector %q has no address", ErrInvalid, conn.Name)
		}
		if conn.Acceptors < 0 {
			return fmt.Errorf("%w: connector %q has negative acceptors", ErrInvalid, conn.Name)
		}
		if tls := conn.TLS; tls != nil {
			if tls.SelfSigned && (tls.Cert != "" || tls.Key != "") {
				return fmt.Errorf("%w: connector %q has both a self-signed and a loaded certificate", ErrInvalid, conn.Name)
			}
			if !tls.SelfSigned && (tls.Cert == "" || tls.Key == "") {
				return fmt.Errorf("%w: connector %q needs both TLS cert and key", ErrInvalid, conn.Name)
			}
		}
	}
	for _, s := range c.Static {
		if s.Path == "" || s.Path[0] != '/' {
			return fmt.Errorf("%w: static path %q must start with /", ErrInvalid, s.Path)
		}
		if s.Dir == "" {
			return fmt.Errorf("%w: static path %q has no directory", ErrInvalid, s.Path)
		}
	}
	if c.Admin != nil {
		if c.Admin.Path == "" || c.Admin.Path[0] != '/' {
			return fmt.Errorf("%w: admin path %q must start with /", ErrInvalid, c.Admin.Path)
		}
		for _, name := range c.Admin.Connectors {
			if !names[name] {
				return fmt.Errorf("%w: admin connector %q is not configured", ErrInvalid, name)
			}
		}
	}
	return nil
}
