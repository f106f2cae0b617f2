package negotiate

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/ridge/harbor/connector"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// DetectProtocol is the protocol name of Detect
const DetectProtocol = "detect"

// DefaultDetectTimeout bounds the wait for the first bytes
const DefaultDetectTimeout = 10 * time.Second

// Detection is the verdict of a detector about the first bytes of an endpoint
type Detection int

// Detection values
const (
	NotRecognized Detection = iota
	NeedMoreBytes
	Recognized
)

// Detecting is a connection factory recognizing its protocol by the first
// bytes sent by the client
type Detecting interface {
	Detect(prefix []byte) Detection
}

// h2Preface is the client connection preface of HTTP/2
var h2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// detectors recognize protocols of factories not implementing Detecting, by
// protocol name
var detectors = map[string]func(prefix []byte) Detection{
	"ssl": detectTLS,
	"h2c": detectH2Preface,
}

func detectTLS(prefix []byte) Detection {
	// handshake record, major version 3
	switch {
	case len(prefix) == 0:
		return NeedMoreBytes
	case prefix[0] != 0x16:
		return NotRecognized
	case len(prefix) == 1:
		return NeedMoreBytes
	case prefix[1] != 0x03:
		return NotRecognized
	default:
		return Recognized
	}
}

func detectH2Preface(prefix []byte) Detection {
	if len(prefix) < len(h2Preface) {
		if bytes.HasPrefix(h2Preface, prefix) {
			return NeedMoreBytes
		}
		return NotRecognized
	}
	if bytes.HasPrefix(prefix, h2Preface) {
		return Recognized
	}
	return NotRecognized
}

// Detect reads the first bytes of an endpoint, picks the first of its
// detecting protocols recognizing them and continues with it. The bytes are
// replayed to the chosen connection.
type Detect struct {
	connector.Base

	fallback  string
	detecting []string

	// Timeout bounds the wait for the first bytes, DefaultDetectTimeout if
	// 0, none if negative
	Timeout time.Duration
}

// NewDetect creates a Detect factory. Endpoints recognized by none of the
// detecting protocols continue with fallback, or are closed if fallback is
// empty.
func NewDetect(fallback string, detecting ...string) *Detect {
	return &Detect{
		Base:      connector.NewBase(DetectProtocol),
		fallback:  fallback,
		detecting: slices.Clone(detecting),
	}
}

// NextProtocols implements connector.Chained
func (f *Detect) NextProtocols() []string {
	next := slices.Clone(f.detecting)
	if f.fallback != "" && !slices.Contains(next, f.fallback) {
		next = append(next, f.fallback)
	}
	return next
}

// detect returns the recognized protocol, or whether more bytes could change
// the verdict
func (f *Detect) detect(c *connector.Connector, prefix []byte) (string, bool) {
	more := false
	for _, protocol := range f.detecting {
		var detect func([]byte) Detection
		if d, ok := c.ConnectionFactory(protocol).(Detecting); ok {
			detect = d.Detect
		} else if d, ok := detectors[strings.ToLower(protocol)]; ok {
			detect = d
		} else {
			continue
		}
		switch detect(prefix) {
		case Recognized:
			return protocol, false
		case NeedMoreBytes:
			more = true
		}
	}
	return "", more
}

// NewConnection implements connector.ConnectionFactory
func (f *Detect) NewConnection(c *connector.Connector, ep *connector.Endpoint) (connector.Connection, error) {
	return connector.ConnectionFunc(func(ctx context.Context) error {
		logger := tlog.Get(ctx)
		protocol, prefix, err := f.sniff(c, ep)
		if err != nil {
			logger.Debug("Endpoint failed before its protocol was detected", zap.Int("bytes", len(prefix)), zap.Error(err))
			return nil
		}
		if protocol == "" {
			if f.fallback == "" {
				logger.Debug("Protocol not recognized, closing", zap.Int("bytes", len(prefix)))
				return nil
			}
			protocol = f.fallback
		}
		logger.Debug("Detected protocol", zap.String("target", protocol))

		ep.Upgrade(connector.NewPrefixConn(ep.Conn(), prefix))
		next, err := c.NewConnection(protocol, ep)
		if err != nil {
			return err
		}
		return next.Serve(ctx)
	}), nil
}

// sniff reads until the first bytes are recognized or cannot be. The
// returned prefix is a copy, also returned along with a read error.
func (f *Detect) sniff(c *connector.Connector, ep *connector.Endpoint) (string, []byte, error) {
	timeout := f.Timeout
	if timeout == 0 {
		timeout = DefaultDetectTimeout
	}
	if timeout > 0 {
		if err := ep.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", nil, err
		}
		defer func() {
			_ = ep.SetReadDeadline(time.Time{})
		}()
	}

	buf := c.BufferPool().Get()
	defer buf.Free()

	chunk := make([]byte, 512)
	for {
		n, err := ep.Read(chunk)
		_, _ = buf.Write(chunk[:n])

		protocol, more := f.detect(c, buf.Bytes())
		if protocol != "" || !more {
			return protocol, bytes.Clone(buf.Bytes()), nil
		}
		if err != nil {
			return "", bytes.Clone(buf.Bytes()), err
		}
	}
}
