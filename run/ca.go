package run

// Binaries running in scratch containers have no system CA bundle. The
// bundled roots serve TLS clients such as tws.Dial to wss:// URLs.
import _ "golang.org/x/crypto/x509roots/fallback"
