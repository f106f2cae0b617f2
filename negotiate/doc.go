// Package negotiate implements connection factories choosing the protocol of
// an endpoint at run time: by TLS ALPN or by the first bytes sent by the
// client.
package negotiate
