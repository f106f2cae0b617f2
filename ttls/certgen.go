package ttls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// SelfSignedValidity is the validity period of generated certificates
const SelfSignedValidity = 365 * 24 * time.Hour

// SelfSigned is a generated certificate
type SelfSigned struct {
	Certificate tls.Certificate
	CertPEM     []byte
	KeyPEM      []byte
}

// GenerateSelfSigned generates a self-signed ECDSA P-256 certificate for the
// host names and IP addresses. Without hosts it is issued for localhost.
func GenerateSelfSigned(hosts ...string) (SelfSigned, error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return SelfSigned{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return SelfSigned{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"harbor"},
			CommonName:   hosts[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return SelfSigned{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return SelfSigned{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return SelfSigned{}, err
	}
	return SelfSigned{Certificate: cert, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// Leaf returns the parsed certificate
func (s SelfSigned) Leaf() *x509.Certificate {
	if s.Certificate.Leaf != nil {
		return s.Certificate.Leaf
	}
	leaf, err := x509.ParseCertificate(s.Certificate.Certificate[0])
	if err != nil {
		return nil
	}
	return leaf
}

// CertPool returns a pool trusting the certificate, for clients
func (s SelfSigned) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(s.CertPEM)
	return pool
}

// WriteFiles writes the certificate and the key as PEM files
func (s SelfSigned) WriteFiles(certFile, keyFile string) error {
	if err := os.WriteFile(certFile, s.CertPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyFile, s.KeyPEM, 0o600)
}
