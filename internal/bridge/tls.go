package bridge

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

	"go.uber.org/zap"

	"github.com/muurk/brlink/internal/logging"
)

// selfSignedValidity is how long a generated certificate is valid for.
const selfSignedValidity = 365 * 24 * time.Hour

// NewTLSConfig creates a TLS configuration from certificate and key files.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)

	return buildTLSConfig(cert), nil
}

// SelfSignedCert holds a generated certificate in PEM form.
type SelfSignedCert struct {
	CertPEM     []byte
	KeyPEM      []byte
	Certificate *x509.Certificate
}

// GenerateSelfSigned creates an ECDSA P-256 certificate for hosts, which
// may mix DNS names and IP addresses. localhost and the loopback addresses
// are always included.
func GenerateSelfSigned(hosts ...string) (*SelfSignedCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"brlink"},
			CommonName:   "brlink bridge",
		},
		NotBefore: notBefore,
		NotAfter:  notBefore.Add(selfSignedValidity),

		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		BasicConstraintsValid: true,
	}

	for _, h := range append([]string{"localhost", "127.0.0.1", "::1"}, hosts...) {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	return &SelfSignedCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		Certificate: cert,
	}, nil
}

// NewSelfSignedTLSConfig generates a certificate for this machine's
// hostname and returns a TLS configuration serving it.
func NewSelfSignedTLSConfig() (*tls.Config, error) {
	var hosts []string
	if name, err := os.Hostname(); err == nil {
		hosts = append(hosts, name, name+".local")
	}

	sc, err := GenerateSelfSigned(hosts...)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(sc.CertPEM, sc.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load generated certificate: %w", err)
	}

	logging.Info("TLS configuration created from self-signed certificate",
		zap.Strings("dns_names", sc.Certificate.DNSNames),
		zap.Time("not_after", sc.Certificate.NotAfter),
	)

	return buildTLSConfig(cert), nil
}

func buildTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,

		VerifyConnection: func(cs tls.ConnectionState) error {
			logging.Debug("TLS handshake",
				zap.String("server_name", cs.ServerName),
				zap.String("version", tls.VersionName(cs.Version)),
				zap.String("cipher_suite", tls.CipherSuiteName(cs.CipherSuite)),
			)
			return nil
		},
	}
}

// tlsConfigFor returns the TLS configuration cfg asks for, or nil for
// plain HTTP.
func tlsConfigFor(cfg Config) (*tls.Config, error) {
	switch {
	case cfg.TLSCert != "" || cfg.TLSKey != "":
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			return nil, fmt.Errorf("bridge: both TLS certificate and key are required")
		}
		return NewTLSConfig(cfg.TLSCert, cfg.TLSKey)
	case cfg.TLSSelfSigned:
		return NewSelfSignedTLSConfig()
	default:
		return nil, nil
	}
}
