package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteCAFile writes a PEM root certificate for clients to trust
func WriteCAFile(path string, caPEM []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	if err := os.WriteFile(path, caPEM, 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	return nil
}

// LoadCertPool reads a PEM file of one or more certificates into a pool
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// ClientTLSConfig trusts the roots in caFile on top of nothing else
func ClientTLSConfig(caFile string) (*tls.Config, error) {
	pool, err := LoadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// ServerTLSConfig serves cert
func ServerTLSConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{Certificates: []tls.Certificate{*cert}, MinVersion: tls.VersionTLS12}
}

// CertTimeRemaining returns how long cert stays valid after now
func CertTimeRemaining(cert *x509.Certificate, now time.Time) time.Duration {
	if cert == nil {
		return 0
	}
	remaining := cert.NotAfter.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
