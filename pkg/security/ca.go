package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/storage"
)

// KeyCA is the storage key holding the serialized authority
const KeyCA = "swms_dev_ca"

const (
	rootCAValidity     = 5 * 365 * 24 * time.Hour
	serverCertValidity = 90 * 24 * time.Hour
)

// CertAuthority issues server certificates for the development backend so
// that clients can talk HTTPS and WSS to it after trusting one root
type CertAuthority struct {
	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey
	store    storage.Store
	sealer   *Sealer
	now      func() time.Time
	mu       sync.RWMutex
}

// caData is the persisted form of the authority
type caData struct {
	RootCertDER []byte `json:"rootCert"`
	RootKeyDER  []byte `json:"rootKey"`
}

// NewCertAuthority creates an authority persisted in store. The root key is
// sealed with sealer when one is given. store may be nil for a throwaway CA.
func NewCertAuthority(store storage.Store, sealer *Sealer) *CertAuthority {
	return &CertAuthority{
		store:  store,
		sealer: sealer,
		now:    time.Now,
	}
}

// LoadOrInitialize loads the persisted root, generating and saving a new one
// when none is stored
func (ca *CertAuthority) LoadOrInitialize() error {
	if ca.store != nil {
		err := ca.LoadFromStore()
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	if err := ca.Initialize(); err != nil {
		return err
	}
	if ca.store != nil {
		return ca.SaveToStore()
	}
	return nil
}

// Initialize generates a new root CA certificate
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return err
	}

	now := ca.now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"SWMS Development"},
			CommonName:   "SWMS Development Root CA",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// LoadFromStore loads the root from storage
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	data, err := ca.store.Get(KeyCA)
	if err != nil {
		return fmt.Errorf("failed to get CA from storage: %w", err)
	}
	if ca.sealer != nil {
		if data, err = ca.sealer.Open(data); err != nil {
			return fmt.Errorf("failed to unseal CA: %w", err)
		}
	}

	var stored caData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to unmarshal CA data: %w", err)
	}

	rootCert, err := x509.ParseCertificate(stored.RootCertDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}
	rootKey, err := x509.ParseECPrivateKey(stored.RootKeyDER)
	if err != nil {
		return fmt.Errorf("failed to parse root key: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// SaveToStore saves the root to storage
func (ca *CertAuthority) SaveToStore() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("CA not initialized")
	}

	keyDER, err := x509.MarshalECPrivateKey(ca.rootKey)
	if err != nil {
		return fmt.Errorf("failed to marshal root key: %w", err)
	}
	data, err := json.Marshal(caData{RootCertDER: ca.rootCert.Raw, RootKeyDER: keyDER})
	if err != nil {
		return fmt.Errorf("failed to marshal CA data: %w", err)
	}
	if ca.sealer != nil {
		if data, err = ca.sealer.Seal(data); err != nil {
			return fmt.Errorf("failed to seal CA: %w", err)
		}
	}

	if err := ca.store.PutAll(map[string][]byte{KeyCA: data}); err != nil {
		return fmt.Errorf("failed to save CA to storage: %w", err)
	}
	return nil
}

// IssueServerCertificate issues a serving certificate for hosts, each either
// a DNS name or an IP address
func (ca *CertAuthority) IssueServerCertificate(hosts ...string) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one host is required")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate server key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := ca.now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"SWMS Development"},
			CommonName:   hosts[0],
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.Add(serverCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create server certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// ValidityRemaining verifies cert against the root and returns how long the
// chain stays valid, which is the earlier of the leaf and root expiry
func (ca *CertAuthority) ValidityRemaining(cert *tls.Certificate) (time.Duration, error) {
	if cert == nil || cert.Leaf == nil {
		return 0, fmt.Errorf("certificate has no parsed leaf")
	}
	if err := ca.VerifyCertificate(cert.Leaf); err != nil {
		return 0, err
	}

	ca.mu.RLock()
	root := ca.rootCert
	now := ca.now()
	ca.mu.RUnlock()

	remaining := CertTimeRemaining(cert.Leaf, now)
	if rootRemaining := CertTimeRemaining(root, now); rootRemaining < remaining {
		remaining = rootRemaining
	}
	return remaining, nil
}

// VerifyCertificate verifies a certificate against the root CA
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)
	opts := x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: ca.now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// RootCertPEM returns the root certificate PEM encoded, nil before Initialize
func (ca *CertAuthority) RootCertPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return encodeCertPEM(ca.rootCert.Raw)
}

// IsInitialized returns true if the CA is initialized
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
