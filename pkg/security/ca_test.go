package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/swms/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueServerCertificate(t *testing.T) {
	ca := NewCertAuthority(nil, nil)
	require.NoError(t, ca.Initialize())
	assert.True(t, ca.IsInitialized())

	cert, err := ca.IssueServerCertificate("localhost", "127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, []string{"localhost"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.Leaf.IPAddresses[0].String())
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))

	other := NewCertAuthority(nil, nil)
	require.NoError(t, other.Initialize())
	assert.Error(t, other.VerifyCertificate(cert.Leaf))
}

func TestIssueBeforeInitialize(t *testing.T) {
	ca := NewCertAuthority(nil, nil)
	_, err := ca.IssueServerCertificate("localhost")
	assert.Error(t, err)
	assert.Nil(t, ca.RootCertPEM())
}

func TestIssueRequiresHost(t *testing.T) {
	ca := NewCertAuthority(nil, nil)
	require.NoError(t, ca.Initialize())
	_, err := ca.IssueServerCertificate()
	assert.Error(t, err)
}

func TestLoadOrInitializePersistsSealedRoot(t *testing.T) {
	store := storage.NewMemoryStore()
	sealer, err := NewSealerFromPassphrase("dev")
	require.NoError(t, err)

	first := NewCertAuthority(store, sealer)
	require.NoError(t, first.LoadOrInitialize())

	second := NewCertAuthority(store, sealer)
	require.NoError(t, second.LoadOrInitialize())
	assert.Equal(t, first.RootCertPEM(), second.RootCertPEM())

	cert, err := second.IssueServerCertificate("localhost")
	require.NoError(t, err)
	assert.NoError(t, first.VerifyCertificate(cert.Leaf))

	wrong, err := NewSealerFromPassphrase("other")
	require.NoError(t, err)
	assert.Error(t, NewCertAuthority(store, wrong).LoadOrInitialize())
}

func TestClientTrustsIssuedCertificate(t *testing.T) {
	ca := NewCertAuthority(nil, nil)
	require.NoError(t, ca.Initialize())
	cert, err := ca.IssueServerCertificate("127.0.0.1")
	require.NoError(t, err)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	server.TLS = ServerTLSConfig(cert)
	server.StartTLS()
	defer server.Close()

	caFile := filepath.Join(t.TempDir(), "certs", "ca.crt")
	require.NoError(t, WriteCAFile(caFile, ca.RootCertPEM()))

	tlsConfig, err := ClientTLSConfig(caFile)
	require.NoError(t, err)
	hc := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}

	resp, err := hc.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	untrusting := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{}}}
	_, err = untrusting.Get(server.URL)
	assert.Error(t, err)
}

func TestLoadCertPoolErrors(t *testing.T) {
	_, err := LoadCertPool(filepath.Join(t.TempDir(), "missing.crt"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.crt")
	require.NoError(t, WriteCAFile(path, []byte("not a certificate")))
	_, err = LoadCertPool(path)
	assert.Error(t, err)
}

func TestCertTimeRemaining(t *testing.T) {
	ca := NewCertAuthority(nil, nil)
	require.NoError(t, ca.Initialize())
	cert, err := ca.IssueServerCertificate("localhost")
	require.NoError(t, err)

	now := time.Now()
	assert.InDelta(t, serverCertValidity.Hours(), CertTimeRemaining(cert.Leaf, now).Hours(), 1)
	assert.Zero(t, CertTimeRemaining(cert.Leaf, now.Add(2*serverCertValidity)))
	assert.Zero(t, CertTimeRemaining(nil, now))
}

func TestValidityRemaining(t *testing.T) {
	ca := NewCertAuthority(nil, nil)
	require.NoError(t, ca.Initialize())

	cert, err := ca.IssueServerCertificate("localhost")
	require.NoError(t, err)

	remaining, err := ca.ValidityRemaining(cert)
	require.NoError(t, err)
	assert.InDelta(t, float64(serverCertValidity), float64(remaining), float64(time.Minute))

	// Close to the root's expiry the root bounds the chain
	rootExpiry := ca.rootCert.NotAfter
	ca.now = func() time.Time { return rootExpiry.Add(-10 * 24 * time.Hour) }
	late, err := ca.IssueServerCertificate("localhost")
	require.NoError(t, err)
	remaining, err = ca.ValidityRemaining(late)
	require.NoError(t, err)
	assert.Equal(t, 10*24*time.Hour, remaining)

	other := NewCertAuthority(nil, nil)
	require.NoError(t, other.Initialize())
	_, err = other.ValidityRemaining(cert)
	assert.Error(t, err)

	_, err = ca.ValidityRemaining(&tls.Certificate{})
	assert.Error(t, err)
}
