package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateSelfSignedCert(t *testing.T, commonName string) (certFile, keyFile string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	tmpDir := t.TempDir()
	certFile = filepath.Join(tmpDir, "test.crt")
	keyFile = filepath.Join(tmpDir, "test.key")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0600); err != nil {
		t.Fatalf("Failed to write certificate: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to marshal private key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}

	return certFile, keyFile
}

func TestLoadServerTLSConfigMutual(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "recond")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile, RequireClientAuth: true})
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("expected client certificates to be required, got %v", cfg.ClientAuth)
	}
	if cfg.ClientCAs == nil {
		t.Error("expected client CA pool")
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("expected TLS 1.3 minimum, got %x", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected one certificate, got %d", len(cfg.Certificates))
	}
}

func TestLoadServerTLSConfigWithoutClientAuth(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "recond")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("LoadServerTLSConfig failed: %v", err)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("expected no client certificate, got %v", cfg.ClientAuth)
	}
}

func TestLoadServerTLSConfigErrors(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "recond")

	if _, err := LoadServerTLSConfig(TLSConfig{CertFile: "/nonexistent/cert.crt", KeyFile: "/nonexistent/key.key"}); err == nil {
		t.Error("expected error for missing certificate files")
	}
	if _, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile, RequireClientAuth: true}); err == nil {
		t.Error("expected error when client auth has no CA")
	}

	badCA := filepath.Join(t.TempDir(), "ca.crt")
	if err := os.WriteFile(badCA, []byte("not a certificate"), 0600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}
	if _, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: badCA}); err == nil {
		t.Error("expected error for unparsable CA file")
	}
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "reconctl")

	cfg, err := LoadClientTLSConfig(TLSConfig{CAFile: certFile})
	if err != nil {
		t.Fatalf("LoadClientTLSConfig failed: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("expected root CA pool")
	}
	if len(cfg.Certificates) != 0 {
		t.Error("no client certificate was configured")
	}

	cfg, err = LoadClientTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
	if err != nil {
		t.Fatalf("LoadClientTLSConfig failed: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected one client certificate, got %d", len(cfg.Certificates))
	}
}

func TestTLSConfigEnabled(t *testing.T) {
	if (TLSConfig{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(TLSConfig{CertFile: "server.crt"}).Enabled() {
		t.Error("config with a certificate should be enabled")
	}
}
