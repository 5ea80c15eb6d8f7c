package security

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/csfua/softphone/internal/profile"
)

func selfSignedDER(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "cucm.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return der
}

func TestFingerprint(t *testing.T) {
	der := selfSignedDER(t)
	sum := md5.Sum(der)
	want := hex.EncodeToString(sum[:])
	if got := Fingerprint(der); got != want {
		t.Errorf("Fingerprint() = %q, want %q", got, want)
	}
}

func TestTrustStoreEmptyDir(t *testing.T) {
	pool, err := TrustStore("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool == nil {
		t.Fatal("expected a non-nil empty pool")
	}
}

func TestTrustStoreLoadsPEM(t *testing.T) {
	dir := t.TempDir()
	der := selfSignedDER(t)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, "ca.pem"), pemBytes, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	pool, err := TrustStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.Subjects()) != 1 { //nolint:staticcheck // Subjects() is deprecated but fine for a count check in a test
		t.Errorf("expected 1 certificate loaded into the pool")
	}
}

func TestSIPTLSConfigPinnedFingerprintSkipsHostnameVerify(t *testing.T) {
	der := selfSignedDER(t)
	d := profile.Device{
		CUCMHost:        "cucm.example.com",
		ExpectedCertMD5: Fingerprint(der),
	}

	cfg, err := SIPTLSConfig(d, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify when pinning by fingerprint and VerifyHostname is false")
	}
	if cfg.VerifyPeerCertificate == nil {
		t.Fatal("expected a VerifyPeerCertificate callback when ExpectedCertMD5 is set")
	}
	if err := cfg.VerifyPeerCertificate([][]byte{der}, nil); err != nil {
		t.Errorf("matching fingerprint should verify: %v", err)
	}

	wrong := append([]byte(nil), der...)
	wrong[0] ^= 0xff
	if err := cfg.VerifyPeerCertificate([][]byte{wrong}, nil); err == nil {
		t.Error("expected mismatched fingerprint to fail verification")
	}
}

func TestSIPTLSConfigHonorsExplicitVerifyHostnameFalseWithoutPinning(t *testing.T) {
	d := profile.Device{
		CUCMHost:       "10.0.0.5",
		VerifyHostname: false,
	}
	cfg, err := SIPTLSConfig(d, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify when the caller explicitly disabled hostname verification, even without fingerprint pinning")
	}
}

func TestSIPTLSConfigRunsFullVerificationWhenRequested(t *testing.T) {
	der := selfSignedDER(t)
	d := profile.Device{
		CUCMHost:        "cucm.example.com",
		ExpectedCertMD5: Fingerprint(der),
		VerifyHostname:  true,
	}
	cfg, err := SIPTLSConfig(d, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InsecureSkipVerify {
		t.Error("expected chain+hostname verification to still run alongside fingerprint pinning when VerifyHostname is true")
	}
}

func TestLoadClientCertificateRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der := selfSignedDER(t)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	path := filepath.Join(t.TempDir(), "CSFJDOE.pem")
	if err := os.WriteFile(path, append(keyPEM, certPEM...), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cert, err := LoadClientCertificate(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cert.Certificate) != 1 {
		t.Errorf("expected 1 certificate in chain, got %d", len(cert.Certificate))
	}
}

func TestLoadClientCertificateMissingFile(t *testing.T) {
	_, err := LoadClientCertificate(filepath.Join(t.TempDir(), "missing.pem"))
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}
