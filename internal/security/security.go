// Package security wires a device profile's security_mode into the TLS
// configuration the SIP transport and CAPF client dial with, and
// implements the certificate-fingerprint pinning check CUCM phones use in
// place of full chain validation for the SIP/TLS connection.
package security

import (
	"crypto/md5"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/csfua/softphone/internal/profile"
)

// Fingerprint returns the lowercased hex MD5 digest over a certificate's
// DER encoding, matching the format of the device profile's
// expected_cert_md5 field.
func Fingerprint(der []byte) string {
	sum := md5.Sum(der)
	return hex.EncodeToString(sum[:])
}

// TrustStore loads every PEM certificate found in dir (non-recursive) into
// a cert pool, for the ServerCertDir device profile field.
func TrustStore(dir string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if dir == "" {
		return pool, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("security: reading server cert dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("security: reading %s: %w", entry.Name(), err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("security: %s contains no usable certificate", entry.Name())
		}
	}
	return pool, nil
}

// SIPTLSConfig builds the tls.Config the SIP transport dials CUCM with for
// security_mode=authenticated or encrypted. Verification is pinning-based:
// when ExpectedCertMD5 is set, the leaf's fingerprint must match it exactly
// and hostname/chain verification is skipped, mirroring how Cisco phones
// actually validate CUCM's self-signed certificate. When VerifyHostname is
// also requested, standard chain+hostname verification runs as well.
func SIPTLSConfig(d profile.Device, clientCert *tls.Certificate) (*tls.Config, error) {
	roots, err := TrustStore(d.ServerCertDir)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            roots,
		InsecureSkipVerify: !d.VerifyHostname,
		ServerName:         d.CUCMHost,
	}
	if clientCert != nil {
		cfg.Certificates = []tls.Certificate{*clientCert}
	}

	expected := d.ExpectedCertMD5
	if expected != "" {
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("security: server presented no certificate")
			}
			got := Fingerprint(rawCerts[0])
			if !strings.EqualFold(got, expected) {
				return fmt.Errorf("security: server certificate fingerprint %s does not match expected %s", got, expected)
			}
			return nil
		}
	}
	return cfg, nil
}

// CAPFTLSConfig builds the tls.Config the CAPF client dials with. CAPF
// sessions are always server-authenticated only (the client has no
// certificate yet — that's the point of running CAPF), so this never sets
// Certificates.
func CAPFTLSConfig(d profile.Device) (*tls.Config, error) {
	roots, err := TrustStore(d.ServerCertDir)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            roots,
		InsecureSkipVerify: !d.VerifyHostname,
		ServerName:         d.CAPFServers[0].Host,
	}, nil
}

// LoadClientCertificate loads a PEM file previously written by the CAPF
// client (key followed by certificate, as internal/capf.Client.Run writes
// it) into a tls.Certificate. Returns os.ErrNotExist (wrapped) if the file
// is absent, so callers can distinguish "not yet provisioned" from a read
// failure and fall back to running CAPF.
func LoadClientCertificate(path string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var certPEMBlocks []byte
	var keyPEMBlock []byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certPEMBlocks = append(certPEMBlocks, pem.EncodeToMemory(block)...)
		default:
			keyPEMBlock = pem.EncodeToMemory(block)
		}
	}
	if len(certPEMBlocks) == 0 || len(keyPEMBlock) == 0 {
		return nil, fmt.Errorf("security: %s does not contain both a key and a certificate", path)
	}

	cert, err := tls.X509KeyPair(certPEMBlocks, keyPEMBlock)
	if err != nil {
		return nil, fmt.Errorf("security: parsing client certificate: %w", err)
	}
	return &cert, nil
}
