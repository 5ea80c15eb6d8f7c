package capf

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

const rsaKeyBits = 2048

// rsaPublicKeyOID is the PKCS#1 RSA encryption algorithm identifier CUCM
// expects inside the SubjectPublicKeyInfo.
var rsaPublicKeyOID = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

// subjectPublicKeyInfo mirrors the ASN.1 SEQUENCE CUCM accepts in place of
// a full PKCS#10 CSR: an AlgorithmIdentifier followed by the public key as
// a BIT STRING. encoding/asn1 handles the DER encoding; the only manual
// construction is building the inner RSAPublicKey SEQUENCE, since
// crypto/x509 has no public helper for a bare SPKI.
type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

type rsaPublicKeyASN1 struct {
	N *big.Int
	E int
}

// generateKeyPair creates a fresh RSA-2048 key pair (exponent 65537).
func generateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("capf: generating rsa key: %w", err)
	}
	return key, nil
}

// buildSPKI constructs the minimal DER SubjectPublicKeyInfo CUCM accepts in
// lieu of a full CSR.
func buildSPKI(pub *rsa.PublicKey) ([]byte, error) {
	innerKey, err := asn1.Marshal(rsaPublicKeyASN1{N: pub.N, E: pub.E})
	if err != nil {
		return nil, fmt.Errorf("capf: marshaling rsa public key: %w", err)
	}

	spki := subjectPublicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{
			Algorithm:  rsaPublicKeyOID,
			Parameters: asn1.NullRawValue,
		},
		PublicKey: asn1.BitString{Bytes: innerKey, BitLength: len(innerKey) * 8},
	}

	der, err := asn1.Marshal(spki)
	if err != nil {
		return nil, fmt.Errorf("capf: marshaling subject public key info: %w", err)
	}
	return der, nil
}
