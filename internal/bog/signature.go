package bog

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

//go:embed bog_public_key.pem
var defaultPublicKey []byte

// Verifier checks RSA-SHA256 callback signatures against the gateway key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM encoded public key. An empty input selects the
// embedded gateway key.
func NewVerifier(pemData []byte) (*Verifier, error) {
	if len(pemData) == 0 {
		pemData = defaultPublicKey
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("NewVerifier: no PEM block found")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		rsaPub, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("NewVerifier: parse key: %w", err)
		}
		return &Verifier{key: rsaPub}, nil
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("NewVerifier: key is not RSA")
	}
	return &Verifier{key: rsaPub}, nil
}

// Verify reports whether signature is a valid signature of the exact body
// bytes. Malformed input counts as a failed verification.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if v == nil || v.key == nil || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(body)
	return rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig) == nil
}

// Sign produces the signature the gateway would send for body. Used by the
// local mock provider and tests.
func Sign(key *rsa.PrivateKey, body []byte) (string, error) {
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("Sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// EncodePublicKey renders key as a PKIX PEM block.
func EncodePublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("EncodePublicKey: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
