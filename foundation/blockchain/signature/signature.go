// Package signature implements the cryptographic primitives shared by
// every other blockchain subsystem: user id derivation from an RSA
// public key, SHA-256 digests, and PKCS1v15/SHA-256 signature
// verification.
//
// The wallet that holds private keys and produces signatures is an
// external collaborator (see spec.md's scope). This package only ever
// verifies; it signs only through SignMessage, which exists for tests,
// not for any core consensus path.
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strings"
)

const (
	pemPublicHeader = "RSA PUBLIC KEY"
	zeroHash        = "0"
)

// ZeroHash is the sentinel hash value used by the genesis block in
// place of a real SHA-256 digest.
const ZeroHash = zeroHash

// ErrInvalidUserID is returned when a user id cannot be decoded into a
// well-formed RSA public key.
var ErrInvalidUserID = errors.New("signature: user id is not a valid RSA public key")

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UserIDFromPublicKeyPEM converts a PEM-encoded PKCS1 RSA public key
// into a user id: the base64 body of the PEM block with its
// "-----BEGIN/END RSA PUBLIC KEY-----" armor and newlines removed.
func UserIDFromPublicKeyPEM(pemText string) (string, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return "", ErrInvalidUserID
	}

	if _, err := x509.ParsePKCS1PublicKey(block.Bytes); err != nil {
		return "", ErrInvalidUserID
	}

	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}

// PublicKeyFromUserID reconstructs the RSA public key a user id was
// derived from.
func PublicKeyFromUserID(userID string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(userID))
	if err != nil {
		return nil, ErrInvalidUserID
	}

	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, ErrInvalidUserID
	}

	return pub, nil
}

// PublicKeyToUserID is the inverse of PublicKeyFromUserID: it encodes
// an RSA public key directly to its user id form without going
// through PEM text.
func PublicKeyToUserID(pub *rsa.PublicKey) string {
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(pub))
}

// PublicKeyToPEM renders an RSA public key as PKCS1 PEM text, the
// inverse transform of UserIDFromPublicKeyPEM.
func PublicKeyToPEM(pub *rsa.PublicKey) string {
	block := &pem.Block{
		Type:  pemPublicHeader,
		Bytes: x509.MarshalPKCS1PublicKey(pub),
	}
	return string(pem.EncodeToMemory(block))
}

// VerifySignature reports whether sigBase64 is a valid PKCS1v15/
// SHA-256 signature over message under the public key encoded in
// userID.
func VerifySignature(userID string, message []byte, sigBase64 string) bool {
	pub, err := PublicKeyFromUserID(userID)
	if err != nil {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// SignMessage signs message with priv using PKCS1v15/SHA-256 and
// returns the base64-encoded signature. It is used by tests that need
// a signed transaction; no core consensus path calls it.
func SignMessage(priv *rsa.PrivateKey, message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PrivateKeyToPEM renders an RSA private key as PKCS1 PEM text.
func PrivateKeyToPEM(priv *rsa.PrivateKey) string {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}
	return string(pem.EncodeToMemory(block))
}

// PrivateKeyFromPEM parses a PKCS1 PEM-encoded RSA private key.
func PrivateKeyFromPEM(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, ErrInvalidUserID
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
