// Package cryptox implements the cryptographic primitives the bundle
// builder needs: CSPRNG key/IV generation, RSA-OAEP(SHA-256) key wrapping,
// and streaming AES-256-GCM encryption that never materializes the
// plaintext or ciphertext in memory.
package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
)

const (
	// AESKeySize is the size, in bytes, of the AES-256 key used to seal a
	// bundle's payload.
	AESKeySize = 32
	// GCMIVSize is the size, in bytes, of the AES-GCM initialization
	// vector: 96 bits, as recommended by NIST SP 800-38D.
	GCMIVSize = 12
)

// GenerateAESKey returns 32 random bytes from a CSPRNG, suitable as an
// AES-256 key.
func GenerateAESKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}

// GenerateIV returns 12 random bytes from a CSPRNG, suitable as an
// AES-GCM initialization vector. Callers must never reuse an IV with the
// same key.
func GenerateIV() ([]byte, error) {
	return RandomBytes(GCMIVSize)
}

// RandomBytes returns n bytes read from a CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrCryptoFail, err)
	}
	return b, nil
}

var pemArmorReplacer = strings.NewReplacer(
	"-----BEGIN PUBLIC KEY-----", "",
	"-----END PUBLIC KEY-----", "",
)

var whitespaceReplacer = strings.NewReplacer(" ", "", "\t", "", "\r", "", "\n", "")

// RSAOAEPWrap parses pemStr as an SPKI-encoded RSA public key (accepting
// either standard PEM armor or a bare, whitespace-tolerant base64 blob
// between the BEGIN/END PUBLIC KEY markers) and encrypts data under
// RSA-OAEP using SHA-256 for both the hash and the MGF1 mask, with an
// empty label.
func RSAOAEPWrap(pemStr string, data []byte) ([]byte, error) {
	pub, err := parseRSAPublicKey(pemStr)
	if err != nil {
		return nil, err
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrCryptoFail, err)
	}
	return ciphertext, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	var der []byte

	if block, _ := pem.Decode([]byte(pemStr)); block != nil {
		der = block.Bytes
	} else {
		stripped := whitespaceReplacer.Replace(pemArmorReplacer.Replace(pemStr))

		decoded, err := base64.StdEncoding.DecodeString(stripped)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bundleerr.ErrBadKey, err)
		}
		der = decoded
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrBadKey, err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is not RSA", bundleerr.ErrBadKey)
	}
	return rsaPub, nil
}
