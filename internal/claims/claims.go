// Package claims resolves upload parameters from a bearer token's payload
// without verifying its signature: the token authenticates the caller to
// the ingestion service, which is the party that actually checks it: this
// tool only needs to read the claims it carries.
package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
)

const (
	ClaimPublicKey    = "x-public-key"
	ClaimUploadServer = "x-upload-server"
	ClaimUUIDProject  = "x-uuid-project"
	ClaimChallenge    = "x-challenge"
	ClaimExpiry       = "exp"
)

// PlaintextUploadUUID is the project identity written into a bundle when no
// UUID is available (skip-key mode, where ResolveUUID returns none and any
// operator override is not used).
const PlaintextUploadUUID = "plaintext_upload"

// Claims is the parsed, immutable payload of a bearer token.
type Claims struct {
	raw   jwt.MapClaims
	token string
}

// ResolveToken treats arg as a path to an existing regular file if one
// exists there; if so, its UTF-8 contents (trimmed of surrounding ASCII
// whitespace) are the token. Otherwise arg is the token itself. The result
// is parsed immediately, so any malformed token is reported here as
// ErrInvalidToken.
func ResolveToken(arg string) (*Claims, error) {
	token := arg
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bundleerr.ErrInvalidToken, err)
		}
		token = strings.TrimSpace(string(data))
	}

	raw, err := decodePayload(token)
	if err != nil {
		return nil, err
	}

	return &Claims{raw: raw, token: token}, nil
}

// Token returns the exact bearer token string resolved by ResolveToken,
// suitable for the Authorization header.
func (c *Claims) Token() string {
	return c.token
}

// decodePayload splits token on '.', requires at least two segments,
// base64url-decodes (padding tolerant) the second, and parses it as a JSON
// object. It never checks the token's signature.
//
// A well-formed three-segment token is handed to golang-jwt's unverified
// parser first, since that is the shape every real caller produces. A
// two-segment token, or a three-segment token whose header golang-jwt
// rejects for reasons unrelated to the payload (unknown alg, non-JSON
// header), falls back to decoding the payload segment directly — the
// payload is all this resolver ever needs.
func decodePayload(token string) (jwt.MapClaims, error) {
	segments := strings.Split(token, ".")
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 dot-separated segments, got %d", bundleerr.ErrInvalidToken, len(segments))
	}

	if len(segments) == 3 {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
			return claims, nil
		}
	}

	payload, err := decodeBase64URL(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrInvalidToken, err)
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrInvalidToken, err)
	}
	return claims, nil
}

// decodeBase64URL decodes s as base64url, tolerating missing padding.
func decodeBase64URL(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

// StringClaim returns the named claim's value iff present and textual.
func (c *Claims) StringClaim(name string) (string, bool) {
	v, ok := c.raw[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return s, true
}

// LongClaim returns the named claim's value iff present and numeric, else
// -1.
func (c *Claims) LongClaim(name string) int64 {
	v, ok := c.raw[name]
	if !ok {
		return -1
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return -1
	}
}

// ResolvePublicKey returns the x-public-key claim, unless skipKey is set (in
// which case no key is used at all).
func (c *Claims) ResolvePublicKey(skipKey bool) (string, error) {
	if skipKey {
		return "", nil
	}
	pem, ok := c.StringClaim(ClaimPublicKey)
	if !ok {
		return "", bundleerr.NewMissingClaim(ClaimPublicKey)
	}
	return pem, nil
}

// ResolveServer returns the x-upload-server claim. Callers should only
// invoke this when an upload will actually occur.
func (c *Claims) ResolveServer() (string, error) {
	server, ok := c.StringClaim(ClaimUploadServer)
	if !ok {
		return "", bundleerr.NewMissingClaim(ClaimUploadServer)
	}
	return server, nil
}

// ResolveUUID returns the project UUID: absent when skipKey is set, else the
// x-uuid-project claim if present, else operatorOverride. Missing both is an
// error.
func (c *Claims) ResolveUUID(skipKey bool, operatorOverride string) (string, error) {
	if skipKey {
		return "", nil
	}
	if uuid, ok := c.StringClaim(ClaimUUIDProject); ok {
		return uuid, nil
	}
	if operatorOverride != "" {
		return operatorOverride, nil
	}
	return "", bundleerr.NewMissingClaim(ClaimUUIDProject)
}

// ResolveChallenge returns the x-challenge claim if present.
func (c *Claims) ResolveChallenge() (string, bool) {
	return c.StringClaim(ClaimChallenge)
}

// NotExpired requires the exp claim to be present, numeric, positive, and
// strictly greater than the current wall-clock unix time. Callers should
// only invoke this when an upload will actually occur.
func (c *Claims) NotExpired(now time.Time) error {
	exp := c.LongClaim(ClaimExpiry)
	if exp <= 0 {
		return bundleerr.ErrExpInvalid
	}
	if exp <= now.Unix() {
		return bundleerr.ErrExpInvalid
	}
	return nil
}
