package minter

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Keys holds the two server-side secrets of the token scheme.
// hashKey salts the one-way lookup hash stored in the database;
// issuerKey derives deterministic owner-pass codes so a pass can be
// re-presented without ever persisting the code itself.
type Keys struct {
	hashKey   []byte
	issuerKey []byte
}

func NewKeys(hashKey, issuerKey string) Keys {
	return Keys{hashKey: []byte(hashKey), issuerKey: []byte(issuerKey)}
}

// RandomCode returns a fresh 256-bit opaque code for visitor passes.
func RandomCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// OwnerCode derives the stable opaque code for an owner entitlement
// scope. The same scope always yields the same code, which lets
// resolveOwnerTokens return a QR that survives re-resolution, while the
// code stays unguessable without the issuer key.
func (k Keys) OwnerCode(userId, compoundId, category, subtype, seasonId string) string {
	scope := strings.Join([]string{userId, compoundId, category, subtype, seasonId}, "|")
	mac := hmac.New(sha256.New, k.issuerKey)
	mac.Write([]byte(scope))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Hash is the salted one-way lookup hash of an opaque code. It is the
// only representation of the code that ever reaches storage.
func (k Keys) Hash(code string) string {
	mac := hmac.New(sha256.New, k.hashKey)
	mac.Write([]byte(code))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
