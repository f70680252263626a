// Package adaptertoken implements an optional bearer-token mechanism for adapters
// that relay over an HTTP callback instead of holding a live duplex socket. It never
// gates the browser-facing cookie auth (spec §4.7); this is strictly an
// internal, adapter-process-to-bridge concern.
package adaptertoken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// HMACIssuer generates and validates short-lived, HMAC-signed callback tokens of
// the form "{adapterID}:{unixTimestamp}:{hmacHex}", grounded on the teacher's
// runtime-token scheme.
type HMACIssuer struct {
	secret   string
	lifetime time.Duration
}

// NewHMACIssuer constructs an issuer with the given shared secret and token
// lifetime (default 1 hour if zero).
func NewHMACIssuer(secret string, lifetime time.Duration) *HMACIssuer {
	if lifetime == 0 {
		lifetime = time.Hour
	}
	return &HMACIssuer{secret: secret, lifetime: lifetime}
}

// Generate returns a fresh token for the given adapter id.
func (i *HMACIssuer) Generate(adapterID string) string {
	ts := time.Now().Unix()
	mac := i.sign(adapterID, ts)
	return fmt.Sprintf("%s:%d:%s", adapterID, ts, mac)
}

func (i *HMACIssuer) sign(adapterID string, ts int64) string {
	h := hmac.New(sha256.New, []byte(i.secret))
	h.Write([]byte(fmt.Sprintf("%s:%d", adapterID, ts)))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks signature and lifetime, allowing a one-minute clock-skew
// tolerance into the future.
func (i *HMACIssuer) Validate(token string) (adapterID string, ok bool) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	adapterID, tsStr, mac := parts[0], parts[1], parts[2]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", false
	}
	want := i.sign(adapterID, ts)
	if !hmac.Equal([]byte(mac), []byte(want)) {
		return "", false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > i.lifetime || age < -time.Minute {
		return "", false
	}
	return adapterID, true
}

// JWKSValidator validates externally-issued JWTs (e.g. from a managed identity
// provider fronting an adapter process) against a remote JWKS endpoint.
type JWKSValidator struct {
	kf jwt.Keyfunc
}

// NewJWKSValidator fetches and caches the JWKS at jwksURL.
func NewJWKSValidator(ctx context.Context, jwksURL string) (*JWKSValidator, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return &JWKSValidator{kf: k.Keyfunc}, nil
}

// Validate parses and verifies tokenString, returning its subject claim.
func (v *JWKSValidator) Validate(tokenString string) (subject string, err error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, v.kf)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}
