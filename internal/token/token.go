// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package token issues and verifies HMAC-SHA256 signed bearer tokens in the
// compact JWT form header.payload.signature.
//
// The signature over the first two segments is checked before any part of
// the payload is decoded, so claims from a token that fails verification are
// never trusted.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretSize is the minimum signing secret length in bytes (256 bits).
const MinSecretSize = 32

// Verification errors. Use errors.Is to classify a Verify failure.
var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrMalformed        = errors.New("token is malformed")
)

// reservedClaims are set by Issue and cannot be supplied as extra claims.
var reservedClaims = map[string]struct{}{
	"sub": {}, "iat": {}, "exp": {}, "nbf": {}, "iss": {}, "aud": {}, "jti": {},
}

var signatureEncoding = base64.RawURLEncoding.Strict()

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string
	Issuer    string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]string
}

// Get returns a claim by name. Registered string claims (sub, iss, jti) are
// included alongside the extra claims.
func (c *Claims) Get(key string) (string, bool) {
	switch key {
	case "sub":
		return c.Subject, c.Subject != ""
	case "iss":
		return c.Issuer, c.Issuer != ""
	case "jti":
		return c.ID, c.ID != ""
	}
	v, ok := c.Extra[key]
	return v, ok
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for iat/exp and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIssuer stamps tokens with iss and requires it on verification.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// Service signs and verifies tokens with a single static secret.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// New creates a Service. secret must be at least MinSecretSize bytes.
func New(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) < MinSecretSize {
		return nil, oops.Code("TOKEN_INVALID_SECRET").
			With("secret_len", len(secret)).
			Errorf("signing secret must be at least %d bytes", MinSecretSize)
	}

	s := &Service{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	s.parser = jwt.NewParser(parserOpts...)

	return s, nil
}

// Issue signs a token for subject that expires ttl from now.
func (s *Service) Issue(subject string, claims map[string]string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", oops.Code("TOKEN_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if ttl < 0 {
		return "", oops.Code("TOKEN_INVALID_TTL").With("ttl", ttl).Errorf("ttl cannot be negative")
	}

	now := s.now()
	payload := jwt.MapClaims{
		"sub": subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
		"jti": ulid.Make().String(),
	}
	if s.issuer != "" {
		payload["iss"] = s.issuer
	}
	for k, v := range claims {
		if _, reserved := reservedClaims[k]; reserved {
			return "", oops.Code("TOKEN_RESERVED_CLAIM").With("claim", k).Errorf("claim %q is reserved", k)
		}
		payload[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns its claims.
// Errors wrap ErrMalformed, ErrInvalidSignature or ErrExpired.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, malformed("token must have 3 segments, got %d", len(parts))
	}

	sig, err := signatureEncoding.DecodeString(parts[2])
	if err != nil || len(sig) == 0 {
		return nil, malformed("signature segment is not base64url")
	}

	// Constant-time HMAC comparison over header.payload, before the payload is trusted.
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, s.secret); err != nil {
		return nil, oops.Code("TOKEN_INVALID_SIGNATURE").Wrap(ErrInvalidSignature)
	}

	parsed, err := s.parser.ParseWithClaims(tokenString, jwt.MapClaims{}, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(ErrExpired)
		}
		return nil, malformed("%s", err.Error())
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, malformed("unexpected claims type %T", parsed.Claims)
	}
	return claimsFromMap(mc)
}

func (s *Service) keyFunc(*jwt.Token) (any, error) {
	return s.secret, nil
}

// ExtractUnverifiedClaim reads a string claim from a token WITHOUT checking
// its signature or expiry. The value is attacker-controlled; use it only for
// diagnostics. Authorization decisions must use the Claims returned by Verify.
func ExtractUnverifiedClaim(tokenString, key string) (string, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", false
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	v, ok := mc[key].(string)
	return v, ok
}

func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, malformed("missing subject")
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, malformed("missing issued-at")
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, malformed("missing expiry")
	}
	iss, err := mc.GetIssuer()
	if err != nil {
		return nil, malformed("issuer is not a string")
	}

	c := &Claims{
		Subject:   sub,
		Issuer:    iss,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		Extra:     make(map[string]string, len(mc)),
	}
	if jti, ok := mc["jti"].(string); ok {
		c.ID = jti
	}
	for k, v := range mc {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, malformed("claim %q is not a string", k)
		}
		c.Extra[k] = str
	}
	return c, nil
}

func malformed(format string, args ...any) error {
	return oops.Code("TOKEN_MALFORMED").
		With("reason", fmt.Sprintf(format, args...)).
		Wrap(ErrMalformed)
}
