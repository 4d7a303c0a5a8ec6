package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Grant is the verified content of a signed token.
type Grant struct {
	Subject   string
	Resource  string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates HMAC-signed tokens binding a subject
// (session or export id) to a resource (center name or file path).
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a signed token referencing subject and resource.
func (s *SignedURLSigner) Generate(subject, resource string) (string, time.Time, error) {
	if subject == "" || resource == "" {
		return "", time.Time{}, fmt.Errorf("subject and resource required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	encSubject := base64.RawURLEncoding.EncodeToString([]byte(subject))
	encResource := base64.RawURLEncoding.EncodeToString([]byte(resource))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{encSubject, ts, encResource, s.sign(encSubject, ts, encResource)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded grant.
// When allowExpired is true, the timestamp check is skipped (used by cleanup routines).
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (Grant, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return Grant{}, fmt.Errorf("%w: format", ErrInvalidToken)
	}
	encSubject, ts, encResource, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(encSubject, ts, encResource)), []byte(signature)) {
		return Grant{}, fmt.Errorf("%w: signature", ErrInvalidToken)
	}
	subject, err := base64.RawURLEncoding.DecodeString(encSubject)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: subject", ErrInvalidToken)
	}
	resource, err := base64.RawURLEncoding.DecodeString(encResource)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: resource", ErrInvalidToken)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: timestamp", ErrInvalidToken)
	}
	grant := Grant{Subject: string(subject), Resource: string(resource), ExpiresAt: time.Unix(expUnix, 0)}
	if !allowExpired && s.now().After(grant.ExpiresAt) {
		return Grant{}, ErrTokenExpired
	}
	return grant, nil
}

func (s *SignedURLSigner) sign(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
