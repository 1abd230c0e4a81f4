// Package signature signs and verifies queue push requests.
//
// A signature is an HS256 JWT whose subject is the destination URL and whose
// "body" claim is the base64url SHA-256 digest of the raw request body. The
// verifier accepts tokens signed by either the current or the next key so
// signing keys can be rotated without downtime.
package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Header is the request header carrying the signature
const Header = "X-Queue-Signature"

// DefaultIssuer is used when no issuer is configured
const DefaultIssuer = "saas-jobs-relay"

var (
	// ErrMissingSignature is returned when a request carries no signature
	ErrMissingSignature = errors.New("missing signature")

	// ErrInvalidSignature is returned when a signature fails verification
	ErrInvalidSignature = errors.New("invalid signature")
)

// Claims is the JWT payload of a push signature
type Claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// BodyHash returns the digest carried in the body claim
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Signer produces push signatures with a single key
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. ttl bounds how long a signature stays valid.
func NewSigner(key, issuer string, ttl time.Duration) (*Signer, error) {
	if key == "" {
		return nil, fmt.Errorf("signing key is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Signer{
		key:    []byte(key),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Sign returns a token binding url and body
func (s *Signer) Sign(url string, body []byte) (string, error) {
	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   url,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		Body: BodyHash(body),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}

	return token, nil
}

// Verifier checks push signatures against the current and next keys
type Verifier struct {
	keys      [][]byte
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. nextKey may be empty when no rotation is in progress.
func NewVerifier(currentKey, nextKey, issuer string, clockSkew time.Duration) (*Verifier, error) {
	if currentKey == "" {
		return nil, fmt.Errorf("current signing key is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	keys := [][]byte{[]byte(currentKey)}
	if nextKey != "" && nextKey != currentKey {
		keys = append(keys, []byte(nextKey))
	}

	return &Verifier{
		keys:      keys,
		issuer:    issuer,
		clockSkew: clockSkew,
		now:       time.Now,
	}, nil
}

// Verify checks that token was issued for url and body. An empty url skips
// the subject check.
func (v *Verifier) Verify(token string, body []byte, url string) error {
	if token == "" {
		return ErrMissingSignature
	}

	var lastErr error
	for _, key := range v.keys {
		claims, err := v.parse(token, key, url)
		if err != nil {
			lastErr = err
			continue
		}

		if claims.Body != BodyHash(body) {
			return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
		}
		return nil
	}

	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) parse(token string, key []byte, url string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.now),
	}
	if url != "" {
		opts = append(opts, jwt.WithSubject(url))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
