// Package token encodes and decodes the symmetric signed tokens of the
// authentication protocol. Decoding is a two-phase affair: an unverified
// parse yields only the issuer (enough to look up the tenant secret), and a
// verified parse yields the full claim set. The two results are distinct
// types so unverified data cannot leak downstream.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"trustgate/pkg/autherr"
)

// Param is the query/body parameter a token may arrive in.
const Param = "jwt"

// qshClaim carries the canonical request hash.
const qshClaim = "qsh"

// Claims is the fixed claim set of a verified token. Optional claims are
// zero-valued when absent.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	QSH       string
}

// Unverified is the result of a signature-less parse. Its issuer is trusted
// for exactly one purpose: secret lookup.
type Unverified struct {
	Issuer string
}

var algorithms = map[string]jwa.SignatureAlgorithm{
	"HS256": jwa.HS256,
	"HS384": jwa.HS384,
	"HS512": jwa.HS512,
}

// Algorithms lists the supported algorithm names.
func Algorithms() []string {
	out := make([]string, 0, len(algorithms))
	for name := range algorithms {
		out = append(out, name)
	}
	return out
}

// Encode signs c with secret using the named algorithm.
func Encode(c Claims, secret []byte, alg string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token: empty secret")
	}
	sa, ok := algorithms[alg]
	if !ok {
		return "", fmt.Errorf("%w: %s", autherr.ErrUnsupportedAlgorithm, alg)
	}
	b := jwt.NewBuilder().
		Issuer(c.Issuer).
		IssuedAt(c.IssuedAt).
		Expiration(c.ExpiresAt)
	if c.Subject != "" {
		b = b.Subject(c.Subject)
	}
	if len(c.Audience) > 0 {
		b = b.Audience(c.Audience)
	}
	if c.QSH != "" {
		b = b.Claim(qshClaim, c.QSH)
	}
	t, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("token: build: %w", err)
	}
	signed, err := jwt.Sign(t, jwt.WithKey(sa, secret))
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return string(signed), nil
}

// DecodeUnverified parses raw without checking its signature. Callers must
// treat the result as attacker-controlled until a verified decode succeeds.
func DecodeUnverified(raw string) (Unverified, error) {
	if strings.Count(raw, ".") != 2 {
		return Unverified{}, autherr.ErrMalformedToken
	}
	t, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return Unverified{}, fmt.Errorf("%w: %v", autherr.ErrMalformedToken, err)
	}
	return Unverified{Issuer: t.Issuer()}, nil
}

// Decode verifies raw against secret and returns its claims. Expiry is not
// checked here; the gate owns that step.
func Decode(raw string, secret []byte) (Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return Claims{}, autherr.ErrMalformedToken
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil || len(msg.Signatures()) == 0 {
		return Claims{}, fmt.Errorf("%w: %v", autherr.ErrMalformedToken, err)
	}
	declared := msg.Signatures()[0].ProtectedHeaders().Algorithm()
	sa, ok := lookup(declared)
	if !ok {
		return Claims{}, fmt.Errorf("%w: %s", autherr.ErrUnsupportedAlgorithm, declared)
	}
	t, err := jwt.Parse([]byte(raw), jwt.WithKey(sa, secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", autherr.ErrInvalidSignature, err)
	}
	c := Claims{
		Issuer:    t.Issuer(),
		Subject:   t.Subject(),
		Audience:  t.Audience(),
		IssuedAt:  t.IssuedAt(),
		ExpiresAt: t.Expiration(),
	}
	if q, ok := t.Get(qshClaim); ok {
		c.QSH, _ = q.(string)
	}
	return c, nil
}

func lookup(alg jwa.SignatureAlgorithm) (jwa.SignatureAlgorithm, bool) {
	for _, sa := range algorithms {
		if sa == alg {
			return sa, true
		}
	}
	return "", false
}
