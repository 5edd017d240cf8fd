// Package ctxtoken issues and verifies the short-lived context token: a
// symmetrically encrypted blob carrying just enough request context to
// revalidate an identity without re-running the full protocol.
package ctxtoken

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"trustgate/pkg/autherr"
)

const version = 0x01

// Context is the decrypted payload of a verified token.
type Context struct {
	Host         string
	User         string
	AllowRefresh bool
	IssuedAt     time.Time
}

type payload struct {
	Host         string `json:"h"`
	User         string `json:"u"`
	AllowRefresh bool   `json:"p"`
	IssuedAt     int64  `json:"iat"`
}

// Cipher seals context tokens with AES-GCM under a key derived from the
// process secret.
type Cipher struct {
	key [32]byte
}

func NewCipher(secret []byte) *Cipher {
	return &Cipher{key: sha256.Sum256(secret)}
}

// Create seals {host, user, refresh policy, now} into a token.
func (c *Cipher) Create(host, user string, allowRefresh bool) (string, error) {
	return c.seal(payload{Host: host, User: user, AllowRefresh: allowRefresh, IssuedAt: time.Now().Unix()})
}

// Verify decrypts tok and rejects it when issued-at + maxAge has passed.
func (c *Cipher) Verify(tok string, maxAge time.Duration) (Context, error) {
	p, err := c.open(tok)
	if err != nil {
		return Context{}, err
	}
	issued := time.Unix(p.IssuedAt, 0)
	if time.Now().After(issued.Add(maxAge)) {
		return Context{}, autherr.ErrContextTokenExpired
	}
	return Context{Host: p.Host, User: p.User, AllowRefresh: p.AllowRefresh, IssuedAt: issued}, nil
}

// Refresh re-mints tok with a fresh issued-at, but only when the original
// token's policy flag permits it.
func (c *Cipher) Refresh(tok string, maxAge time.Duration) (string, error) {
	ctx, err := c.Verify(tok, maxAge)
	if err != nil {
		return "", err
	}
	if !ctx.AllowRefresh {
		return "", autherr.ErrRefreshNotAllowed
	}
	return c.Create(ctx.Host, ctx.User, true)
}

func (c *Cipher) seal(p payload) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = version
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (c *Cipher) open(tok string) (payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return payload{}, fmt.Errorf("%w: %v", autherr.ErrMalformedContextToken, err)
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return payload{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return payload{}, err
	}
	if len(raw) < 1+gcm.NonceSize() || raw[0] != version {
		return payload{}, autherr.ErrMalformedContextToken
	}
	nonce, ct := raw[1:1+gcm.NonceSize()], raw[1+gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return payload{}, fmt.Errorf("%w: %v", autherr.ErrMalformedContextToken, err)
	}
	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return payload{}, fmt.Errorf("%w: %v", autherr.ErrMalformedContextToken, err)
	}
	return p, nil
}
