package signing

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ParsePublicKey accepts a PKIX public key either as a PEM block or as the
// bare base64 body (remote hosts commonly send keys without armor).
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(armor(s, "PUBLIC KEY")))
	if block == nil {
		return nil, errors.New("signing: no PEM block in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("signing: public key is not RSA")
	}
	return pub, nil
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8 RSA private keys in PEM.
func ParsePrivateKey(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(armor(s, "RSA PRIVATE KEY")))
	if block == nil {
		return nil, errors.New("signing: no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing: private key is not RSA")
	}
	return priv, nil
}

// SameKey compares two key strings ignoring armor and whitespace.
func SameKey(a, b string) bool {
	return stripKey(a) == stripKey(b)
}

func stripKey(s string) string {
	var out strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		out.WriteString(line)
	}
	return out.String()
}

func armor(s, kind string) string {
	if strings.Contains(s, "-----BEGIN") {
		return s
	}
	return "-----BEGIN " + kind + "-----\n" + strings.TrimSpace(s) + "\n-----END " + kind + "-----\n"
}

// MarshalPublicKey renders pub as a PKIX PEM block.
func MarshalPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
