// Package qsh computes the canonical request hash that binds a signed token
// to one specific request. Signer and verifier must produce byte-identical
// canonical forms, so the rules here are deliberately rigid: uppercase
// method, normalized path, RFC 3986 percent-encoded query entries sorted by
// encoded key then value. The token parameter itself never participates.
// A request without query parameters still keeps its trailing separator
// ("METHOD&path&"), matching what signers on the wire actually hash.
package qsh

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// tokenParam is excluded from canonicalization; it carries the signature
// the hash is being checked against.
const tokenParam = "jwt"

// Canonical returns the canonical form "METHOD&path&sortedQuery".
// Malformed input normalizes deterministically; there is no error case.
func Canonical(method, path string, query url.Values) string {
	m := strings.ToUpper(method)

	p := path
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}

	type entry struct{ k, v string }
	var entries []entry
	for k, vs := range query {
		if k == tokenParam {
			continue
		}
		ek := encode(k)
		for _, v := range vs {
			entries = append(entries, entry{ek, encode(v)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].k != entries[j].k {
			return entries[i].k < entries[j].k
		}
		return entries[i].v < entries[j].v
	})
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.k + "=" + e.v
	}

	return m + "&" + p + "&" + strings.Join(parts, "&")
}

// Hash returns the lowercase hex SHA-256 digest of the canonical form.
func Hash(method, path string, query url.Values) string {
	sum := sha256.Sum256([]byte(Canonical(method, path, query)))
	return hex.EncodeToString(sum[:])
}

// encode percent-encodes per RFC 3986: unreserved characters stay, space
// becomes %20 (never '+'), everything else uses uppercase hex.
func encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
