package problems

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + strings.ToLower(slug) }

// Write renders an RFC 7807 problem document. reason is the stable rejection
// code (also used as the title and type slug).
func Write(w http.ResponseWriter, status int, reason, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   Type(reason),
		"title":  reason,
		"status": status,
		"detail": detail,
	})
}
