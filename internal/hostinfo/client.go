// Package hostinfo fetches a claimed host's self-published metadata. The
// installation handshake uses it as the out-of-band leg of the public-key
// round trip: whoever controls only the install payload cannot also control
// what the real host serves here.
package hostinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"
)

// WellKnownPath is the fixed metadata path on every remote host.
const WellKnownPath = "/.well-known/host-info"

type Client struct {
	http    *http.Client
	keyPath *jmespath.JMESPath
	log     *zap.SugaredLogger
}

// New builds a client. keyPath is the JMESPath expression locating the
// public key inside the metadata document ("publicKey" in the common case).
// The timeout is mandatory; a hung host must resolve to a rejection.
func New(timeout time.Duration, keyPath string, log *zap.SugaredLogger) (*Client, error) {
	compiled, err := jmespath.Compile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("hostinfo: key path %q: %w", keyPath, err)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		keyPath: compiled,
		log:     log,
	}, nil
}

// FetchPublicKey retrieves the host's published public key. Non-200 status,
// wrong content type, or a missing/empty key field are all fetch failures.
func (c *Client) FetchPublicKey(ctx context.Context, baseURL string) (string, error) {
	key, err := c.fetch(ctx, baseURL)
	if err != nil {
		c.log.Warnw("host-info fetch failed", "baseUrl", baseURL, "err", err)
		return "", err
	}
	return key, nil
}

func (c *Client) fetch(ctx context.Context, baseURL string) (string, error) {
	u := strings.TrimRight(baseURL, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("hostinfo: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("hostinfo: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hostinfo: %s returned %d", u, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "json") {
		return "", fmt.Errorf("hostinfo: %s returned content type %q", u, ct)
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("hostinfo: decode %s: %w", u, err)
	}
	val, err := c.keyPath.Search(doc)
	if err != nil {
		return "", fmt.Errorf("hostinfo: search %s: %w", u, err)
	}
	key, _ := val.(string)
	if key == "" {
		return "", fmt.Errorf("hostinfo: %s has no public key", u)
	}
	return key, nil
}
