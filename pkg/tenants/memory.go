// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memProvider struct {
	log *zap.SugaredLogger
	mu  sync.RWMutex
	byKey map[string]ClientInfo
}

// NewMemoryProvider returns an empty in-process store.
func NewMemoryProvider(log *zap.SugaredLogger) Provider {
	return &memProvider{log: log, byKey: map[string]ClientInfo{}}
}

// NewMemoryProviderFromEnv seeds the store from TENANT_SEED_JSON:
// [{"clientKey":"...","sharedSecret":"...","baseUrl":"...","publicKey":"..."}]
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	p := &memProvider{log: log, byKey: map[string]ClientInfo{}}
	seed := os.Getenv("TENANT_SEED_JSON")
	if seed == "" {
		return p
	}
	var entries []struct {
		ClientKey     string `json:"clientKey"`
		SharedSecret  string `json:"sharedSecret"`
		BaseURL       string `json:"baseUrl"`
		PublicKey     string `json:"publicKey"`
		OAuthClientID string `json:"oauthClientId"`
	}
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		log.Warnw("tenant seed parse", "err", err)
		return p
	}
	now := time.Now()
	for _, e := range entries {
		p.byKey[e.ClientKey] = ClientInfo{
			ClientKey: e.ClientKey, SharedSecret: e.SharedSecret, BaseURL: e.BaseURL,
			PublicKey: e.PublicKey, OAuthClientID: e.OAuthClientID,
			InstalledAt: now, UpdatedAt: now,
		}
	}
	return p
}

func (m *memProvider) GetClientInfo(_ context.Context, clientKey string) (ClientInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.byKey[clientKey]; ok {
		return rec, nil
	}
	return ClientInfo{}, ErrNotFound
}

func (m *memProvider) SaveClientInfo(_ context.Context, rec ClientInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[rec.ClientKey] = rec
	return nil
}

func (m *memProvider) DeleteClientInfo(_ context.Context, clientKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[clientKey]; !ok {
		return ErrNotFound
	}
	delete(m.byKey, clientKey)
	return nil
}

func (m *memProvider) AllClientInfos(_ context.Context) ([]ClientInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClientInfo, 0, len(m.byKey))
	for _, rec := range m.byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientKey < out[j].ClientKey })
	return out, nil
}
