// Package lifecycle implements the installation handshake: the only path
// that may create or replace a tenant's trust record. Every step is a
// possible terminal rejection and nothing is persisted until all of them
// pass.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"trustgate/internal/hostinfo"
	"trustgate/pkg/autherr"
	"trustgate/pkg/signing"
	"trustgate/pkg/tenants"
	"trustgate/pkg/whitelist"
)

// ErrBadPayload marks a structurally invalid lifecycle payload (a caller
// error, not an authentication failure).
var ErrBadPayload = errors.New("invalid lifecycle payload")

// InstallPayload is the inbound "installed" event body. Everything in it is
// attacker-supplied until the handshake completes.
type InstallPayload struct {
	EventType      string `json:"eventType"`
	ClientKey      string `json:"clientKey"`
	PublicKey      string `json:"publicKey"`
	SharedSecret   string `json:"sharedSecret"`
	BaseURL        string `json:"baseUrl"`
	ProductType    string `json:"productType"`
	Description    string `json:"description"`
	PluginsVersion string `json:"pluginsVersion"`
	OAuthClientID  string `json:"oauthClientId"`
}

type Service struct {
	prov     tenants.Provider
	wl       whitelist.Whitelist
	hostinfo *hostinfo.Client
	verifier *signing.Verifier
	events   *Events
	log      *zap.SugaredLogger
}

func NewService(prov tenants.Provider, wl whitelist.Whitelist, hi *hostinfo.Client, verifier *signing.Verifier, log *zap.SugaredLogger) *Service {
	return &Service{prov: prov, wl: wl, hostinfo: hi, verifier: verifier, events: &Events{}, log: log}
}

func (s *Service) Events() *Events { return s.events }

// Install runs the handshake for r carrying payload p. The claimed public
// key authenticates this request only; trust in the key itself comes from
// the out-of-band fetch against the claimed host.
func (s *Service) Install(ctx context.Context, r *http.Request, p InstallPayload) error {
	if p.BaseURL == "" {
		return fmt.Errorf("%w: missing baseUrl", ErrBadPayload)
	}
	if p.ClientKey == "" {
		return fmt.Errorf("%w: missing clientKey", ErrBadPayload)
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: unparsable baseUrl", ErrBadPayload)
	}

	// First line of defense only: baseUrl is still attacker-supplied here.
	if !s.wl.Match(u.Hostname()) {
		return fmt.Errorf("%w: %s", autherr.ErrHostNotWhitelisted, u.Hostname())
	}

	if p.PublicKey == "" {
		return fmt.Errorf("%w: missing publicKey", ErrBadPayload)
	}
	pub, err := signing.ParsePublicKey(p.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	// Proves possession of the matching private key, not that the key
	// belongs to the claimed host.
	if err := s.verifier.VerifyRequest(r, pub, time.Now()); err != nil {
		return err
	}

	served, err := s.hostinfo.FetchPublicKey(ctx, p.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", autherr.ErrHostInfoUnreachable, err)
	}
	if !signing.SameKey(served, p.PublicKey) {
		// Active attack signal: the payload's key is not the one the real
		// host publishes. Logged for audit by the handler.
		return fmt.Errorf("%w: clientKey=%s", autherr.ErrKeySpoofingDetected, p.ClientKey)
	}

	now := time.Now()
	rec := tenants.ClientInfo{
		ClientKey:      p.ClientKey,
		SharedSecret:   p.SharedSecret,
		BaseURL:        p.BaseURL,
		PublicKey:      p.PublicKey,
		OAuthClientID:  p.OAuthClientID,
		Description:    p.Description,
		ProductType:    p.ProductType,
		PluginsVersion: p.PluginsVersion,
		InstalledAt:    now,
		UpdatedAt:      now,
	}
	if old, err := s.prov.GetClientInfo(ctx, p.ClientKey); err == nil {
		rec.InstalledAt = old.InstalledAt
	}
	if err := s.prov.SaveClientInfo(ctx, rec); err != nil {
		return errors.Join(autherr.ErrResolverUnavailable, err)
	}

	s.log.Infow("tenant installed", "clientKey", p.ClientKey, "baseUrl", p.BaseURL)
	s.events.emit(Event{Kind: EventInstalled, ClientKey: p.ClientKey, Record: rec})
	return nil
}

// Uninstall removes the trust record. The caller must already have
// authenticated the request against the stored record.
func (s *Service) Uninstall(ctx context.Context, clientKey string) error {
	rec, err := s.prov.GetClientInfo(ctx, clientKey)
	if errors.Is(err, tenants.ErrNotFound) {
		return autherr.ErrUnknownTenant
	}
	if err != nil {
		return errors.Join(autherr.ErrResolverUnavailable, err)
	}
	if err := s.prov.DeleteClientInfo(ctx, clientKey); err != nil {
		return errors.Join(autherr.ErrResolverUnavailable, err)
	}
	s.log.Infow("tenant uninstalled", "clientKey", clientKey)
	s.events.emit(Event{Kind: EventUninstalled, ClientKey: clientKey, Record: rec})
	return nil
}
