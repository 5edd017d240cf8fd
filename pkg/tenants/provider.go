package tenants

import (
	"context"
	"errors"
)

// ErrNotFound distinguishes a missing record from a store failure. The gate
// maps the former to UnknownTenant and everything else to
// ResolverUnavailable (fail closed).
var ErrNotFound = errors.New("tenant not found")

// Provider is the consumed store contract. Implementations must be safe for
// concurrent readers; the only writers are the installation handshake
// (SaveClientInfo) and the uninstall teardown (DeleteClientInfo).
type Provider interface {
	GetClientInfo(ctx context.Context, clientKey string) (ClientInfo, error)
	SaveClientInfo(ctx context.Context, rec ClientInfo) error
	DeleteClientInfo(ctx context.Context, clientKey string) error
	AllClientInfos(ctx context.Context) ([]ClientInfo, error)
}
