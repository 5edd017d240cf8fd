package tenants

import "time"

// ClientInfo is the trust record of one tenant: exactly one live record per
// client key. It is created or overwritten by the installation handshake and
// read-only everywhere else.
type ClientInfo struct {
	ClientKey      string // issuer; unique per tenant
	SharedSecret   string // symmetric token secret
	BaseURL        string // base URL of the remote host
	PublicKey      string // asymmetric trust anchor (PEM or bare base64), optional
	OAuthClientID  string // optional OAuth-style client identifier
	Description    string
	ProductType    string
	PluginsVersion string
	InstalledAt    time.Time
	UpdatedAt      time.Time
}
