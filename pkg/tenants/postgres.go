// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant store.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS client_infos (
  client_key text PRIMARY KEY,
  shared_secret text NOT NULL,
  base_url text NOT NULL,
  public_key text,
  oauth_client_id text,
  description text,
  product_type text,
  plugins_version text,
  installed_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
ALTER TABLE client_infos ADD COLUMN IF NOT EXISTS oauth_client_id text;
ALTER TABLE client_infos ADD COLUMN IF NOT EXISTS plugins_version text;
`)
	return err
}

// SeedFromEnv ingests initial tenant records (TENANT_SEED_JSON), same shape
// as the memory provider's seed.
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []struct {
		ClientKey     string `json:"clientKey"`
		SharedSecret  string `json:"sharedSecret"`
		BaseURL       string `json:"baseUrl"`
		PublicKey     string `json:"publicKey"`
		OAuthClientID string `json:"oauthClientId"`
	}
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := dbPool.Exec(ctx, `INSERT INTO client_infos(client_key,shared_secret,base_url,public_key,oauth_client_id)
		  VALUES ($1,$2,$3,$4,$5)
		  ON CONFLICT (client_key) DO UPDATE SET shared_secret=EXCLUDED.shared_secret,base_url=EXCLUDED.base_url,public_key=EXCLUDED.public_key,oauth_client_id=EXCLUDED.oauth_client_id,updated_at=NOW()`,
			e.ClientKey, e.SharedSecret, e.BaseURL, e.PublicKey, e.OAuthClientID)
		if err != nil {
			return fmt.Errorf("seed %s: %w", e.ClientKey, err)
		}
	}
	return nil
}

const selectColumns = `client_key,shared_secret,base_url,COALESCE(public_key,''),COALESCE(oauth_client_id,''),COALESCE(description,''),COALESCE(product_type,''),COALESCE(plugins_version,''),installed_at,updated_at`

func (p *pgProvider) GetClientInfo(ctx context.Context, clientKey string) (ClientInfo, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+selectColumns+` FROM client_infos WHERE client_key=$1`, clientKey)
	rec, err := scanClientInfo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClientInfo{}, ErrNotFound
	}
	if err != nil {
		return ClientInfo{}, fmt.Errorf("tenant store: %w", err)
	}
	return rec, nil
}

func (p *pgProvider) SaveClientInfo(ctx context.Context, rec ClientInfo) error {
	now := time.Now()
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = now
	}
	_, err := p.dbPool.Exec(ctx, `INSERT INTO client_infos(client_key,shared_secret,base_url,public_key,oauth_client_id,description,product_type,plugins_version,installed_at,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
	  ON CONFLICT (client_key) DO UPDATE SET shared_secret=EXCLUDED.shared_secret,base_url=EXCLUDED.base_url,public_key=EXCLUDED.public_key,oauth_client_id=EXCLUDED.oauth_client_id,description=EXCLUDED.description,product_type=EXCLUDED.product_type,plugins_version=EXCLUDED.plugins_version,updated_at=NOW()`,
		rec.ClientKey, rec.SharedSecret, rec.BaseURL, rec.PublicKey, rec.OAuthClientID,
		rec.Description, rec.ProductType, rec.PluginsVersion, rec.InstalledAt)
	if err != nil {
		return fmt.Errorf("tenant store: %w", err)
	}
	return nil
}

func (p *pgProvider) DeleteClientInfo(ctx context.Context, clientKey string) error {
	tag, err := p.dbPool.Exec(ctx, `DELETE FROM client_infos WHERE client_key=$1`, clientKey)
	if err != nil {
		return fmt.Errorf("tenant store: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgProvider) AllClientInfos(ctx context.Context) ([]ClientInfo, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+selectColumns+` FROM client_infos ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("tenant store: %w", err)
	}
	defer rows.Close()
	var out []ClientInfo
	for rows.Next() {
		rec, err := scanClientInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("tenant store: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanClientInfo(row pgx.Row) (ClientInfo, error) {
	var rec ClientInfo
	err := row.Scan(&rec.ClientKey, &rec.SharedSecret, &rec.BaseURL, &rec.PublicKey,
		&rec.OAuthClientID, &rec.Description, &rec.ProductType, &rec.PluginsVersion,
		&rec.InstalledAt, &rec.UpdatedAt)
	return rec, err
}
