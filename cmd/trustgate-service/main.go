// cmd/trustgate-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustgate/internal/hostinfo"
	"trustgate/internal/lifecycle"
	"trustgate/pkg/config"
	"trustgate/pkg/ctxtoken"
	"trustgate/pkg/db"
	"trustgate/pkg/logger"
	"trustgate/pkg/middleware"
	"trustgate/pkg/problems"
	"trustgate/pkg/signing"
	"trustgate/pkg/tenants"
	"trustgate/pkg/whitelist"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := tenants.SeedFromEnv(context.Background(), pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
	}

	wl, err := whitelist.Compile(cfg.InstallWhitelist)
	if err != nil {
		log.Fatalw("whitelist", "err", err)
	}
	if len(cfg.InstallWhitelist) == 0 {
		log.Warnw("install whitelist empty, every install will be rejected")
	} else {
		log.Infow("install whitelist", "patterns", wl.Patterns())
	}

	var nonces signing.NonceCache
	if rdb != nil {
		nonces = signing.NewRedisNonceCache(rdb, cfg.SignatureWindow)
	} else {
		nonces = signing.NewMemoryNonceCache(cfg.SignatureWindow)
	}
	verifier := signing.NewVerifier(nonces, cfg.SignatureWindow)

	hi, err := hostinfo.New(cfg.HostInfoTimeout, cfg.HostInfoKeyPath, log)
	if err != nil {
		log.Fatalw("hostinfo", "err", err)
	}

	var cipher *ctxtoken.Cipher
	if cfg.ContextSecret != "" {
		cipher = ctxtoken.NewCipher([]byte(cfg.ContextSecret))
	} else {
		log.Warnw("CONTEXT_TOKEN_SECRET not set, context tokens disabled")
	}

	svc := lifecycle.NewService(prov, wl, hi, verifier, log)
	svc.Events().Subscribe(func(ev lifecycle.Event) {
		log.Infow("lifecycle event", "kind", ev.Kind, "clientKey", ev.ClientKey)
	})

	gate := middleware.Auth(cfg, prov, cipher, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing(cfg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get(hostinfo.WellKnownPath, serveHostInfo(cfg))

	lifecycle.Routes(r, svc, gate, log)

	// Refresh authenticates with the context token itself, not the gate.
	r.Post("/v1/context/refresh", refreshContext(cfg, cipher, log))

	r.Group(func(pr chi.Router) {
		pr.Use(gate)
		pr.Get("/v1/whoami", whoami)
	})

	if cfg.AdminToken != "" {
		r.Get("/internal/tenants", listTenants(cfg, prov, log))
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("trustgate-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("trustgate-service stopped")
}

// serveHostInfo publishes this gateway's own metadata document, the same
// shape we expect remote hosts to serve.
func serveHostInfo(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"key":       "trustgate",
			"baseUrl":   cfg.BaseURL,
			"publicKey": cfg.ServicePublicKey,
		})
	}
}

func whoami(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "MissingToken", "no authenticated identity")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"clientKey": id.ClientKey,
		"subject":   id.Subject,
		"baseUrl":   id.Tenant.BaseURL,
	})
}

func refreshContext(cfg config.Config, cipher *ctxtoken.Cipher, log logger.Sugared) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cipher == nil {
			problems.Write(w, http.StatusServiceUnavailable, "ContextDisabled", "context tokens are not configured")
			return
		}
		tok := r.Header.Get(middleware.ContextTokenHeader)
		if tok == "" {
			problems.Write(w, http.StatusUnauthorized, "MissingToken", "no context token presented")
			return
		}
		refreshed, err := cipher.Refresh(tok, cfg.ContextMaxAge)
		if err != nil {
			middleware.Reject(w, r, log, err)
			return
		}
		w.Header().Set(middleware.ContextTokenHeader, refreshed)
		w.WriteHeader(http.StatusNoContent)
	}
}

func listTenants(cfg config.Config, prov tenants.Provider, log logger.Sugared) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+cfg.AdminToken {
			problems.Write(w, http.StatusUnauthorized, "MissingToken", "admin token required")
			return
		}
		all, err := prov.AllClientInfos(r.Context())
		if err != nil {
			log.Errorw("tenant listing", "err", err)
			problems.Write(w, http.StatusInternalServerError, "ResolverUnavailable", "tenant store unavailable")
			return
		}
		type entry struct {
			ClientKey   string    `json:"clientKey"`
			BaseURL     string    `json:"baseUrl"`
			ProductType string    `json:"productType,omitempty"`
			InstalledAt time.Time `json:"installedAt"`
		}
		out := make([]entry, len(all))
		for i, rec := range all {
			// Secrets never leave the store boundary.
			out[i] = entry{ClientKey: rec.ClientKey, BaseURL: rec.BaseURL, ProductType: rec.ProductType, InstalledAt: rec.InstalledAt}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
