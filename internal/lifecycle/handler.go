// internal/lifecycle/handler.go
package lifecycle

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trustgate/pkg/autherr"
	"trustgate/pkg/middleware"
	"trustgate/pkg/problems"
)

// Routes mounts the lifecycle endpoints. The installed path authenticates
// itself (asymmetric round trip inside the handshake); uninstalled goes
// through the regular gate so only the tenant's own secret can tear it down.
func Routes(r chi.Router, svc *Service, gate func(http.Handler) http.Handler, log *zap.SugaredLogger) {
	h := &handler{svc: svc, log: log}
	r.Post("/installed", h.installed)
	r.With(gate).Post("/uninstalled", h.uninstalled)
}

type handler struct {
	svc *Service
	log *zap.SugaredLogger
}

func (h *handler) installed(w http.ResponseWriter, r *http.Request) {
	var p InstallPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		problems.Write(w, http.StatusBadRequest, "BadPayload", "lifecycle payload must be a JSON object")
		return
	}
	if p.EventType != "" && p.EventType != EventInstalled {
		problems.Write(w, http.StatusBadRequest, "BadPayload", "unexpected eventType")
		return
	}
	if err := h.svc.Install(r.Context(), r, p); err != nil {
		if errors.Is(err, ErrBadPayload) {
			problems.Write(w, http.StatusBadRequest, "BadPayload", err.Error())
			return
		}
		if errors.Is(err, autherr.ErrKeySpoofingDetected) {
			// Audit marker: this is an active attack, not misconfiguration.
			h.log.Warnw("install rejected", "reason", autherr.Reason(err), "audit", true, "clientKey", p.ClientKey, "baseUrl", p.BaseURL)
		}
		middleware.Reject(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) uninstalled(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		middleware.Reject(w, r, h.log, autherr.ErrMissingToken)
		return
	}
	if err := h.svc.Uninstall(r.Context(), id.ClientKey); err != nil {
		middleware.Reject(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
