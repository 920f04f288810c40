package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
)

// RegisterBilling mounts the payment-confirmed trigger. The billing system
// calls it once per confirmed subscription; repeats while a run is in
// flight are answered with 409 and are safe to retry later.
func (h *Handler) RegisterBilling(r chi.Router) {
	r.Post("/internal/billing/tenants/{tenantId}/provision", h.BillingProvision)
}

// BillingProvision implements POST /internal/billing/tenants/{tenantId}/provision
func (h *Handler) BillingProvision(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	job, err := h.orch.Start(r.Context(), id)
	if err != nil {
		writeProblem(w, problemForError(r, h.logger, err))
		return
	}

	logging.FromRequest(r, h.logger).Info("tenant provisioning triggered by billing", zap.String("tenant_id", id.String()))
	w.Header().Set("Location", "/api/v1/admin/tenants/"+id.String()+"/provision-status")
	writeJSON(w, http.StatusAccepted, toAPIJob(job))
}
